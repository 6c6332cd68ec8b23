// Package poll implements the per-controller polling pipeline: credential
// resolution, adapter read, validation, VPD derivation, persistence, and
// graceful degradation to cached data when a live read fails.
package poll

import "time"

// Status is the overall outcome of one poll invocation.
type Status string

const (
	// StatusSuccess: live data was read, validated, and persisted.
	StatusSuccess Status = "success"
	// StatusFailed: no usable data; the caller should surface it.
	StatusFailed Status = "failed"
	// StatusSkipped: the controller is not pollable by design.
	StatusSkipped Status = "skipped"
	// StatusDegraded: cached data was served in place of a live read.
	StatusDegraded Status = "degraded"
)

// Tier classifies how stale degraded data is.
type Tier string

const (
	TierFresh        Tier = "fresh"
	TierRecentCache  Tier = "recent_cache"
	TierInterpolated Tier = "interpolated"
	TierLastKnown    Tier = "last_known"
)

// Tier thresholds, measured against the stalest sensor surfaced.
const (
	tierFreshMax        = 5 * time.Minute
	tierRecentCacheMax  = 15 * time.Minute
	tierInterpolatedMax = 60 * time.Minute
)

// classifyAge maps a data age to its degradation tier.
func classifyAge(age time.Duration) Tier {
	switch {
	case age < tierFreshMax:
		return TierFresh
	case age < tierRecentCacheMax:
		return TierRecentCache
	case age < tierInterpolatedMax:
		return TierInterpolated
	default:
		return TierLastKnown
	}
}

// Result is the transient return value of one poll invocation.
type Result struct {
	ControllerID   string   `json:"controller_id"`
	ControllerName string   `json:"controller_name"`
	Brand          string   `json:"brand"`
	Status         Status   `json:"status"`
	Readings       int      `json:"readings"`
	Ports          int      `json:"ports"`
	Modes          int      `json:"modes"`
	Tier           Tier     `json:"degradation_tier,omitempty"`
	Error          string   `json:"error,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}
