package database

import (
	"time"

	"enviroflow/internal/sensor"
)

// Controller brands with a working adapter. csv_upload rows exist so the
// dashboard can show uploaded data, but they are never polled.
const (
	BrandACInfinity = "ac_infinity"
	BrandInkbird    = "inkbird"
	BrandEcowitt    = "ecowitt"
	BrandCSVUpload  = "csv_upload"
)

// Controller statuses.
const (
	StatusOnline       = "online"
	StatusOffline      = "offline"
	StatusError        = "error"
	StatusInitializing = "initializing"
)

// Controller models the persisted state of one physical or cloud device.
// Credentials are never serialized.
type Controller struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Brand       string     `json:"brand"`
	ExternalID  string     `json:"external_id"`
	Name        string     `json:"name"`
	Credentials string     `json:"-"`
	Status      string     `json:"status"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// UpsertControllerParams exposes the mutable fields on the controllers table.
// Nil pointer fields are left untouched.
type UpsertControllerParams struct {
	ID          string
	UserID      *string
	Brand       *string
	ExternalID  *string
	Name        *string
	Credentials *string
	Status      *string
}

// ControllerStatusUpdate is a partial update of a controller's poll state.
// Nil fields are left untouched; a non-nil empty LastError clears the column.
type ControllerStatusUpdate struct {
	Status    *string
	LastSeen  *time.Time
	LastError *string
}

// Reading is one persisted sensor measurement. Rows are append-only and
// superseded only by newer rows with later timestamps.
type Reading struct {
	ID           int64       `json:"id"`
	ControllerID string      `json:"controller_id"`
	Port         int         `json:"port"`
	Type         sensor.Type `json:"type"`
	Value        float64     `json:"value"`
	Unit         string      `json:"unit"`
	RecordedAt   time.Time   `json:"recorded_at"`
	Stale        bool        `json:"stale"`
}

// Port models one device port's current configuration on a controller,
// unique per (controller id, port).
type Port struct {
	ControllerID    string    `json:"controller_id"`
	Port            int       `json:"port"`
	Name            string    `json:"name"`
	DeviceType      string    `json:"device_type"`
	Connected       bool      `json:"connected"`
	On              bool      `json:"on"`
	PowerLevel      int       `json:"power_level"`
	ModeID          *int      `json:"mode_id,omitempty"`
	SupportsDimming bool      `json:"supports_dimming"`
	Online          bool      `json:"online"`
	Raw             string    `json:"-"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ModeConfig is one automation-mode configuration attached to a controller
// port, unique per (controller id, port, mode id).
type ModeConfig struct {
	ControllerID string
	Port         int
	ModeID       int
	Name         string
	TempHighF    *float64
	TempLowF     *float64
	HumidityHigh *float64
	HumidityLow  *float64
	VPDHigh      *float64
	VPDLow       *float64
	Transition   *float64
	Buffer       *float64
	TimerSec     *int
	CycleOnSec   *int
	CycleOffSec  *int
	SchedStart   *string
	SchedEnd     *string
	Raw          string
	UpdatedAt    time.Time
}

// Capture is an append-only audit record of one raw adapter response.
type Capture struct {
	ID           string
	ControllerID string
	Endpoint     string
	ContentHash  string
	Request      string
	Response     string
	LatencyMS    int64
	Success      bool
	CapturedAt   time.Time
}
