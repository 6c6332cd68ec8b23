// Package adapter translates third-party controller cloud APIs into the
// uniform sensor/port/mode shapes consumed by the poll pipeline.
package adapter

import (
	"context"
	"encoding/json"
	"time"

	"enviroflow/internal/creds"
	"enviroflow/internal/sensor"
)

// Adapter is the base contract every brand implements: authenticate and hand
// back a session bound to one device.
type Adapter interface {
	// Connect authenticates against the brand's cloud and binds a session to
	// the device identified by externalID. controllerID keys the token cache
	// so concurrent polls for different controllers never share tokens.
	Connect(ctx context.Context, controllerID string, credentials creds.Credentials, externalID string) (Session, error)
}

// Session is a connected view of one device.
type Session interface {
	ReadSensors(ctx context.Context) ([]sensor.Reading, error)
	Disconnect(ctx context.Context) error
}

// PortReader is the optional extended capability for brands whose API
// surfaces port and automation-mode detail in one call. The orchestrator
// checks for it with a type assertion instead of branching on brand.
type PortReader interface {
	ReadSensorsAndPorts(ctx context.Context) (RichReadings, error)
}

// PortState is one device port's configuration as reported by the brand API.
type PortState struct {
	Port            int
	Name            string
	DeviceType      string
	Connected       bool
	On              bool
	PowerLevel      int
	ModeID          *int
	SupportsDimming bool
	Online          bool
	Raw             json.RawMessage
}

// ModeState is one automation-mode configuration attached to a port.
type ModeState struct {
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
	Raw          json.RawMessage
}

// Capture is the raw API exchange behind a rich read, kept for auditing.
type Capture struct {
	Endpoint   string
	Request    []byte
	Response   []byte
	LatencyMS  int64
	Success    bool
	CapturedAt time.Time
}

// RichReadings is the result of a PortReader read.
type RichReadings struct {
	Sensors []sensor.Reading
	Ports   []PortState
	Modes   []ModeState
	Capture *Capture
}

// Registry maps brand names to adapters. Brands without an entry are not
// pollable and the orchestrator skips them.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds an adapter to a brand name.
func (r *Registry) Register(brand string, a Adapter) {
	r.adapters[brand] = a
}

// Lookup returns the adapter for a brand, if one is registered.
func (r *Registry) Lookup(brand string) (Adapter, bool) {
	a, ok := r.adapters[brand]
	return a, ok
}

// Brands lists the registered brand names.
func (r *Registry) Brands() []string {
	brands := make([]string, 0, len(r.adapters))
	for brand := range r.adapters {
		brands = append(brands, brand)
	}
	return brands
}
