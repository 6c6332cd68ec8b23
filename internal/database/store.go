// Package database persists EnviroFlow domain entities. Two backends
// implement the Store interface: an embedded SQLite file for single-box
// installs and Postgres for hosted deployments.
package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the storage collaborator consumed by the poll pipeline and the
// HTTP API. Every method is a single atomic write or read; the pipeline
// never composes multiple writes into one transaction.
type Store interface {
	// Controllers.
	ListControllers(ctx context.Context) ([]Controller, error)
	GetController(ctx context.Context, id string) (Controller, error)
	UpsertController(ctx context.Context, params UpsertControllerParams) (Controller, error)
	UpdateControllerStatus(ctx context.Context, id string, update ControllerStatusUpdate) error

	// Sensor readings, append-only.
	InsertReadings(ctx context.Context, readings []Reading) error
	// RecentReadings returns up to limit readings for a controller, newest
	// first (recorded_at descending, insertion id descending on ties).
	RecentReadings(ctx context.Context, controllerID string, limit int) ([]Reading, error)

	// Auxiliary device state, keyed by natural unique keys.
	UpsertPort(ctx context.Context, port Port) error
	UpsertModeConfig(ctx context.Context, mode ModeConfig) error
	InsertCapture(ctx context.Context, capture Capture) error
	ListPorts(ctx context.Context, controllerID string) ([]Port, error)

	Close() error
}
