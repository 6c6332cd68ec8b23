package poll

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"enviroflow/internal/adapter"
	"enviroflow/internal/creds"
	"enviroflow/internal/database"
	"enviroflow/internal/sensor"
)

// Errors surfaced on the controller row when credential resolution fails.
const (
	msgCannotDecrypt = "Credentials cannot be decrypted"
	msgIncomplete    = "Incomplete credentials"
)

// Poller runs the polling pipeline for a single controller at a time. It is
// safe for concurrent use across distinct controllers.
type Poller struct {
	store     database.Store
	decryptor creds.Decryptor
	registry  *adapter.Registry
	log       *slog.Logger
	now       func() time.Time
}

// New builds a Poller around its collaborators.
func New(store database.Store, decryptor creds.Decryptor, registry *adapter.Registry, log *slog.Logger) *Poller {
	return &Poller{
		store:     store,
		decryptor: decryptor,
		registry:  registry,
		log:       log,
		now:       time.Now,
	}
}

// Poll runs the full pipeline for one controller: resolve credentials,
// connect, read, validate, derive VPD, persist, and update the controller's
// status row. A failed live read falls back to cached data when any exists.
// Poll never panics on adapter misbehaviour; every outcome is a Result.
func (p *Poller) Poll(ctx context.Context, controller database.Controller) Result {
	result := Result{
		ControllerID:   controller.ID,
		ControllerName: controller.Name,
		Brand:          controller.Brand,
	}
	log := p.log.With("controller_id", controller.ID, "brand", controller.Brand)

	if controller.Brand == database.BrandCSVUpload {
		result.Status = StatusSkipped
		result.Error = "csv_upload controllers receive data via upload, not polling"
		return result
	}
	brandAdapter, ok := p.registry.Lookup(controller.Brand)
	if !ok {
		result.Status = StatusSkipped
		result.Error = fmt.Sprintf("no adapter for brand %q", controller.Brand)
		log.Warn("skipping controller with unsupported brand")
		return result
	}

	credentials, err := creds.Resolve(p.decryptor, controller.Brand, controller.Credentials)
	if err != nil {
		message := msgIncomplete
		if errors.Is(err, creds.ErrCannotDecrypt) {
			message = msgCannotDecrypt
		}
		p.setStatus(ctx, log, controller.ID, database.StatusError, nil, &message)
		result.Status = StatusFailed
		result.Error = message
		log.Error("credential resolution failed", "error", err)
		return result
	}

	session, err := brandAdapter.Connect(ctx, controller.ID, credentials, controller.ExternalID)
	if err != nil {
		message := err.Error()
		p.setStatus(ctx, log, controller.ID, database.StatusOffline, nil, &message)
		result.Status = StatusFailed
		result.Error = message
		log.Error("connect failed", "error", err)
		return result
	}
	defer func() {
		if err := session.Disconnect(ctx); err != nil {
			log.Warn("disconnect failed", "error", err)
		}
	}()

	outcome, rich := p.read(ctx, log, session)
	if outcome.err != nil {
		return p.degrade(ctx, log, controller, result, outcome.err)
	}

	valid, rejected := sensor.FilterValid(outcome.sensors)
	for _, bad := range rejected {
		log.Warn("dropping out-of-range reading",
			"type", string(bad.Type), "port", bad.Port, "value", bad.Value)
	}
	valid = sensor.DeriveVPD(valid, p.now().UTC())

	rows := make([]database.Reading, 0, len(valid))
	for _, reading := range valid {
		rows = append(rows, database.Reading{
			ControllerID: controller.ID,
			Port:         reading.Port,
			Type:         reading.Type,
			Value:        reading.Value,
			Unit:         reading.Unit,
			RecordedAt:   reading.RecordedAt,
			Stale:        reading.Stale,
		})
	}
	if err := p.store.InsertReadings(ctx, rows); err != nil {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("persist readings: %v", err)
		log.Error("persisting readings failed", "error", err)
		return result
	}
	result.Readings = len(rows)

	// Port, mode, and capture writes are best-effort: a failure there must
	// not cost us the sensor data already persisted.
	if rich != nil {
		result.Ports, result.Modes = p.persistDeviceState(ctx, log, controller.ID, rich, &result)
	}

	seen := p.now().UTC()
	noError := ""
	p.setStatus(ctx, log, controller.ID, database.StatusOnline, &seen, &noError)

	result.Status = StatusSuccess
	log.Info("poll complete", "readings", result.Readings, "ports", result.Ports)
	return result
}

type readOutcome struct {
	sensors []sensor.Reading
	err     error
}

// read prefers the rich port-aware read when the session supports it,
// falling back to the basic sensor read if the rich call fails. The returned
// RichReadings is nil unless a rich read succeeded.
func (p *Poller) read(ctx context.Context, log *slog.Logger, session adapter.Session) (readOutcome, *adapter.RichReadings) {
	if reader, ok := session.(adapter.PortReader); ok {
		rich, err := reader.ReadSensorsAndPorts(ctx)
		if err == nil {
			return readOutcome{sensors: rich.Sensors}, &rich
		}
		log.Warn("rich read failed, retrying sensors-only", "error", err)
	}

	sensors, err := session.ReadSensors(ctx)
	if err != nil {
		return readOutcome{err: err}, nil
	}
	return readOutcome{sensors: sensors}, nil
}

// degrade serves the most recent cached readings in place of a failed live
// read. With no cache at all the poll fails outright.
func (p *Poller) degrade(ctx context.Context, log *slog.Logger, controller database.Controller, result Result, readErr error) Result {
	snapshot, err := p.readCache(ctx, controller.ID)
	if err != nil {
		log.Error("degradation cache read failed", "error", err)
	}
	if len(snapshot.readings) == 0 {
		// No cache at all: record the error but leave the status alone; a
		// connected-but-unreadable device is not the same as an offline one.
		message := readErr.Error()
		err := p.store.UpdateControllerStatus(ctx, controller.ID, database.ControllerStatusUpdate{
			LastError: &message,
		})
		if err != nil {
			log.Error("controller status update failed", "error", err)
		}
		result.Status = StatusFailed
		result.Error = message
		log.Error("read failed with no cached data", "error", readErr)
		return result
	}

	rows := make([]database.Reading, 0, len(snapshot.readings))
	for _, row := range snapshot.readings {
		rows = append(rows, database.Reading{
			ControllerID: controller.ID,
			Port:         row.Port,
			Type:         row.Type,
			Value:        row.Value,
			Unit:         row.Unit,
			RecordedAt:   row.RecordedAt,
			Stale:        true,
		})
	}
	if err := p.store.InsertReadings(ctx, rows); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("persist stale readings: %v", err))
		log.Warn("persisting stale readings failed", "error", err)
	}

	// Only the last_known tier marks the controller offline; fresher cache
	// tiers keep it online so a transient API blip does not flap the status.
	status := database.StatusOnline
	if snapshot.tier == TierLastKnown {
		status = database.StatusOffline
	}
	message := fmt.Sprintf("Degraded: %v (using %s cache)", readErr, snapshot.tier)
	p.setStatus(ctx, log, controller.ID, status, nil, &message)

	result.Status = StatusDegraded
	result.Readings = len(rows)
	result.Tier = snapshot.tier
	result.Error = message
	log.Warn("serving degraded data",
		"tier", string(snapshot.tier), "data_age", snapshot.age.Round(time.Second), "error", readErr)
	return result
}

// persistDeviceState writes port, mode, and capture rows from a rich read.
// Failures are collected as warnings on the result.
func (p *Poller) persistDeviceState(ctx context.Context, log *slog.Logger, controllerID string, rich *adapter.RichReadings, result *Result) (ports, modes int) {
	now := p.now().UTC()

	for _, state := range rich.Ports {
		err := p.store.UpsertPort(ctx, database.Port{
			ControllerID:    controllerID,
			Port:            state.Port,
			Name:            state.Name,
			DeviceType:      state.DeviceType,
			Connected:       state.Connected,
			On:              state.On,
			PowerLevel:      state.PowerLevel,
			ModeID:          state.ModeID,
			SupportsDimming: state.SupportsDimming,
			Online:          state.Online,
			Raw:             string(state.Raw),
			UpdatedAt:       now,
		})
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("upsert port %d: %v", state.Port, err))
			log.Warn("port upsert failed", "port", state.Port, "error", err)
			continue
		}
		ports++
	}

	for _, mode := range rich.Modes {
		err := p.store.UpsertModeConfig(ctx, database.ModeConfig{
			ControllerID: controllerID,
			Port:         mode.Port,
			ModeID:       mode.ModeID,
			Name:         mode.Name,
			TempHighF:    mode.TempHighF,
			TempLowF:     mode.TempLowF,
			HumidityHigh: mode.HumidityHigh,
			HumidityLow:  mode.HumidityLow,
			VPDHigh:      mode.VPDHigh,
			VPDLow:       mode.VPDLow,
			Transition:   mode.Transition,
			Buffer:       mode.Buffer,
			TimerSec:     mode.TimerSec,
			CycleOnSec:   mode.CycleOnSec,
			CycleOffSec:  mode.CycleOffSec,
			SchedStart:   mode.SchedStart,
			SchedEnd:     mode.SchedEnd,
			Raw:          string(mode.Raw),
			UpdatedAt:    now,
		})
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("upsert mode %d/%d: %v", mode.Port, mode.ModeID, err))
			log.Warn("mode upsert failed", "port", mode.Port, "mode_id", mode.ModeID, "error", err)
			continue
		}
		modes++
	}

	if rich.Capture != nil {
		hash := sha256.Sum256(rich.Capture.Response)
		err := p.store.InsertCapture(ctx, database.Capture{
			ID:           uuid.NewString(),
			ControllerID: controllerID,
			Endpoint:     rich.Capture.Endpoint,
			ContentHash:  hex.EncodeToString(hash[:]),
			Request:      string(rich.Capture.Request),
			Response:     string(rich.Capture.Response),
			LatencyMS:    rich.Capture.LatencyMS,
			Success:      rich.Capture.Success,
			CapturedAt:   rich.Capture.CapturedAt,
		})
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("insert capture: %v", err))
			log.Warn("capture insert failed", "error", err)
		}
	}

	return ports, modes
}

// setStatus updates the controller's status row, logging but otherwise
// swallowing failures: a status write must never mask the poll outcome.
func (p *Poller) setStatus(ctx context.Context, log *slog.Logger, id, status string, lastSeen *time.Time, lastError *string) {
	err := p.store.UpdateControllerStatus(ctx, id, database.ControllerStatusUpdate{
		Status:    &status,
		LastSeen:  lastSeen,
		LastError: lastError,
	})
	if err != nil {
		log.Error("controller status update failed", "status", status, "error", err)
	}
}
