package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertPort writes a port's current state, keyed by (controller_id, port).
// Later polls overwrite the row, never duplicate it.
func (s *SQLiteStore) UpsertPort(ctx context.Context, port Port) error {
	controllerID := strings.TrimSpace(port.ControllerID)
	if controllerID == "" {
		return fmt.Errorf("port controller id is required")
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO controller_ports (
			controller_id, port, name, device_type, connected, is_on,
			power_level, mode_id, supports_dimming, online, raw, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(controller_id, port) DO UPDATE SET
			name = excluded.name,
			device_type = excluded.device_type,
			connected = excluded.connected,
			is_on = excluded.is_on,
			power_level = excluded.power_level,
			mode_id = excluded.mode_id,
			supports_dimming = excluded.supports_dimming,
			online = excluded.online,
			raw = excluded.raw,
			updated_at = excluded.updated_at
	`, controllerID,
		port.Port,
		port.Name,
		port.DeviceType,
		boolToInt(port.Connected),
		boolToInt(port.On),
		port.PowerLevel,
		nullableInt(port.ModeID),
		boolToInt(port.SupportsDimming),
		boolToInt(port.Online),
		port.Raw,
		time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert port %d for controller %s: %w", port.Port, controllerID, err)
	}

	return nil
}

// UpsertModeConfig writes an automation-mode configuration, keyed by
// (controller_id, port, mode_id).
func (s *SQLiteStore) UpsertModeConfig(ctx context.Context, mode ModeConfig) error {
	controllerID := strings.TrimSpace(mode.ControllerID)
	if controllerID == "" {
		return fmt.Errorf("mode controller id is required")
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO controller_modes (
			controller_id, port, mode_id, name,
			temp_high_f, temp_low_f, humidity_high, humidity_low,
			vpd_high, vpd_low, transition, buffer,
			timer_sec, cycle_on_sec, cycle_off_sec,
			sched_start, sched_end, raw, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(controller_id, port, mode_id) DO UPDATE SET
			name = excluded.name,
			temp_high_f = excluded.temp_high_f,
			temp_low_f = excluded.temp_low_f,
			humidity_high = excluded.humidity_high,
			humidity_low = excluded.humidity_low,
			vpd_high = excluded.vpd_high,
			vpd_low = excluded.vpd_low,
			transition = excluded.transition,
			buffer = excluded.buffer,
			timer_sec = excluded.timer_sec,
			cycle_on_sec = excluded.cycle_on_sec,
			cycle_off_sec = excluded.cycle_off_sec,
			sched_start = excluded.sched_start,
			sched_end = excluded.sched_end,
			raw = excluded.raw,
			updated_at = excluded.updated_at
	`, controllerID,
		mode.Port,
		mode.ModeID,
		mode.Name,
		nullableFloat64(mode.TempHighF),
		nullableFloat64(mode.TempLowF),
		nullableFloat64(mode.HumidityHigh),
		nullableFloat64(mode.HumidityLow),
		nullableFloat64(mode.VPDHigh),
		nullableFloat64(mode.VPDLow),
		nullableFloat64(mode.Transition),
		nullableFloat64(mode.Buffer),
		nullableInt(mode.TimerSec),
		nullableInt(mode.CycleOnSec),
		nullableInt(mode.CycleOffSec),
		nullableTrimmedString(mode.SchedStart),
		nullableTrimmedString(mode.SchedEnd),
		mode.Raw,
		time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert mode %d on port %d for controller %s: %w", mode.ModeID, mode.Port, controllerID, err)
	}

	return nil
}

// InsertCapture appends one raw API audit record.
func (s *SQLiteStore) InsertCapture(ctx context.Context, capture Capture) error {
	controllerID := strings.TrimSpace(capture.ControllerID)
	if controllerID == "" {
		return fmt.Errorf("capture controller id is required")
	}
	capturedAt := capture.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO api_captures (id, controller_id, endpoint, content_hash, request, response, latency_ms, success, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, capture.ID,
		controllerID,
		capture.Endpoint,
		capture.ContentHash,
		capture.Request,
		capture.Response,
		capture.LatencyMS,
		boolToInt(capture.Success),
		capturedAt.UTC()); err != nil {
		return fmt.Errorf("insert capture for controller %s: %w", controllerID, err)
	}

	return nil
}

// ListPorts returns the current port state for a controller ordered by port
// number.
func (s *SQLiteStore) ListPorts(ctx context.Context, controllerID string) ([]Port, error) {
	controllerID = strings.TrimSpace(controllerID)
	if controllerID == "" {
		return nil, fmt.Errorf("controller id is required")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT controller_id, port, name, device_type, connected, is_on,
			power_level, mode_id, supports_dimming, online, raw, updated_at
		FROM controller_ports
		WHERE controller_id = ?
		ORDER BY port
	`, controllerID)
	if err != nil {
		return nil, fmt.Errorf("query ports: %w", err)
	}
	defer rows.Close()

	var ports []Port
	for rows.Next() {
		var (
			p         Port
			connected int
			on        int
			dimming   int
			online    int
			modeID    sql.NullInt64
		)
		if err := rows.Scan(&p.ControllerID, &p.Port, &p.Name, &p.DeviceType, &connected, &on,
			&p.PowerLevel, &modeID, &dimming, &online, &p.Raw, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan port: %w", err)
		}
		p.Connected = connected != 0
		p.On = on != 0
		p.SupportsDimming = dimming != 0
		p.Online = online != 0
		p.ModeID = intPtrFromNull(modeID)
		p.UpdatedAt = p.UpdatedAt.UTC()
		ports = append(ports, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ports: %w", err)
	}

	return ports, nil
}
