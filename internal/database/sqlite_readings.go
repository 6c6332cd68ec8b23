package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"enviroflow/internal/sensor"
)

// InsertReadings appends a batch of sensor readings. Rows are never updated
// afterwards, only superseded by newer rows.
func (s *SQLiteStore) InsertReadings(ctx context.Context, readings []Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert readings tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range readings {
		controllerID := strings.TrimSpace(r.ControllerID)
		if controllerID == "" {
			return fmt.Errorf("reading controller id is required")
		}
		recordedAt := r.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = time.Now().UTC()
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sensor_readings (controller_id, port, sensor_type, value, unit, recorded_at, is_stale)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, controllerID, r.Port, string(r.Type), r.Value, r.Unit, recordedAt.UTC(), boolToInt(r.Stale)); err != nil {
			return fmt.Errorf("insert %s reading for controller %s: %w", r.Type, controllerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert readings tx: %w", err)
	}
	return nil
}

// RecentReadings returns up to limit readings for a controller, newest first.
// Ties on recorded_at resolve to the higher insertion id so the ordering is
// deterministic.
func (s *SQLiteStore) RecentReadings(ctx context.Context, controllerID string, limit int) ([]Reading, error) {
	controllerID = strings.TrimSpace(controllerID)
	if controllerID == "" {
		return nil, fmt.Errorf("controller id is required")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, controller_id, port, sensor_type, value, unit, recorded_at, is_stale
		FROM sensor_readings
		WHERE controller_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, controllerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var (
			r     Reading
			typ   string
			stale int
		)
		if err := rows.Scan(&r.ID, &r.ControllerID, &r.Port, &typ, &r.Value, &r.Unit, &r.RecordedAt, &stale); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Type = sensor.Type(typ)
		r.Stale = stale != 0
		r.RecordedAt = r.RecordedAt.UTC()
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}

	return readings, nil
}
