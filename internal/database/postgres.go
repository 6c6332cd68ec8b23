package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"enviroflow/internal/sensor"
)

// PostgresStore implements Store on a pgx connection pool, for hosted
// deployments where SQLite on local disk is not an option.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to Postgres and verifies the connection.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("configure postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Init installs the schema. Safe to call on every start.
func (s *PostgresStore) Init(ctx context.Context) error {
	for i, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS controllers (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		credentials TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'initializing',
		last_seen TIMESTAMPTZ,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS sensor_readings (
		id BIGSERIAL PRIMARY KEY,
		controller_id TEXT NOT NULL REFERENCES controllers(id) ON DELETE CASCADE,
		port INTEGER NOT NULL DEFAULT 0,
		sensor_type TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMPTZ NOT NULL,
		is_stale BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_controller_time
		ON sensor_readings(controller_id, recorded_at DESC)`,
	`CREATE TABLE IF NOT EXISTS controller_ports (
		controller_id TEXT NOT NULL REFERENCES controllers(id) ON DELETE CASCADE,
		port INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT '',
		connected BOOLEAN NOT NULL DEFAULT FALSE,
		is_on BOOLEAN NOT NULL DEFAULT FALSE,
		power_level INTEGER NOT NULL DEFAULT 0,
		mode_id INTEGER,
		supports_dimming BOOLEAN NOT NULL DEFAULT FALSE,
		online BOOLEAN NOT NULL DEFAULT FALSE,
		raw TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (controller_id, port)
	)`,
	`CREATE TABLE IF NOT EXISTS controller_modes (
		controller_id TEXT NOT NULL REFERENCES controllers(id) ON DELETE CASCADE,
		port INTEGER NOT NULL,
		mode_id INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		temp_high_f DOUBLE PRECISION,
		temp_low_f DOUBLE PRECISION,
		humidity_high DOUBLE PRECISION,
		humidity_low DOUBLE PRECISION,
		vpd_high DOUBLE PRECISION,
		vpd_low DOUBLE PRECISION,
		transition DOUBLE PRECISION,
		buffer DOUBLE PRECISION,
		timer_sec INTEGER,
		cycle_on_sec INTEGER,
		cycle_off_sec INTEGER,
		sched_start TEXT,
		sched_end TEXT,
		raw TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (controller_id, port, mode_id)
	)`,
	`CREATE TABLE IF NOT EXISTS api_captures (
		id TEXT PRIMARY KEY,
		controller_id TEXT NOT NULL REFERENCES controllers(id) ON DELETE CASCADE,
		endpoint TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		request TEXT NOT NULL DEFAULT '',
		response TEXT NOT NULL DEFAULT '',
		latency_ms BIGINT NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT FALSE,
		captured_at TIMESTAMPTZ NOT NULL
	)`,
}

const pgControllerColumns = `id, user_id, brand, external_id, name, credentials,
	status, last_seen, last_error, created_at, updated_at`

// ListControllers returns every registered controller ordered by name.
func (s *PostgresStore) ListControllers(ctx context.Context) ([]Controller, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgControllerColumns+`
		FROM controllers
		ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list controllers: %w", err)
	}
	defer rows.Close()

	var controllers []Controller
	for rows.Next() {
		var c Controller
		if err := rows.Scan(&c.ID, &c.UserID, &c.Brand, &c.ExternalID, &c.Name, &c.Credentials,
			&c.Status, &c.LastSeen, &c.LastError, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan controller: %w", err)
		}
		controllers = append(controllers, c)
	}
	return controllers, rows.Err()
}

// GetController fetches one controller by id.
func (s *PostgresStore) GetController(ctx context.Context, id string) (Controller, error) {
	var c Controller
	err := s.pool.QueryRow(ctx, `
		SELECT `+pgControllerColumns+`
		FROM controllers
		WHERE id = $1`, strings.TrimSpace(id)).
		Scan(&c.ID, &c.UserID, &c.Brand, &c.ExternalID, &c.Name, &c.Credentials,
			&c.Status, &c.LastSeen, &c.LastError, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Controller{}, fmt.Errorf("controller %s: %w", id, ErrNotFound)
		}
		return Controller{}, fmt.Errorf("query controller %s: %w", id, err)
	}
	return c, nil
}

// UpsertController ensures a controller row exists and applies the provided
// updates.
func (s *PostgresStore) UpsertController(ctx context.Context, params UpsertControllerParams) (Controller, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return Controller{}, fmt.Errorf("controller id is required")
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO controllers (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id); err != nil {
		return Controller{}, fmt.Errorf("ensure controller %s: %w", id, err)
	}

	var (
		sets []string
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if params.UserID != nil {
		sets = append(sets, "user_id = "+arg(strings.TrimSpace(*params.UserID)))
	}
	if params.Brand != nil {
		sets = append(sets, "brand = "+arg(strings.TrimSpace(*params.Brand)))
	}
	if params.ExternalID != nil {
		sets = append(sets, "external_id = "+arg(strings.TrimSpace(*params.ExternalID)))
	}
	if params.Name != nil {
		sets = append(sets, "name = "+arg(strings.TrimSpace(*params.Name)))
	}
	if params.Status != nil {
		sets = append(sets, "status = "+arg(strings.TrimSpace(*params.Status)))
	}
	if params.Credentials != nil {
		sets = append(sets, "credentials = "+arg(*params.Credentials))
	}

	if len(sets) > 0 {
		sets = append(sets, "updated_at = NOW()")
		query := fmt.Sprintf("UPDATE controllers SET %s WHERE id = %s",
			strings.Join(sets, ", "), arg(id))
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return Controller{}, fmt.Errorf("update controller %s: %w", id, err)
		}
	}

	return s.GetController(ctx, id)
}

// UpdateControllerStatus applies a partial status update to one controller.
func (s *PostgresStore) UpdateControllerStatus(ctx context.Context, id string, update ControllerStatusUpdate) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("controller id is required")
	}

	var (
		sets []string
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.Status != nil {
		sets = append(sets, "status = "+arg(*update.Status))
	}
	if update.LastSeen != nil {
		sets = append(sets, "last_seen = "+arg(update.LastSeen.UTC()))
	}
	if update.LastError != nil {
		if strings.TrimSpace(*update.LastError) == "" {
			sets = append(sets, "last_error = NULL")
		} else {
			sets = append(sets, "last_error = "+arg(*update.LastError))
		}
	}

	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf("UPDATE controllers SET %s WHERE id = %s",
		strings.Join(sets, ", "), arg(id))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update controller %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("controller %s: %w", id, ErrNotFound)
	}
	return nil
}

// InsertReadings appends a batch of sensor readings in one round trip.
func (s *PostgresStore) InsertReadings(ctx context.Context, readings []Reading) error {
	if len(readings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO sensor_readings (controller_id, port, sensor_type, value, unit, recorded_at, is_stale)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, r := range readings {
		recordedAt := r.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = time.Now().UTC()
		}
		batch.Queue(query, r.ControllerID, r.Port, string(r.Type), r.Value, r.Unit, recordedAt.UTC(), r.Stale)
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	for range readings {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("insert reading: %w", err)
		}
	}
	return nil
}

// RecentReadings returns up to limit readings for a controller, newest first.
func (s *PostgresStore) RecentReadings(ctx context.Context, controllerID string, limit int) ([]Reading, error) {
	controllerID = strings.TrimSpace(controllerID)
	if controllerID == "" {
		return nil, fmt.Errorf("controller id is required")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, controller_id, port, sensor_type, value, unit, recorded_at, is_stale
		FROM sensor_readings
		WHERE controller_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2`, controllerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var (
			r   Reading
			typ string
		)
		if err := rows.Scan(&r.ID, &r.ControllerID, &r.Port, &typ, &r.Value, &r.Unit, &r.RecordedAt, &r.Stale); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Type = sensor.Type(typ)
		r.RecordedAt = r.RecordedAt.UTC()
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// UpsertPort writes a port's current state, keyed by (controller_id, port).
func (s *PostgresStore) UpsertPort(ctx context.Context, port Port) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO controller_ports (
			controller_id, port, name, device_type, connected, is_on,
			power_level, mode_id, supports_dimming, online, raw, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
		ON CONFLICT (controller_id, port) DO UPDATE SET
			name = EXCLUDED.name,
			device_type = EXCLUDED.device_type,
			connected = EXCLUDED.connected,
			is_on = EXCLUDED.is_on,
			power_level = EXCLUDED.power_level,
			mode_id = EXCLUDED.mode_id,
			supports_dimming = EXCLUDED.supports_dimming,
			online = EXCLUDED.online,
			raw = EXCLUDED.raw,
			updated_at = NOW()`,
		port.ControllerID, port.Port, port.Name, port.DeviceType, port.Connected, port.On,
		port.PowerLevel, port.ModeID, port.SupportsDimming, port.Online, port.Raw); err != nil {
		return fmt.Errorf("upsert port %d for controller %s: %w", port.Port, port.ControllerID, err)
	}
	return nil
}

// UpsertModeConfig writes an automation-mode configuration, keyed by
// (controller_id, port, mode_id).
func (s *PostgresStore) UpsertModeConfig(ctx context.Context, mode ModeConfig) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO controller_modes (
			controller_id, port, mode_id, name,
			temp_high_f, temp_low_f, humidity_high, humidity_low,
			vpd_high, vpd_low, transition, buffer,
			timer_sec, cycle_on_sec, cycle_off_sec,
			sched_start, sched_end, raw, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,NOW())
		ON CONFLICT (controller_id, port, mode_id) DO UPDATE SET
			name = EXCLUDED.name,
			temp_high_f = EXCLUDED.temp_high_f,
			temp_low_f = EXCLUDED.temp_low_f,
			humidity_high = EXCLUDED.humidity_high,
			humidity_low = EXCLUDED.humidity_low,
			vpd_high = EXCLUDED.vpd_high,
			vpd_low = EXCLUDED.vpd_low,
			transition = EXCLUDED.transition,
			buffer = EXCLUDED.buffer,
			timer_sec = EXCLUDED.timer_sec,
			cycle_on_sec = EXCLUDED.cycle_on_sec,
			cycle_off_sec = EXCLUDED.cycle_off_sec,
			sched_start = EXCLUDED.sched_start,
			sched_end = EXCLUDED.sched_end,
			raw = EXCLUDED.raw,
			updated_at = NOW()`,
		mode.ControllerID, mode.Port, mode.ModeID, mode.Name,
		mode.TempHighF, mode.TempLowF, mode.HumidityHigh, mode.HumidityLow,
		mode.VPDHigh, mode.VPDLow, mode.Transition, mode.Buffer,
		mode.TimerSec, mode.CycleOnSec, mode.CycleOffSec,
		mode.SchedStart, mode.SchedEnd, mode.Raw); err != nil {
		return fmt.Errorf("upsert mode %d on port %d for controller %s: %w", mode.ModeID, mode.Port, mode.ControllerID, err)
	}
	return nil
}

// InsertCapture appends one raw API audit record.
func (s *PostgresStore) InsertCapture(ctx context.Context, capture Capture) error {
	capturedAt := capture.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO api_captures (id, controller_id, endpoint, content_hash, request, response, latency_ms, success, captured_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		capture.ID, capture.ControllerID, capture.Endpoint, capture.ContentHash,
		capture.Request, capture.Response, capture.LatencyMS, capture.Success, capturedAt.UTC()); err != nil {
		return fmt.Errorf("insert capture for controller %s: %w", capture.ControllerID, err)
	}
	return nil
}

// ListPorts returns the current port state for a controller ordered by port
// number.
func (s *PostgresStore) ListPorts(ctx context.Context, controllerID string) ([]Port, error) {
	controllerID = strings.TrimSpace(controllerID)
	if controllerID == "" {
		return nil, fmt.Errorf("controller id is required")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT controller_id, port, name, device_type, connected, is_on,
			power_level, mode_id, supports_dimming, online, raw, updated_at
		FROM controller_ports
		WHERE controller_id = $1
		ORDER BY port`, controllerID)
	if err != nil {
		return nil, fmt.Errorf("query ports: %w", err)
	}
	defer rows.Close()

	var ports []Port
	for rows.Next() {
		var p Port
		if err := rows.Scan(&p.ControllerID, &p.Port, &p.Name, &p.DeviceType, &p.Connected, &p.On,
			&p.PowerLevel, &p.ModeID, &p.SupportsDimming, &p.Online, &p.Raw, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan port: %w", err)
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		ports = append(ports, p)
	}
	return ports, rows.Err()
}
