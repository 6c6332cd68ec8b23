package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SQLiteStore wraps a SQLite connection and implements Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a SQLiteStore and configures the supplied connection.
// Call Init on the returned store to install the schema.
func NewSQLite(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// Enable WAL mode for concurrent reads with writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout to retry instead of immediate failure
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Init installs the database schema. It is safe to call multiple times; every
// statement uses IF NOT EXISTS guards.
func (s *SQLiteStore) Init(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const controllerColumns = `id, user_id, brand, external_id, name, credentials,
	status, last_seen, last_error, created_at, updated_at`

// ListControllers returns every registered controller ordered by name.
func (s *SQLiteStore) ListControllers(ctx context.Context) ([]Controller, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+controllerColumns+`
		FROM controllers
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list controllers: %w", err)
	}
	defer rows.Close()

	var controllers []Controller
	for rows.Next() {
		controller, err := scanController(rows)
		if err != nil {
			return nil, err
		}
		controllers = append(controllers, controller)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate controllers: %w", err)
	}

	return controllers, nil
}

// GetController fetches one controller by id.
func (s *SQLiteStore) GetController(ctx context.Context, id string) (Controller, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+controllerColumns+`
		FROM controllers
		WHERE id = ?
	`, strings.TrimSpace(id))

	controller, err := scanController(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Controller{}, fmt.Errorf("controller %s: %w", id, ErrNotFound)
		}
		return Controller{}, err
	}
	return controller, nil
}

// UpsertController ensures a controller row exists and applies the provided
// updates.
func (s *SQLiteStore) UpsertController(ctx context.Context, params UpsertControllerParams) (Controller, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return Controller{}, fmt.Errorf("controller id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Controller{}, fmt.Errorf("begin upsert controller tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO controllers (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, id); err != nil {
		return Controller{}, fmt.Errorf("ensure controller %s: %w", id, err)
	}

	var (
		sets []string
		args []any
	)

	appendSet := func(column string, value *string) {
		if value == nil {
			return
		}
		sets = append(sets, column+" = ?")
		args = append(args, strings.TrimSpace(*value))
	}

	appendSet("user_id", params.UserID)
	appendSet("brand", params.Brand)
	appendSet("external_id", params.ExternalID)
	appendSet("name", params.Name)
	appendSet("status", params.Status)

	if params.Credentials != nil {
		sets = append(sets, "credentials = ?")
		args = append(args, *params.Credentials)
	}

	if len(sets) > 0 {
		sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
		args = append(args, id)
		query := fmt.Sprintf("UPDATE controllers SET %s WHERE id = ?", strings.Join(sets, ", "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return Controller{}, fmt.Errorf("update controller %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Controller{}, fmt.Errorf("commit upsert controller tx: %w", err)
	}

	return s.GetController(ctx, id)
}

// UpdateControllerStatus applies a partial status update to one controller.
func (s *SQLiteStore) UpdateControllerStatus(ctx context.Context, id string, update ControllerStatusUpdate) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("controller id is required")
	}

	var (
		sets []string
		args []any
	)

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if update.LastSeen != nil {
		sets = append(sets, "last_seen = ?")
		args = append(args, update.LastSeen.UTC())
	}
	if update.LastError != nil {
		if strings.TrimSpace(*update.LastError) == "" {
			sets = append(sets, "last_error = NULL")
		} else {
			sets = append(sets, "last_error = ?")
			args = append(args, *update.LastError)
		}
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE controllers SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update controller %s status: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("controller %s status rows affected: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("controller %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanController(row rowScanner) (Controller, error) {
	var (
		controller Controller
		lastSeen   sql.NullTime
		lastError  sql.NullString
	)

	if err := row.Scan(
		&controller.ID,
		&controller.UserID,
		&controller.Brand,
		&controller.ExternalID,
		&controller.Name,
		&controller.Credentials,
		&controller.Status,
		&lastSeen,
		&lastError,
		&controller.CreatedAt,
		&controller.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Controller{}, err
		}
		return Controller{}, fmt.Errorf("scan controller: %w", err)
	}

	controller.LastSeen = timePtrFromNull(lastSeen)
	controller.LastError = stringPtrFromNull(lastError)
	if controller.LastSeen != nil {
		utc := controller.LastSeen.UTC()
		controller.LastSeen = &utc
	}
	return controller, nil
}
