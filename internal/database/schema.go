package database

// schemaStatements installs the SQLite schema. Every statement is guarded by
// IF NOT EXISTS so Init can run on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS controllers (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		credentials TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'initializing',
		last_seen DATETIME,
		last_error TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_controllers_brand ON controllers(brand)`,

	`CREATE TABLE IF NOT EXISTS sensor_readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		controller_id TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 0,
		sensor_type TEXT NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		recorded_at DATETIME NOT NULL,
		is_stale INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (controller_id) REFERENCES controllers(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_controller_time
		ON sensor_readings(controller_id, recorded_at DESC)`,

	`CREATE TABLE IF NOT EXISTS controller_ports (
		controller_id TEXT NOT NULL,
		port INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT '',
		connected INTEGER NOT NULL DEFAULT 0,
		is_on INTEGER NOT NULL DEFAULT 0,
		power_level INTEGER NOT NULL DEFAULT 0,
		mode_id INTEGER,
		supports_dimming INTEGER NOT NULL DEFAULT 0,
		online INTEGER NOT NULL DEFAULT 0,
		raw TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (controller_id, port),
		FOREIGN KEY (controller_id) REFERENCES controllers(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS controller_modes (
		controller_id TEXT NOT NULL,
		port INTEGER NOT NULL,
		mode_id INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		temp_high_f REAL,
		temp_low_f REAL,
		humidity_high REAL,
		humidity_low REAL,
		vpd_high REAL,
		vpd_low REAL,
		transition REAL,
		buffer REAL,
		timer_sec INTEGER,
		cycle_on_sec INTEGER,
		cycle_off_sec INTEGER,
		sched_start TEXT,
		sched_end TEXT,
		raw TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (controller_id, port, mode_id),
		FOREIGN KEY (controller_id) REFERENCES controllers(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS api_captures (
		id TEXT PRIMARY KEY,
		controller_id TEXT NOT NULL,
		endpoint TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		request TEXT NOT NULL DEFAULT '',
		response TEXT NOT NULL DEFAULT '',
		latency_ms INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 0,
		captured_at DATETIME NOT NULL,
		FOREIGN KEY (controller_id) REFERENCES controllers(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_captures_controller_time
		ON api_captures(controller_id, captured_at DESC)`,
}
