package db

func (db *DB) initSchema() error {
	schema := `
	-- Sessions table, one row per (source, external_id)
	CREATE TABLE IF NOT EXISTS sessions (
		pk INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		source TEXT NOT NULL CHECK(source IN ('claude', 'codex', 'opencode', 'crush')),
		external_id TEXT NOT NULL,
		project TEXT,
		title TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		raw_payload TEXT,
		imported_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source, external_id)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_source ON sessions(source);
	CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);

	-- Events table
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		fingerprint TEXT UNIQUE NOT NULL,
		kind TEXT NOT NULL CHECK(kind IN ('message', 'tool_call', 'tool_result', 'error', 'system')),
		role TEXT,
		content TEXT,
		timestamp TEXT NOT NULL,
		seq INTEGER NOT NULL DEFAULT 0,
		native_id TEXT,
		tool_name TEXT,
		tool_call_id TEXT,
		is_error BOOLEAN NOT NULL DEFAULT 0,
		raw_payload TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_events_session_order ON events(session_id, timestamp, seq);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);

	-- Derived per-session aggregates
	CREATE TABLE IF NOT EXISTS session_metrics (
		session_id TEXT PRIMARY KEY,
		message_count INTEGER NOT NULL DEFAULT 0,
		user_count INTEGER NOT NULL DEFAULT 0,
		assistant_count INTEGER NOT NULL DEFAULT 0,
		tool_call_count INTEGER NOT NULL DEFAULT 0,
		tool_result_count INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		system_count INTEGER NOT NULL DEFAULT 0,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		tool_success INTEGER NOT NULL DEFAULT 0,
		tool_failures INTEGER NOT NULL DEFAULT 0,
		files_touched INTEGER NOT NULL DEFAULT 0,
		lines_added INTEGER NOT NULL DEFAULT 0,
		lines_removed INTEGER NOT NULL DEFAULT 0,
		model TEXT,
		provider TEXT,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		estimated_cost REAL,
		total_latency_ms INTEGER NOT NULL DEFAULT 0,
		avg_latency_ms REAL NOT NULL DEFAULT 0,
		p50_latency_ms INTEGER NOT NULL DEFAULT 0,
		p95_latency_ms INTEGER NOT NULL DEFAULT 0,
		computed_at TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tool_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		call_id TEXT,
		tool_name TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		duration_ms INTEGER,
		success BOOLEAN NOT NULL DEFAULT 1,
		error_message TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tool_calls_session_id ON tool_calls(session_id);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool_name ON tool_calls(tool_name);

	CREATE TABLE IF NOT EXISTS files_touched (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		operation TEXT NOT NULL,
		lines_added INTEGER NOT NULL DEFAULT 0,
		lines_removed INTEGER NOT NULL DEFAULT 0,
		touched_at TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_files_touched_session_id ON files_touched(session_id);
	CREATE INDEX IF NOT EXISTS idx_files_touched_path ON files_touched(file_path);

	-- Per-artifact change markers, owned by the importer
	CREATE TABLE IF NOT EXISTS ingest_checkpoints (
		source TEXT NOT NULL,
		artifact TEXT NOT NULL,
		marker TEXT NOT NULL,
		cursor_offset INTEGER NOT NULL DEFAULT 0,
		cursor_line INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (source, artifact)
	);

	-- Ingest run log
	CREATE TABLE IF NOT EXISTS import_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		artifacts_total INTEGER NOT NULL,
		artifacts_skipped INTEGER NOT NULL,
		events_imported INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		status TEXT CHECK(status IN ('success', 'partial', 'failed')),
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_import_log_source ON import_log(source, started_at);

	-- FTS5 tables for full-text search
	-- Natural language search with porter stemming
	CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
		content,
		content=events,
		content_rowid=id,
		tokenize='porter unicode61'
	);

	-- Code search without stemming (preserves symbols, camelCase)
	CREATE VIRTUAL TABLE IF NOT EXISTS events_fts_code USING fts5(
		content,
		content=events,
		content_rowid=id,
		tokenize='unicode61'
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS sessions_fts USING fts5(
		title,
		project,
		content=sessions,
		content_rowid=pk,
		tokenize='porter unicode61'
	);

	-- Triggers to keep FTS in sync
	CREATE TRIGGER IF NOT EXISTS events_ai AFTER INSERT ON events BEGIN
		INSERT INTO events_fts(rowid, content) VALUES (new.id, new.content);
		INSERT INTO events_fts_code(rowid, content) VALUES (new.id, new.content);
	END;

	CREATE TRIGGER IF NOT EXISTS events_ad AFTER DELETE ON events BEGIN
		INSERT INTO events_fts(events_fts, rowid, content) VALUES ('delete', old.id, old.content);
		INSERT INTO events_fts_code(events_fts_code, rowid, content) VALUES ('delete', old.id, old.content);
	END;

	CREATE TRIGGER IF NOT EXISTS events_au AFTER UPDATE OF content ON events BEGIN
		INSERT INTO events_fts(events_fts, rowid, content) VALUES ('delete', old.id, old.content);
		INSERT INTO events_fts_code(events_fts_code, rowid, content) VALUES ('delete', old.id, old.content);
		INSERT INTO events_fts(rowid, content) VALUES (new.id, new.content);
		INSERT INTO events_fts_code(rowid, content) VALUES (new.id, new.content);
	END;

	CREATE TRIGGER IF NOT EXISTS sessions_ai AFTER INSERT ON sessions BEGIN
		INSERT INTO sessions_fts(rowid, title, project) VALUES (new.pk, new.title, new.project);
	END;

	CREATE TRIGGER IF NOT EXISTS sessions_ad AFTER DELETE ON sessions BEGIN
		INSERT INTO sessions_fts(sessions_fts, rowid, title, project) VALUES ('delete', old.pk, old.title, old.project);
	END;

	CREATE TRIGGER IF NOT EXISTS sessions_au AFTER UPDATE OF title, project ON sessions BEGIN
		INSERT INTO sessions_fts(sessions_fts, rowid, title, project) VALUES ('delete', old.pk, old.title, old.project);
		INSERT INTO sessions_fts(rowid, title, project) VALUES (new.pk, new.title, new.project);
	END;
	`

	_, err := db.conn.Exec(schema)
	return err
}
