package db

import (
	"context"
	"database/sql"
	"fmt"
)

type Migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS machines (
	addr TEXT PRIMARY KEY,
	service_name TEXT NOT NULL DEFAULT '',
	slot INTEGER NOT NULL DEFAULT 0,
	machine_id INTEGER NOT NULL DEFAULT 0,
	machine_name TEXT NOT NULL DEFAULT '',
	last_status TEXT NOT NULL DEFAULT '',
	last_game TEXT NOT NULL DEFAULT '',
	last_session_id TEXT NOT NULL DEFAULT '',
	last_seen_at TEXT,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	game TEXT NOT NULL,
	num_players INTEGER NOT NULL,
	host_ip TEXT NOT NULL DEFAULT '',
	configured_count INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_results (
	session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	addr TEXT NOT NULL,
	machine_name TEXT NOT NULL DEFAULT '',
	machine_id INTEGER NOT NULL DEFAULT 0,
	slot INTEGER NOT NULL DEFAULT 0,
	role TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (session_id, addr)
);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at DESC);
`,
		DownSQL: `
DROP INDEX IF EXISTS idx_sessions_started_at;
DROP TABLE IF EXISTS session_results;
DROP TABLE IF EXISTS sessions;
DROP TABLE IF EXISTS machines;
DROP TABLE IF EXISTS schema_migrations;
`,
	},
}

func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
