// Package store provides SQLite-backed persistence for the casgen engine.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS scenarios (
	scenario_id     TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	definition_json TEXT NOT NULL,
	created_at_unix INTEGER NOT NULL DEFAULT 0,
	updated_at_unix INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS jobs (
	job_id            TEXT PRIMARY KEY,
	scenario_id       TEXT NOT NULL DEFAULT '',
	seed              INTEGER NOT NULL DEFAULT 0,
	worker_count      INTEGER NOT NULL DEFAULT 0,
	batch_size        INTEGER NOT NULL DEFAULT 0,
	policy            TEXT NOT NULL DEFAULT 'best_effort',
	status            TEXT NOT NULL DEFAULT 'queued',
	progress          INTEGER NOT NULL DEFAULT 0,
	phase             TEXT NOT NULL DEFAULT '',
	phase_description TEXT NOT NULL DEFAULT '',
	eta_seconds       REAL NOT NULL DEFAULT 0,
	requested         INTEGER NOT NULL DEFAULT 0,
	produced          INTEGER NOT NULL DEFAULT 0,
	failed_batches    INTEGER NOT NULL DEFAULT 0,
	error             TEXT NOT NULL DEFAULT '',
	state_version     INTEGER NOT NULL DEFAULT 1,
	last_event_seq    INTEGER NOT NULL DEFAULT 0,
	created_at_unix   INTEGER NOT NULL DEFAULT 0,
	started_at_unix   INTEGER NOT NULL DEFAULT 0,
	completed_at_unix INTEGER NOT NULL DEFAULT 0,
	output_files_json TEXT NOT NULL DEFAULT '[]',
	summary_json      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at_unix);

CREATE TABLE IF NOT EXISTS job_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      TEXT NOT NULL,
	seq_no      INTEGER NOT NULL,
	progress    INTEGER NOT NULL DEFAULT 0,
	phase       TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	eta_seconds REAL NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	UNIQUE(job_id, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_job_events_job_seq ON job_events(job_id, seq_no);

CREATE TABLE IF NOT EXISTS phase_stats (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      TEXT NOT NULL,
	phase       TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	processed   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_phase_stats_job ON phase_stats(job_id);

CREATE TABLE IF NOT EXISTS api_keys (
	key_id          TEXT PRIMARY KEY,
	label           TEXT NOT NULL DEFAULT '',
	key_hash        TEXT NOT NULL UNIQUE,
	scopes_json     TEXT NOT NULL DEFAULT '[]',
	rate_per_minute INTEGER NOT NULL DEFAULT 0,
	disabled        INTEGER NOT NULL DEFAULT 0,
	created_at_unix INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS artifacts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id          TEXT NOT NULL,
	key             TEXT NOT NULL UNIQUE,
	size_bytes      INTEGER NOT NULL DEFAULT 0,
	content_type    TEXT NOT NULL DEFAULT '',
	sha256          TEXT NOT NULL DEFAULT '',
	created_at_unix INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_artifacts_job ON artifacts(job_id);

CREATE TABLE IF NOT EXISTS audit_records (
	id          TEXT PRIMARY KEY,
	subject     TEXT NOT NULL,
	category    TEXT NOT NULL,
	actor       TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	detail_json TEXT NOT NULL DEFAULT '{}',
	severity    TEXT NOT NULL DEFAULT 'info',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_records(subject);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
