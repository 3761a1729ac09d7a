// Package archive mirrors finished jobs into a Postgres warehouse for
// long-term analytics. The engine's SQLite store stays authoritative; archive
// writes happen after completion and never block or fail a job.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/medforge/casgen/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const driverName = "pgx"

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Archiver writes completed job records and their phase timings to Postgres.
type Archiver struct {
	db *sql.DB
}

// Open connects to the archive database and ensures its schema. The DSN comes
// from the archive_dsn config field; callers skip archiving when it is empty.
func Open(ctx context.Context, dsn string) (*Archiver, error) {
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrArchiveUnavailable.Code, "open archive", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, domain.WrapEngineError(domain.ErrArchiveUnavailable.Code, "ping archive", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Archiver{db: db}, nil
}

// Close releases the database handle.
func (a *Archiver) Close() error {
	return a.db.Close()
}

// DB exposes the underlying handle for integration testing hooks.
func (a *Archiver) DB() *sql.DB { return a.db }

func ensureSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS archived_jobs (
			job_id TEXT PRIMARY KEY,
			scenario_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			completed_at_unix BIGINT NOT NULL DEFAULT 0,
			record JSONB NOT NULL,
			summary JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS archived_phase_stats (
			job_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			duration_ms BIGINT NOT NULL,
			processed BIGINT NOT NULL,
			failed BIGINT NOT NULL,
			PRIMARY KEY (job_id, phase)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return domain.WrapEngineError(domain.ErrArchiveUnavailable.Code, "ensure archive schema", err)
		}
	}
	return nil
}

// ArchiveJob upserts a completed job and its phase stats. Re-archiving the
// same job replaces the previous rows, so retries after a partial failure are
// safe.
func (a *Archiver) ArchiveJob(ctx context.Context, job *domain.GenerationJob, stats []domain.PhaseStat) error {
	record, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	var summary []byte
	if job.Summary != nil {
		summary, err = json.Marshal(job.Summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapEngineError(domain.ErrArchiveUnavailable.Code, "begin archive tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const upsert = `INSERT INTO archived_jobs (job_id, scenario_id, status, completed_at_unix, record, summary)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (job_id) DO UPDATE SET
	scenario_id = EXCLUDED.scenario_id,
	status = EXCLUDED.status,
	completed_at_unix = EXCLUDED.completed_at_unix,
	record = EXCLUDED.record,
	summary = EXCLUDED.summary`
	if _, err := tx.ExecContext(ctx, upsert,
		job.JobID, job.ScenarioID, string(job.Status), job.CompletedAtUnix, record, summary); err != nil {
		return domain.WrapEngineError(domain.ErrArchiveUnavailable.Code, "upsert archived job", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM archived_phase_stats WHERE job_id = $1`, job.JobID); err != nil {
		return domain.WrapEngineError(domain.ErrArchiveUnavailable.Code, "clear archived stats", err)
	}
	for _, s := range stats {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO archived_phase_stats (job_id, phase, duration_ms, processed, failed) VALUES ($1, $2, $3, $4, $5)`,
			s.JobID, s.Phase, s.DurationMS, s.Processed, s.Failed); err != nil {
			return domain.WrapEngineError(domain.ErrArchiveUnavailable.Code, "insert archived stat", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapEngineError(domain.ErrArchiveUnavailable.Code, "commit archive tx", err)
	}
	committed = true
	return nil
}

// GetJob loads an archived job record by ID.
func (a *Archiver) GetJob(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	const q = `SELECT record FROM archived_jobs WHERE job_id = $1`
	var record []byte
	if err := a.db.QueryRowContext(ctx, q, jobID).Scan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		return nil, domain.WrapEngineError(domain.ErrArchiveUnavailable.Code, "query archived job", err)
	}
	var job domain.GenerationJob
	if err := json.Unmarshal(record, &job); err != nil {
		return nil, fmt.Errorf("decode archived job: %w", err)
	}
	return &job, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
