package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/medforge/casgen/internal/domain"
)

// JobRepo handles persistence for GenerationJob records.
type JobRepo struct{}

// CreateTx inserts a new job within an existing transaction.
func (r *JobRepo) CreateTx(ctx context.Context, tx *sql.Tx, job domain.GenerationJob) error {
	files, err := json.Marshal(job.OutputFiles)
	if err != nil {
		return fmt.Errorf("marshal output files: %w", err)
	}
	const q = `INSERT INTO jobs (job_id, scenario_id, seed, worker_count, batch_size, policy, status, progress, phase, phase_description, eta_seconds, requested, produced, failed_batches, error, state_version, last_event_seq, created_at_unix, started_at_unix, completed_at_unix, output_files_json, summary_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		job.JobID,
		job.ScenarioID,
		job.Seed,
		job.WorkerCount,
		job.BatchSize,
		string(job.Policy),
		string(job.Status),
		job.Progress,
		job.Phase,
		job.PhaseDescription,
		job.ETASeconds,
		job.Requested,
		job.Produced,
		job.FailedBatches,
		job.Error,
		job.StateVersion,
		job.LastEventSeq,
		job.CreatedAtUnix,
		job.StartedAtUnix,
		job.CompletedAtUnix,
		string(files),
		summaryJSON(job.Summary),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// UpdateStateTx updates a job within a transaction using optimistic locking.
// The update only succeeds if the current state_version matches the expected
// version; the stored version is incremented on success.
func (r *JobRepo) UpdateStateTx(ctx context.Context, tx *sql.Tx, job domain.GenerationJob) error {
	files, err := json.Marshal(job.OutputFiles)
	if err != nil {
		return fmt.Errorf("marshal output files: %w", err)
	}
	const q = `UPDATE jobs SET
		status = ?,
		progress = ?,
		phase = ?,
		phase_description = ?,
		eta_seconds = ?,
		requested = ?,
		produced = ?,
		failed_batches = ?,
		error = ?,
		state_version = state_version + 1,
		last_event_seq = ?,
		started_at_unix = ?,
		completed_at_unix = ?,
		output_files_json = ?,
		summary_json = ?,
		seed = ?
	WHERE job_id = ? AND state_version = ?`

	res, err := tx.ExecContext(ctx, q,
		string(job.Status),
		job.Progress,
		job.Phase,
		job.PhaseDescription,
		job.ETASeconds,
		job.Requested,
		job.Produced,
		job.FailedBatches,
		job.Error,
		job.LastEventSeq,
		job.StartedAtUnix,
		job.CompletedAtUnix,
		string(files),
		summaryJSON(job.Summary),
		job.Seed,
		job.JobID,
		job.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, db *sql.DB, jobID string) (*domain.GenerationJob, error) {
	const q = jobColumns + ` WHERE job_id = ?`

	row := db.QueryRowContext(ctx, q, jobID)
	job, err := scanJob(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns the most recent jobs, newest first, capped at limit.
func (r *JobRepo) List(ctx context.Context, db *sql.DB, limit int) ([]*domain.GenerationJob, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = jobColumns + ` ORDER BY created_at_unix DESC, job_id DESC LIMIT ?`

	rows, err := db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListUnfinished returns every job that has not reached a terminal status,
// oldest first.
func (r *JobRepo) ListUnfinished(ctx context.Context, db *sql.DB) ([]*domain.GenerationJob, error) {
	const q = jobColumns + ` WHERE status IN ('queued', 'initializing', 'running') ORDER BY created_at_unix ASC, job_id ASC`

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list unfinished jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountActive returns the number of jobs that have not reached a terminal
// status.
func (r *JobRepo) CountActive(ctx context.Context, db *sql.DB) (int, error) {
	const q = `SELECT COUNT(*) FROM jobs WHERE status IN ('queued', 'initializing', 'running')`
	var count int
	if err := db.QueryRowContext(ctx, q).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return count, nil
}

const jobColumns = `SELECT job_id, scenario_id, seed, worker_count, batch_size, policy, status, progress, phase, phase_description, eta_seconds, requested, produced, failed_batches, error, state_version, last_event_seq, created_at_unix, started_at_unix, completed_at_unix, output_files_json, summary_json
FROM jobs`

func scanJob(scan func(dest ...any) error) (*domain.GenerationJob, error) {
	var j domain.GenerationJob
	var policy, status, filesJSON, sumJSON string
	err := scan(&j.JobID, &j.ScenarioID, &j.Seed, &j.WorkerCount, &j.BatchSize,
		&policy, &status, &j.Progress, &j.Phase, &j.PhaseDescription, &j.ETASeconds,
		&j.Requested, &j.Produced, &j.FailedBatches, &j.Error,
		&j.StateVersion, &j.LastEventSeq,
		&j.CreatedAtUnix, &j.StartedAtUnix, &j.CompletedAtUnix, &filesJSON, &sumJSON)
	if err != nil {
		return nil, err
	}
	j.Policy = domain.FailurePolicy(policy)
	j.Status = domain.JobStatus(status)
	if err := json.Unmarshal([]byte(filesJSON), &j.OutputFiles); err != nil {
		return nil, fmt.Errorf("unmarshal output files: %w", err)
	}
	if sumJSON != "" {
		var s domain.Summary
		if err := json.Unmarshal([]byte(sumJSON), &s); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
		j.Summary = &s
	}
	return &j, nil
}

func summaryJSON(s *domain.Summary) string {
	if s == nil {
		return ""
	}
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b)
}
