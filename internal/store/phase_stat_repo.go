package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/medforge/casgen/internal/domain"
)

// PhaseStatRepo handles persistence for PhaseStat records.
type PhaseStatRepo struct{}

// Create inserts a phase timing record for a job.
func (r *PhaseStatRepo) Create(ctx context.Context, db *sql.DB, stat domain.PhaseStat, createdAt int64) error {
	const q = `INSERT INTO phase_stats (job_id, phase, duration_ms, processed, failed, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		stat.JobID,
		stat.Phase,
		stat.DurationMS,
		stat.Processed,
		stat.Failed,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("create phase stat: %w", err)
	}
	return nil
}

// ListByJob returns all phase stats for a job, ordered by creation time.
func (r *PhaseStatRepo) ListByJob(ctx context.Context, db *sql.DB, jobID string) ([]domain.PhaseStat, error) {
	const q = `SELECT job_id, phase, duration_ms, processed, failed
FROM phase_stats
WHERE job_id = ?
ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("list phase stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.PhaseStat
	for rows.Next() {
		var s domain.PhaseStat
		if err := rows.Scan(&s.JobID, &s.Phase, &s.DurationMS, &s.Processed, &s.Failed); err != nil {
			return nil, fmt.Errorf("scan phase stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
