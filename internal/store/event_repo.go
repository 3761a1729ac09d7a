package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/medforge/casgen/internal/domain"
)

// JobEventRepo handles persistence for JobEvent records.
type JobEventRepo struct{}

// AppendTx inserts a progress event within an existing transaction. Sequence
// numbers are unique per job; appending a duplicate returns ErrDuplicateEvent.
func (r *JobEventRepo) AppendTx(ctx context.Context, tx *sql.Tx, event domain.JobEvent) error {
	const q = `INSERT INTO job_events (job_id, seq_no, progress, phase, description, eta_seconds, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		event.JobID,
		event.SeqNo,
		event.Progress,
		event.Phase,
		event.Description,
		event.ETASeconds,
		event.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListByJob returns events for a job with sequence numbers greater than sinceSeq,
// ordered by sequence number ascending.
func (r *JobEventRepo) ListByJob(ctx context.Context, db *sql.DB, jobID string, sinceSeq int64) ([]domain.JobEvent, error) {
	const q = `SELECT id, job_id, seq_no, progress, phase, description, eta_seconds, created_at
FROM job_events
WHERE job_id = ? AND seq_no > ?
ORDER BY seq_no ASC`

	rows, err := db.QueryContext(ctx, q, jobID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.JobEvent
	for rows.Next() {
		var e domain.JobEvent
		if err := rows.Scan(&e.ID, &e.JobID, &e.SeqNo, &e.Progress, &e.Phase, &e.Description, &e.ETASeconds, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
