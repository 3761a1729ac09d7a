package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/medforge/casgen/internal/domain"
)

// AuditRepo handles persistence for AuditRecord entries.
type AuditRepo struct{}

// Record inserts an audit record.
func (r *AuditRepo) Record(ctx context.Context, db *sql.DB, rec domain.AuditRecord) error {
	detail := rec.Detail
	if detail == "" {
		detail = "{}"
	}
	const q = `INSERT INTO audit_records (id, subject, category, actor, action, detail_json, severity, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		rec.ID,
		rec.Subject,
		rec.Category,
		rec.Actor,
		rec.Action,
		detail,
		rec.Severity,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// ListBySubject returns all audit records for a subject (a job ID, scenario
// ID, or key ID), ordered by creation time.
func (r *AuditRepo) ListBySubject(ctx context.Context, db *sql.DB, subject string) ([]domain.AuditRecord, error) {
	const q = `SELECT id, subject, category, actor, action, detail_json, severity, created_at
FROM audit_records
WHERE subject = ?
ORDER BY created_at ASC`

	rows, err := db.QueryContext(ctx, q, subject)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var a domain.AuditRecord
		if err := rows.Scan(&a.ID, &a.Subject, &a.Category, &a.Actor, &a.Action,
			&a.Detail, &a.Severity, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, a)
	}
	return records, rows.Err()
}
