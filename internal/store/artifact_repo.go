package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/medforge/casgen/internal/domain"
)

// ArtifactRepo handles persistence for Artifact records. Rows index what the
// artifact store holds so the API can list a job's outputs without walking
// the backend.
type ArtifactRepo struct{}

// Create inserts a new artifact record.
func (r *ArtifactRepo) Create(ctx context.Context, db *sql.DB, a domain.Artifact) error {
	const q = `INSERT INTO artifacts (job_id, key, size_bytes, content_type, sha256, created_at_unix)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		a.JobID,
		a.Key,
		a.SizeBytes,
		a.ContentType,
		a.SHA256,
		a.CreatedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	return nil
}

// GetByKey retrieves an artifact record by its store key.
func (r *ArtifactRepo) GetByKey(ctx context.Context, db *sql.DB, key string) (*domain.Artifact, error) {
	const q = `SELECT job_id, key, size_bytes, content_type, sha256, created_at_unix
FROM artifacts WHERE key = ?`

	var a domain.Artifact
	err := db.QueryRowContext(ctx, q, key).Scan(&a.JobID, &a.Key, &a.SizeBytes, &a.ContentType, &a.SHA256, &a.CreatedAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return &a, nil
}

// ListByJob returns all artifacts registered for a job, ordered by creation time.
func (r *ArtifactRepo) ListByJob(ctx context.Context, db *sql.DB, jobID string) ([]domain.Artifact, error) {
	const q = `SELECT job_id, key, size_bytes, content_type, sha256, created_at_unix
FROM artifacts
WHERE job_id = ?
ORDER BY created_at_unix ASC, key ASC`

	rows, err := db.QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		if err := rows.Scan(&a.JobID, &a.Key, &a.SizeBytes, &a.ContentType, &a.SHA256, &a.CreatedAtUnix); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
