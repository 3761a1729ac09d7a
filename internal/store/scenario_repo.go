package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/medforge/casgen/internal/domain"
)

// ScenarioRecord is a stored scenario definition. The definition is kept as
// the raw submitted JSON so stored scenarios round-trip unchanged.
type ScenarioRecord struct {
	ID            string
	Name          string
	Definition    string
	CreatedAtUnix int64
	UpdatedAtUnix int64
}

// ScenarioRepo handles persistence for stored scenario definitions.
type ScenarioRepo struct{}

// Create inserts a new scenario record.
func (r *ScenarioRepo) Create(ctx context.Context, db *sql.DB, rec ScenarioRecord) error {
	const q = `INSERT INTO scenarios (scenario_id, name, definition_json, created_at_unix, updated_at_unix)
VALUES (?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		rec.ID,
		rec.Name,
		rec.Definition,
		rec.CreatedAtUnix,
		rec.UpdatedAtUnix,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.NewEngineError(domain.ErrDuplicateScenario.Code, fmt.Sprintf("scenario %q already exists", rec.ID))
		}
		return fmt.Errorf("create scenario: %w", err)
	}
	return nil
}

// Update replaces the name and definition of an existing scenario.
func (r *ScenarioRepo) Update(ctx context.Context, db *sql.DB, rec ScenarioRecord) error {
	const q = `UPDATE scenarios SET name = ?, definition_json = ?, updated_at_unix = ?
WHERE scenario_id = ?`
	res, err := db.ExecContext(ctx, q, rec.Name, rec.Definition, rec.UpdatedAtUnix, rec.ID)
	if err != nil {
		return fmt.Errorf("update scenario: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrScenarioNotFound
	}
	return nil
}

// GetByID retrieves a scenario by its ID.
func (r *ScenarioRepo) GetByID(ctx context.Context, db *sql.DB, id string) (*ScenarioRecord, error) {
	const q = `SELECT scenario_id, name, definition_json, created_at_unix, updated_at_unix
FROM scenarios WHERE scenario_id = ?`

	var rec ScenarioRecord
	err := db.QueryRowContext(ctx, q, id).Scan(&rec.ID, &rec.Name, &rec.Definition, &rec.CreatedAtUnix, &rec.UpdatedAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrScenarioNotFound
		}
		return nil, fmt.Errorf("get scenario: %w", err)
	}
	return &rec, nil
}

// List returns all stored scenarios, newest first.
func (r *ScenarioRepo) List(ctx context.Context, db *sql.DB) ([]ScenarioRecord, error) {
	const q = `SELECT scenario_id, name, definition_json, created_at_unix, updated_at_unix
FROM scenarios ORDER BY created_at_unix DESC, scenario_id DESC`

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	defer rows.Close()

	var recs []ScenarioRecord
	for rows.Next() {
		var rec ScenarioRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Definition, &rec.CreatedAtUnix, &rec.UpdatedAtUnix); err != nil {
			return nil, fmt.Errorf("scan scenario: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Delete removes a scenario. Jobs that already referenced it keep their copy
// of the definition, so deletion does not affect running or finished jobs.
func (r *ScenarioRepo) Delete(ctx context.Context, db *sql.DB, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM scenarios WHERE scenario_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete scenario: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrScenarioNotFound
	}
	return nil
}
