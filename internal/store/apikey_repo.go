package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/medforge/casgen/internal/domain"
)

// APIKeyRepo handles persistence for APIKey records.
type APIKeyRepo struct{}

// Create inserts a new API key record.
func (r *APIKeyRepo) Create(ctx context.Context, db *sql.DB, key domain.APIKey) error {
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}

	const q = `INSERT INTO api_keys (key_id, label, key_hash, scopes_json, rate_per_minute, disabled, created_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, q,
		key.ID,
		key.Label,
		key.Hash,
		string(scopes),
		key.RatePerMinute,
		boolToInt(key.Disabled),
		key.CreatedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetByHash retrieves a key by the SHA-256 hash of its secret. Lookup misses
// return ErrUnauthorized so callers never learn whether a key exists.
func (r *APIKeyRepo) GetByHash(ctx context.Context, db *sql.DB, hash string) (*domain.APIKey, error) {
	const q = `SELECT key_id, label, key_hash, scopes_json, rate_per_minute, disabled, created_at_unix
FROM api_keys WHERE key_hash = ?`

	row := db.QueryRowContext(ctx, q, hash)
	key, err := scanAPIKey(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

// GetByID retrieves a key by its public identifier.
func (r *APIKeyRepo) GetByID(ctx context.Context, db *sql.DB, keyID string) (*domain.APIKey, error) {
	const q = `SELECT key_id, label, key_hash, scopes_json, rate_per_minute, disabled, created_at_unix
FROM api_keys WHERE key_id = ?`

	row := db.QueryRowContext(ctx, q, keyID)
	key, err := scanAPIKey(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

// List returns all keys, oldest first. Hashes stay in the struct for
// administrative use; API handlers must not serialize them.
func (r *APIKeyRepo) List(ctx context.Context, db *sql.DB) ([]*domain.APIKey, error) {
	const q = `SELECT key_id, label, key_hash, scopes_json, rate_per_minute, disabled, created_at_unix
FROM api_keys ORDER BY created_at_unix ASC`

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// SetDisabled flips the disabled flag on a key.
func (r *APIKeyRepo) SetDisabled(ctx context.Context, db *sql.DB, keyID string, disabled bool) error {
	const q = `UPDATE api_keys SET disabled = ? WHERE key_id = ?`
	res, err := db.ExecContext(ctx, q, boolToInt(disabled), keyID)
	if err != nil {
		return fmt.Errorf("set api key disabled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrUnauthorized
	}
	return nil
}

func scanAPIKey(scan func(dest ...any) error) (*domain.APIKey, error) {
	var k domain.APIKey
	var scopesJSON string
	var disabled int
	err := scan(&k.ID, &k.Label, &k.Hash, &scopesJSON, &k.RatePerMinute, &disabled, &k.CreatedAtUnix)
	if err != nil {
		return nil, err
	}
	k.Disabled = disabled != 0
	if err := json.Unmarshal([]byte(scopesJSON), &k.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	return &k, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
