package statestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rflorenc/chef-migration-workbench/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS chef_migrations (
    id         TEXT PRIMARY KEY,
    status     TEXT NOT NULL,
    data       JSONB NOT NULL DEFAULT '{}',
    started_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_chef_migrations_status  ON chef_migrations(status);
CREATE INDEX IF NOT EXISTS idx_chef_migrations_started ON chef_migrations(started_at);
`

// PGStore implements Store on PostgreSQL via pgx. The full result is
// kept as JSONB; status and started_at are broken out for querying.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore wraps an existing pgx connection pool.
func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// CreateSchema creates the chef_migrations table if it doesn't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// Save upserts a result keyed by its UUID.
func (s *PGStore) Save(ctx context.Context, r *models.MigrationResult) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO chef_migrations (id, status, data, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status, data = EXCLUDED.data, updated_at = NOW()`,
		r.ID, string(r.Status), r, r.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("statestore: save result %s: %w", r.ID, err)
	}
	return nil
}

// Get fetches one result by ID. Returns ErrNotFound when absent.
func (s *PGStore) Get(ctx context.Context, id string) (*models.MigrationResult, error) {
	var r models.MigrationResult
	err := s.db.QueryRow(ctx,
		`SELECT data FROM chef_migrations WHERE id = $1`, id,
	).Scan(&r)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("statestore: get result %s: %w", id, err)
	}
	return &r, nil
}

// List returns all results, most recent first.
func (s *PGStore) List(ctx context.Context) ([]*models.MigrationResult, error) {
	rows, err := s.db.Query(ctx,
		`SELECT data FROM chef_migrations ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("statestore: list results: %w", err)
	}
	defer rows.Close()

	results := []*models.MigrationResult{}
	for rows.Next() {
		var r models.MigrationResult
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("statestore: scan result: %w", err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statestore: rows: %w", err)
	}
	return results, nil
}
