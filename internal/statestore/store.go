// Package statestore persists migration results across restarts. The
// in-memory store is the default; the Postgres store is selected when
// a DSN is configured.
package statestore

import (
	"context"
	"errors"

	"github.com/rflorenc/chef-migration-workbench/internal/models"
)

// ErrNotFound is returned when no result exists for an ID.
var ErrNotFound = errors.New("statestore: migration result not found")

// Store is the persistence contract for migration results. Save is an
// upsert; the orchestrator calls it at every phase boundary.
type Store interface {
	Save(ctx context.Context, r *models.MigrationResult) error
	Get(ctx context.Context, id string) (*models.MigrationResult, error)
	List(ctx context.Context) ([]*models.MigrationResult, error)
}
