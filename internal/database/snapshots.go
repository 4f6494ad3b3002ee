package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

// FindSnapshot locates a call-graph build record by its natural key. Rows are
// written by the static-analysis collaborator; this side only reads them.
func (s *Store) FindSnapshot(ctx context.Context, repoURL, version, backend string) (*models.Snapshot, error) {
	var snap models.Snapshot
	err := s.db.GetContext(ctx, &snap, `
		SELECT id, repo_url, version, backend, status, created_at, updated_at
		FROM snapshots
		WHERE repo_url = $1 AND version = $2 AND backend = $3`,
		repoURL, version, backend)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find snapshot: %w", err)
	}
	return &snap, nil
}
