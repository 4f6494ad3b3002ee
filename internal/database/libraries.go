package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

const libraryColumns = `id, name, repo_url, platform, default_branch, latest_commit_sha,
	latest_tag_version, last_activity_at, created_at, updated_at`

// UpsertLibrary inserts a library or refreshes an existing row with the same
// name. A name collision with a different repo_url is rejected so a fork
// cannot silently take over a monitored name.
func (s *Store) UpsertLibrary(ctx context.Context, name, repoURL, platform, defaultBranch string) (*models.Library, error) {
	if platform == "" {
		platform = models.PlatformGitHub
	}
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	var lib models.Library
	query := `
		INSERT INTO libraries (name, repo_url, platform, default_branch)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
			SET default_branch = EXCLUDED.default_branch
			WHERE libraries.repo_url = EXCLUDED.repo_url
		RETURNING ` + libraryColumns
	err := s.db.GetContext(ctx, &lib, query, name, repoURL, platform, defaultBranch)
	if errors.Is(err, sql.ErrNoRows) {
		// The gated update matched nothing: same name, different repo.
		return nil, fmt.Errorf("library %q already registered with a different repo_url: %w", name, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert library: %w", err)
	}
	return &lib, nil
}

// GetLibrary loads one library by ID.
func (s *Store) GetLibrary(ctx context.Context, id string) (*models.Library, error) {
	var lib models.Library
	err := s.db.GetContext(ctx, &lib,
		`SELECT `+libraryColumns+` FROM libraries WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library: %w", err)
	}
	return &lib, nil
}

// GetLibraryByName loads one library by its unique name.
func (s *Store) GetLibraryByName(ctx context.Context, name string) (*models.Library, error) {
	var lib models.Library
	err := s.db.GetContext(ctx, &lib,
		`SELECT `+libraryColumns+` FROM libraries WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library by name: %w", err)
	}
	return &lib, nil
}

// ListStaleLibraries returns libraries whose last collection happened before
// the activity window, oldest first.
func (s *Store) ListStaleLibraries(ctx context.Context, window time.Duration, limit int) ([]*models.Library, error) {
	var libs []*models.Library
	err := s.db.SelectContext(ctx, &libs, `
		SELECT `+libraryColumns+`
		FROM libraries
		WHERE last_activity_at IS NULL OR last_activity_at < now() - $1::interval
		ORDER BY last_activity_at ASC NULLS FIRST
		LIMIT $2`,
		window.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale libraries: %w", err)
	}
	return libs, nil
}

// AdvanceLibraryPointers records collection progress. Nil values leave the
// stored pointer untouched; last_activity_at always advances to now.
func (s *Store) AdvanceLibraryPointers(ctx context.Context, id string, latestCommitSHA, latestTagVersion *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE libraries
		SET latest_commit_sha  = COALESCE($2, latest_commit_sha),
		    latest_tag_version = COALESCE($3, latest_tag_version),
		    last_activity_at   = now()
		WHERE id = $1`,
		id, latestCommitSHA, latestTagVersion)
	if err != nil {
		return fmt.Errorf("failed to advance library pointers: %w", err)
	}
	return nil
}

// ListLibraries returns a cursor page ordered (created_at DESC, id DESC).
func (s *Store) ListLibraries(ctx context.Context, codec *CursorCodec, after *Cursor, limit int) (Page[*models.Library], error) {
	var libs []*models.Library
	var err error
	if after != nil {
		err = s.db.SelectContext(ctx, &libs, `
			SELECT `+libraryColumns+` FROM libraries
			WHERE (created_at, id) < ($1, $2::uuid)
			ORDER BY created_at DESC, id DESC LIMIT $3`,
			after.CreatedAt, after.ID, limit+1)
	} else {
		err = s.db.SelectContext(ctx, &libs, `
			SELECT `+libraryColumns+` FROM libraries
			ORDER BY created_at DESC, id DESC LIMIT $1`, limit+1)
	}
	if err != nil {
		return Page[*models.Library]{}, fmt.Errorf("failed to list libraries: %w", err)
	}
	return pageFrom(libs, limit, codec, func(l *models.Library) Cursor {
		return Cursor{CreatedAt: l.CreatedAt, ID: l.ID}
	}), nil
}
