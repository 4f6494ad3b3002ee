package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

const projectColumns = `id, name, repo_url, platform, default_branch, contact, current_version,
	pinned_ref, auto_sync_deps, monitoring_since, last_scanned_at, created_at, updated_at`

// CreateProject registers a new project for surveillance.
func (s *Store) CreateProject(ctx context.Context, p *models.Project) (*models.Project, error) {
	if p.Platform == "" {
		p.Platform = models.PlatformGitHub
	}
	if p.DefaultBranch == "" {
		p.DefaultBranch = "main"
	}

	var created models.Project
	err := s.db.GetContext(ctx, &created, `
		INSERT INTO projects (name, repo_url, platform, default_branch, contact,
			current_version, pinned_ref, auto_sync_deps)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+projectColumns,
		p.Name, p.RepoURL, p.Platform, p.DefaultBranch, p.Contact,
		p.CurrentVersion, p.PinnedRef, p.AutoSyncDeps)
	if IsUniqueViolation(err) {
		return nil, fmt.Errorf("project with repo_url %q already exists: %w", p.RepoURL, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return &created, nil
}

// GetProject loads one project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	err := s.db.GetContext(ctx, &p,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// ListDueForScan returns projects with auto-sync enabled whose last scan is
// older than the freshness window.
func (s *Store) ListDueForScan(ctx context.Context, window time.Duration) ([]*models.Project, error) {
	var projects []*models.Project
	err := s.db.SelectContext(ctx, &projects, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE auto_sync_deps
		  AND (last_scanned_at IS NULL OR last_scanned_at < now() - $1::interval)
		ORDER BY last_scanned_at ASC NULLS FIRST`,
		window.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list projects due for scan: %w", err)
	}
	return projects, nil
}

// TouchLastScanned records scan completion time.
func (s *Store) TouchLastScanned(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET last_scanned_at = now() WHERE id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("failed to touch last_scanned_at: %w", err)
	}
	return nil
}

// ListProjects returns a cursor page ordered (created_at DESC, id DESC).
func (s *Store) ListProjects(ctx context.Context, codec *CursorCodec, after *Cursor, limit int) (Page[*models.Project], error) {
	var projects []*models.Project
	var err error
	if after != nil {
		err = s.db.SelectContext(ctx, &projects, `
			SELECT `+projectColumns+` FROM projects
			WHERE (created_at, id) < ($1, $2::uuid)
			ORDER BY created_at DESC, id DESC LIMIT $3`,
			after.CreatedAt, after.ID, limit+1)
	} else {
		err = s.db.SelectContext(ctx, &projects, `
			SELECT `+projectColumns+` FROM projects
			ORDER BY created_at DESC, id DESC LIMIT $1`, limit+1)
	}
	if err != nil {
		return Page[*models.Project]{}, fmt.Errorf("failed to list projects: %w", err)
	}
	return pageFrom(projects, limit, codec, func(p *models.Project) Cursor {
		return Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	}), nil
}
