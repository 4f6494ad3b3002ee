package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

const dependencyColumns = `id, project_id, library_id, constraint_expr, resolved_version,
	constraint_source, created_at, updated_at`

// SyncDependency is the scanner's upsert. Version fields are overwritten on
// conflict because the running build is authoritative for version, but a
// 'manual' constraint_source marker is never replaced.
func (s *Store) SyncDependency(ctx context.Context, projectID, libraryID string, constraintExpr, resolvedVersion *string, source string) (*models.ProjectDependency, error) {
	var dep models.ProjectDependency
	err := s.db.GetContext(ctx, &dep, `
		INSERT INTO project_dependencies
			(project_id, library_id, constraint_expr, resolved_version, constraint_source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, library_id) DO UPDATE SET
			constraint_expr   = EXCLUDED.constraint_expr,
			resolved_version  = EXCLUDED.resolved_version,
			constraint_source = CASE
				WHEN project_dependencies.constraint_source = 'manual'
					THEN project_dependencies.constraint_source
				ELSE EXCLUDED.constraint_source
			END
		RETURNING `+dependencyColumns,
		projectID, libraryID, constraintExpr, resolvedVersion, source)
	if err != nil {
		return nil, fmt.Errorf("failed to sync dependency: %w", err)
	}
	return &dep, nil
}

// InsertManualDependency records a user-entered dependency. The manual
// marker is set server-side; it is never part of a client request.
func (s *Store) InsertManualDependency(ctx context.Context, projectID, libraryID string, constraintExpr, resolvedVersion *string) (*models.ProjectDependency, error) {
	var dep models.ProjectDependency
	err := s.db.GetContext(ctx, &dep, `
		INSERT INTO project_dependencies
			(project_id, library_id, constraint_expr, resolved_version, constraint_source)
		VALUES ($1, $2, $3, $4, 'manual')
		ON CONFLICT (project_id, library_id) DO UPDATE SET
			constraint_expr   = EXCLUDED.constraint_expr,
			resolved_version  = EXCLUDED.resolved_version,
			constraint_source = 'manual'
		RETURNING `+dependencyColumns,
		projectID, libraryID, constraintExpr, resolvedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to insert manual dependency: %w", err)
	}
	return &dep, nil
}

// DeleteVanishedDependencies removes scanner-owned rows whose library no
// longer appears in the manifest. Manual rows are untouchable here.
func (s *Store) DeleteVanishedDependencies(ctx context.Context, projectID string, keepLibraryIDs []string) (int64, error) {
	var (
		query string
		args  []any
		err   error
	)
	if len(keepLibraryIDs) == 0 {
		query = `DELETE FROM project_dependencies
			WHERE project_id = $1 AND constraint_source <> 'manual'`
		args = []any{projectID}
	} else {
		query, args, err = sqlx.In(`DELETE FROM project_dependencies
			WHERE project_id = ? AND constraint_source <> 'manual'
			  AND library_id NOT IN (?)`, projectID, keepLibraryIDs)
		if err != nil {
			return 0, fmt.Errorf("failed to build delete query: %w", err)
		}
		query = s.db.Rebind(query)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete vanished dependencies: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetDependency loads one project/library edge.
func (s *Store) GetDependency(ctx context.Context, projectID, libraryID string) (*models.ProjectDependency, error) {
	var dep models.ProjectDependency
	err := s.db.GetContext(ctx, &dep, `
		SELECT `+dependencyColumns+` FROM project_dependencies
		WHERE project_id = $1 AND library_id = $2`,
		projectID, libraryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dependency: %w", err)
	}
	return &dep, nil
}

// ListDependenciesByProject returns every edge for one project.
func (s *Store) ListDependenciesByProject(ctx context.Context, projectID string) ([]*models.ProjectDependency, error) {
	var deps []*models.ProjectDependency
	err := s.db.SelectContext(ctx, &deps, `
		SELECT `+dependencyColumns+` FROM project_dependencies
		WHERE project_id = $1
		ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies by project: %w", err)
	}
	return deps, nil
}

// ListDependenciesByLibrary returns every project edge touching one library.
// The impact engine fans out over this set.
func (s *Store) ListDependenciesByLibrary(ctx context.Context, libraryID string) ([]*models.ProjectDependency, error) {
	var deps []*models.ProjectDependency
	err := s.db.SelectContext(ctx, &deps, `
		SELECT `+dependencyColumns+` FROM project_dependencies
		WHERE library_id = $1
		ORDER BY created_at ASC`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies by library: %w", err)
	}
	return deps, nil
}
