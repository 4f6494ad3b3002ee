package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

const upstreamVulnColumns = `id, event_id, library_id, commit_sha, vuln_type, severity,
	affected_versions, summary, reasoning, upstream_poc, affected_functions,
	status, error_message, published_at, created_at, updated_at`

// VulnAnalysis carries the analyzer's structured output for one finding.
type VulnAnalysis struct {
	VulnType          string
	Severity          models.Severity
	AffectedVersions  string
	Summary           string
	Reasoning         string
	UpstreamPoc       json.RawMessage
	AffectedFunctions []string
}

// CreateUpstreamVuln inserts a placeholder row in "analyzing" state. The row
// reserves the event: ListBugfixEventsNeedingAnalysis stops returning the
// event the moment this commits, even while the LLM is still working.
func (s *Store) CreateUpstreamVuln(ctx context.Context, eventID, libraryID, commitSHA string) (*models.UpstreamVuln, error) {
	var v models.UpstreamVuln
	err := s.db.GetContext(ctx, &v, `
		INSERT INTO upstream_vulns (event_id, library_id, commit_sha, status)
		VALUES ($1, $2, $3, 'analyzing')
		RETURNING `+upstreamVulnColumns,
		eventID, libraryID, commitSHA)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream vuln: %w", err)
	}
	return &v, nil
}

// UpdateAnalysis writes the finding fields onto a row. Status is untouched;
// Publish is a separate step so a crash between the two leaves the row in
// "analyzing" and visible to operators via error_message.
func (s *Store) UpdateAnalysis(ctx context.Context, id string, a VulnAnalysis) error {
	poc := a.UpstreamPoc
	if len(poc) == 0 {
		poc = json.RawMessage("null")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE upstream_vulns
		SET vuln_type          = $2,
		    severity           = $3,
		    affected_versions  = $4,
		    summary            = $5,
		    reasoning          = $6,
		    upstream_poc       = $7,
		    affected_functions = $8
		WHERE id = $1`,
		id, a.VulnType, a.Severity, a.AffectedVersions, a.Summary, a.Reasoning,
		poc, pq.StringArray(a.AffectedFunctions))
	if err != nil {
		return fmt.Errorf("failed to update analysis: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PublishVuln flips a row to "published" and stamps published_at. Clears any
// stale error_message from a previous failed attempt.
func (s *Store) PublishVuln(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE upstream_vulns
		SET status = 'published', published_at = now(), error_message = NULL
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to publish vuln: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetVulnError records an analysis failure. Status stays "analyzing", so the
// reservation holds and the event is not re-analyzed; the row is durable
// evidence of the failure.
func (s *Store) SetVulnError(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE upstream_vulns SET error_message = $2 WHERE id = $1`,
		id, message)
	if err != nil {
		return fmt.Errorf("failed to set vuln error: %w", err)
	}
	return nil
}

// ListPublishedNeedingImpact returns published vulns that have no client_vulns
// rows at all and at least one dependent project. The dependents clause keeps
// vulns on libraries nobody uses from being re-selected forever; late project
// registrations are covered by the backfill path instead.
func (s *Store) ListPublishedNeedingImpact(ctx context.Context, limit int) ([]*models.UpstreamVuln, error) {
	var vulns []*models.UpstreamVuln
	err := s.db.SelectContext(ctx, &vulns, `
		SELECT `+upstreamVulnColumns+` FROM upstream_vulns uv
		WHERE uv.status = 'published'
		  AND NOT EXISTS (SELECT 1 FROM client_vulns cv WHERE cv.upstream_vuln_id = uv.id)
		  AND EXISTS (SELECT 1 FROM project_dependencies pd WHERE pd.library_id = uv.library_id)
		ORDER BY uv.created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list vulns needing impact: %w", err)
	}
	return vulns, nil
}

// ListPublishedVulnsMissingForProject returns published vulns on libraries the
// project depends on that have no client_vulns row for that project. Used to
// backfill a newly registered project with findings that predate it.
func (s *Store) ListPublishedVulnsMissingForProject(ctx context.Context, projectID string) ([]*models.UpstreamVuln, error) {
	var vulns []*models.UpstreamVuln
	err := s.db.SelectContext(ctx, &vulns, `
		SELECT `+upstreamVulnColumns+` FROM upstream_vulns uv
		WHERE uv.status = 'published'
		  AND EXISTS (
			SELECT 1 FROM project_dependencies pd
			WHERE pd.project_id = $1 AND pd.library_id = uv.library_id)
		  AND NOT EXISTS (
			SELECT 1 FROM client_vulns cv
			WHERE cv.upstream_vuln_id = uv.id AND cv.project_id = $1)
		ORDER BY uv.created_at ASC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list backfill vulns: %w", err)
	}
	return vulns, nil
}

// GetUpstreamVuln loads one vulnerability by ID.
func (s *Store) GetUpstreamVuln(ctx context.Context, id string) (*models.UpstreamVuln, error) {
	var v models.UpstreamVuln
	err := s.db.GetContext(ctx, &v,
		`SELECT `+upstreamVulnColumns+` FROM upstream_vulns WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upstream vuln: %w", err)
	}
	return &v, nil
}

// ListUpstreamVulnsByLibrary returns a cursor page of a library's vulns.
func (s *Store) ListUpstreamVulnsByLibrary(ctx context.Context, libraryID string, codec *CursorCodec, after *Cursor, limit int) (Page[*models.UpstreamVuln], error) {
	var vulns []*models.UpstreamVuln
	var err error
	if after != nil {
		err = s.db.SelectContext(ctx, &vulns, `
			SELECT `+upstreamVulnColumns+` FROM upstream_vulns
			WHERE library_id = $1 AND (created_at, id) < ($2, $3::uuid)
			ORDER BY created_at DESC, id DESC LIMIT $4`,
			libraryID, after.CreatedAt, after.ID, limit+1)
	} else {
		err = s.db.SelectContext(ctx, &vulns, `
			SELECT `+upstreamVulnColumns+` FROM upstream_vulns
			WHERE library_id = $1
			ORDER BY created_at DESC, id DESC LIMIT $2`,
			libraryID, limit+1)
	}
	if err != nil {
		return Page[*models.UpstreamVuln]{}, fmt.Errorf("failed to list upstream vulns: %w", err)
	}
	return pageFrom(vulns, limit, codec, func(v *models.UpstreamVuln) Cursor {
		return Cursor{CreatedAt: v.CreatedAt, ID: v.ID}
	}), nil
}

// ListUpstreamVulns returns a cursor page over every upstream vuln, newest
// first. The dashboard's findings feed.
func (s *Store) ListUpstreamVulns(ctx context.Context, codec *CursorCodec, after *Cursor, limit int) (Page[*models.UpstreamVuln], error) {
	var vulns []*models.UpstreamVuln
	var err error
	if after != nil {
		err = s.db.SelectContext(ctx, &vulns, `
			SELECT `+upstreamVulnColumns+` FROM upstream_vulns
			WHERE (created_at, id) < ($1, $2::uuid)
			ORDER BY created_at DESC, id DESC LIMIT $3`,
			after.CreatedAt, after.ID, limit+1)
	} else {
		err = s.db.SelectContext(ctx, &vulns, `
			SELECT `+upstreamVulnColumns+` FROM upstream_vulns
			ORDER BY created_at DESC, id DESC LIMIT $1`,
			limit+1)
	}
	if err != nil {
		return Page[*models.UpstreamVuln]{}, fmt.Errorf("failed to list upstream vulns: %w", err)
	}
	return pageFrom(vulns, limit, codec, func(v *models.UpstreamVuln) Cursor {
		return Cursor{CreatedAt: v.CreatedAt, ID: v.ID}
	}), nil
}
