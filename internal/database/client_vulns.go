package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/vulnsentinel/vulnsentinel/internal/errors"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

const clientVulnColumns = `id, upstream_vuln_id, project_id, constraint_expr, resolved_version,
	constraint_source, fix_version, verdict, pipeline_status, status, is_affected,
	error_message, reachable_path, poc_results, report, recorded_at, reported_at,
	confirmed_at, fixed_at, not_affect_at, created_at, updated_at`

// statusTimestampColumn maps a user-visible status to the column stamped when
// the row enters it.
var statusTimestampColumn = map[models.ClientVulnStatus]string{
	models.StatusRecorded:  "recorded_at",
	models.StatusReported:  "reported_at",
	models.StatusConfirmed: "confirmed_at",
	models.StatusFixed:     "fixed_at",
	models.StatusNotAffect: "not_affect_at",
}

// CreateClientVuln inserts one fan-out row in pipeline state "pending".
// Returns ErrConflict when the (upstream_vuln_id, project_id) pair already
// exists, which impact workers treat as already present.
func (s *Store) CreateClientVuln(ctx context.Context, cv *models.ClientVuln) (*models.ClientVuln, error) {
	var out models.ClientVuln
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO client_vulns (upstream_vuln_id, project_id, constraint_expr,
			resolved_version, constraint_source, pipeline_status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING `+clientVulnColumns,
		cv.UpstreamVulnID, cv.ProjectID, cv.ConstraintExpr, cv.ResolvedVersion, cv.ConstraintSource)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create client vuln: %w", err)
	}
	return &out, nil
}

// ListPendingReachability returns rows awaiting a reachability verdict.
// Rows that previously failed on a precondition keep pipeline_status pending,
// so they come back on every poll until the collaborator is ready.
func (s *Store) ListPendingReachability(ctx context.Context, limit int) ([]*models.ClientVuln, error) {
	var vulns []*models.ClientVuln
	err := s.db.SelectContext(ctx, &vulns, `
		SELECT `+clientVulnColumns+` FROM client_vulns
		WHERE pipeline_status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reachability: %w", err)
	}
	return vulns, nil
}

// MarkVerified records a reachable verdict: pipeline verified, user-visible
// status recorded, is_affected true, path evidence attached.
func (s *Store) MarkVerified(ctx context.Context, id string, reachablePath json.RawMessage) error {
	if len(reachablePath) == 0 {
		reachablePath = json.RawMessage("null")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE client_vulns
		SET pipeline_status = 'verified',
		    status          = 'recorded',
		    is_affected     = TRUE,
		    reachable_path  = $2,
		    error_message   = NULL,
		    recorded_at     = now()
		WHERE id = $1`, id, reachablePath)
	if err != nil {
		return fmt.Errorf("failed to mark verified: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkNotAffect records an unreachable verdict. Terminal for both lifecycles.
func (s *Store) MarkNotAffect(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE client_vulns
		SET pipeline_status = 'not_affect',
		    status          = 'not_affect',
		    is_affected     = FALSE,
		    error_message   = NULL,
		    not_affect_at   = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark not_affect: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordReachabilityError notes a retryable precondition failure (snapshot
// not ready, target functions unknown). pipeline_status stays pending so the
// next poll retries.
func (s *Store) RecordReachabilityError(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE client_vulns SET error_message = $2 WHERE id = $1`,
		id, message)
	if err != nil {
		return fmt.Errorf("failed to record reachability error: %w", err)
	}
	return nil
}

// ListNeedingNotification returns verified rows still in "recorded".
func (s *Store) ListNeedingNotification(ctx context.Context, limit int) ([]*models.ClientVuln, error) {
	var vulns []*models.ClientVuln
	err := s.db.SelectContext(ctx, &vulns, `
		SELECT `+clientVulnColumns+` FROM client_vulns
		WHERE pipeline_status = 'verified' AND status = 'recorded'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list vulns needing notification: %w", err)
	}
	return vulns, nil
}

// MarkReported advances recorded -> reported after successful delivery. The
// status guard in the WHERE clause makes concurrent deliveries a no-op rather
// than an error; the notification was sent either way.
func (s *Store) MarkReported(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE client_vulns
		SET status = 'reported', reported_at = now()
		WHERE id = $1 AND status = 'recorded'`, id)
	if err != nil {
		return fmt.Errorf("failed to mark reported: %w", err)
	}
	return nil
}

// UpdateClientVulnStatus applies an operator-driven status change under the
// transition rules. Runs in a transaction with the row locked so concurrent
// operators cannot skip a step.
func (s *Store) UpdateClientVulnStatus(ctx context.Context, id string, to models.ClientVulnStatus) error {
	col, ok := statusTimestampColumn[to]
	if !ok {
		return apperrors.Preconditionf("unknown status %q", to)
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var current *models.ClientVulnStatus
		err := tx.GetContext(ctx, &current,
			`SELECT status FROM client_vulns WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load client vuln status: %w", err)
		}
		if !models.ValidStatusTransition(current, to) {
			from := "null"
			if current != nil {
				from = string(*current)
			}
			return apperrors.InvalidTransition(from, string(to))
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE client_vulns SET status = $2, `+col+` = now() WHERE id = $1`,
			id, to)
		if err != nil {
			return fmt.Errorf("failed to update client vuln status: %w", err)
		}
		return nil
	})
}

// GetClientVuln loads one row by ID.
func (s *Store) GetClientVuln(ctx context.Context, id string) (*models.ClientVuln, error) {
	var cv models.ClientVuln
	err := s.db.GetContext(ctx, &cv,
		`SELECT `+clientVulnColumns+` FROM client_vulns WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client vuln: %w", err)
	}
	return &cv, nil
}

// ListClientVulnsByProject returns a cursor page of a project's rows.
func (s *Store) ListClientVulnsByProject(ctx context.Context, projectID string, codec *CursorCodec, after *Cursor, limit int) (Page[*models.ClientVuln], error) {
	var vulns []*models.ClientVuln
	var err error
	if after != nil {
		err = s.db.SelectContext(ctx, &vulns, `
			SELECT `+clientVulnColumns+` FROM client_vulns
			WHERE project_id = $1 AND (created_at, id) < ($2, $3::uuid)
			ORDER BY created_at DESC, id DESC LIMIT $4`,
			projectID, after.CreatedAt, after.ID, limit+1)
	} else {
		err = s.db.SelectContext(ctx, &vulns, `
			SELECT `+clientVulnColumns+` FROM client_vulns
			WHERE project_id = $1
			ORDER BY created_at DESC, id DESC LIMIT $2`,
			projectID, limit+1)
	}
	if err != nil {
		return Page[*models.ClientVuln]{}, fmt.Errorf("failed to list client vulns: %w", err)
	}
	return pageFrom(vulns, limit, codec, func(cv *models.ClientVuln) Cursor {
		return Cursor{CreatedAt: cv.CreatedAt, ID: cv.ID}
	}), nil
}
