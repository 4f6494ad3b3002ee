package impact

import (
	"context"
	"errors"
	"fmt"

	"github.com/vulnsentinel/vulnsentinel/internal/database"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

const batchLimit = 50

// Store is the slice of the data layer the impact engine needs.
type Store interface {
	ListPublishedNeedingImpact(ctx context.Context, limit int) ([]*models.UpstreamVuln, error)
	ListPublishedVulnsMissingForProject(ctx context.Context, projectID string) ([]*models.UpstreamVuln, error)
	ListDependenciesByLibrary(ctx context.Context, libraryID string) ([]*models.ProjectDependency, error)
	GetDependency(ctx context.Context, projectID, libraryID string) (*models.ProjectDependency, error)
	CreateClientVuln(ctx context.Context, cv *models.ClientVuln) (*models.ClientVuln, error)
}

// Engine fans published upstream vulns out to every dependent project. It
// performs no version matching: affected_versions is LLM-produced free
// text, so the fan-out is a pass-through and Reachability owns the
// affected-or-not verdict. Version fields are copied onto each row for
// human reference only.
type Engine struct {
	store  Store
	logger *logging.Logger
}

func New(store Store, logger *logging.Logger) *Engine {
	return &Engine{store: store, logger: logger.With("impact")}
}

// Run fans out one batch. Returns the number of client_vulns created so
// the scheduler knows whether to wake reachability.
func (e *Engine) Run(ctx context.Context) (int, error) {
	vulns, err := e.store.ListPublishedNeedingImpact(ctx, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list vulns needing impact: %w", err)
	}

	created := 0
	for _, v := range vulns {
		n, err := e.FanOut(ctx, v)
		created += n
		if err != nil {
			e.logger.Error("impact.fanout_failed", "vuln_id", v.ID, "error", err.Error())
		}
	}
	return created, nil
}

// FanOut inserts one client_vulns row per project depending on the vuln's
// library. The unique (upstream_vuln_id, project_id) pair makes re-runs
// and concurrent workers converge on the same rows.
func (e *Engine) FanOut(ctx context.Context, v *models.UpstreamVuln) (int, error) {
	deps, err := e.store.ListDependenciesByLibrary(ctx, v.LibraryID)
	if err != nil {
		return 0, fmt.Errorf("failed to list dependents of %s: %w", v.LibraryID, err)
	}

	created := 0
	for _, dep := range deps {
		inserted, err := e.insert(ctx, v.ID, dep)
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
	}
	if created > 0 {
		e.logger.Info("impact.fanout",
			"vuln_id", v.ID,
			"library_id", v.LibraryID,
			"projects", created)
	}
	return created, nil
}

// BackfillProject creates rows for published vulns that predate a project
// registration or a newly synced dependency. Called from the API when a
// project or manual dependency is created.
func (e *Engine) BackfillProject(ctx context.Context, projectID string) (int, error) {
	vulns, err := e.store.ListPublishedVulnsMissingForProject(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to list backfill vulns: %w", err)
	}

	created := 0
	for _, v := range vulns {
		dep, err := e.store.GetDependency(ctx, projectID, v.LibraryID)
		if err != nil {
			// The dependency can vanish between the two queries; skip.
			if errors.Is(err, database.ErrNotFound) {
				continue
			}
			return created, err
		}
		inserted, err := e.insert(ctx, v.ID, dep)
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
	}
	if created > 0 {
		e.logger.Info("impact.backfill", "project_id", projectID, "created", created)
	}
	return created, nil
}

func (e *Engine) insert(ctx context.Context, vulnID string, dep *models.ProjectDependency) (bool, error) {
	_, err := e.store.CreateClientVuln(ctx, &models.ClientVuln{
		UpstreamVulnID:   vulnID,
		ProjectID:        dep.ProjectID,
		ConstraintExpr:   dep.ConstraintExpr,
		ResolvedVersion:  dep.ResolvedVersion,
		ConstraintSource: &dep.ConstraintSource,
	})
	if errors.Is(err, database.ErrConflict) {
		e.logger.Debug("impact.already_present",
			"vuln_id", vulnID,
			"project_id", dep.ProjectID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create client vuln for project %s: %w", dep.ProjectID, err)
	}
	return true, nil
}
