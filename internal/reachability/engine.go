package reachability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vulnsentinel/vulnsentinel/internal/config"
	apperrors "github.com/vulnsentinel/vulnsentinel/internal/errors"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
	"github.com/vulnsentinel/vulnsentinel/internal/scanner"
)

const (
	batchLimit    = 50
	snapshotReady = "ready"
)

// Checker is the collaborator surface. *Client satisfies it.
type Checker interface {
	CheckReachability(ctx context.Context, repoURL, version string, descriptor map[string]any) (bool, [][]string, error)
}

// Store is the slice of the data layer the reachability engine needs.
type Store interface {
	ListPendingReachability(ctx context.Context, limit int) ([]*models.ClientVuln, error)
	GetUpstreamVuln(ctx context.Context, id string) (*models.UpstreamVuln, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetLibrary(ctx context.Context, id string) (*models.Library, error)
	FindSnapshot(ctx context.Context, repoURL, version, backend string) (*models.Snapshot, error)
	MarkVerified(ctx context.Context, id string, reachablePath json.RawMessage) error
	MarkNotAffect(ctx context.Context, id string) error
	RecordReachabilityError(ctx context.Context, id, message string) error
}

// Engine resolves pending client-vulns to a verdict by delegating the
// actual code analysis to the collaborator. Rows whose prerequisites are
// missing stay pending and come back on the next poll.
type Engine struct {
	store       Store
	client      Checker
	backend     string
	concurrency int
	logger      *logging.Logger
}

func New(store Store, client Checker, cfg config.AnalysisConfig, logger *logging.Logger) *Engine {
	return &Engine{
		store:       store,
		client:      client,
		backend:     cfg.Backend,
		concurrency: cfg.Concurrency,
		logger:      logger.With("reachability"),
	}
}

// Run checks one batch of pending rows. Returns the number of verdicts
// reached so the scheduler knows whether to wake notification.
func (e *Engine) Run(ctx context.Context) (int, error) {
	rows, err := e.store.ListPendingReachability(ctx, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending reachability: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	concurrency := e.concurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	var verdicts atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, cv := range rows {
		g.Go(func() error {
			done, err := e.CheckOne(gctx, cv)
			if err != nil {
				// Row stays pending; nothing was decided.
				e.logger.Error("reachability.check_failed", "client_vuln_id", cv.ID, "error", err.Error())
				return nil
			}
			if done {
				verdicts.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	return int(verdicts.Load()), nil
}

// CheckOne resolves one row. done=true means a verdict was written;
// done=false with a nil error means the row stays pending for retry.
func (e *Engine) CheckOne(ctx context.Context, cv *models.ClientVuln) (bool, error) {
	uv, err := e.store.GetUpstreamVuln(ctx, cv.UpstreamVulnID)
	if err != nil {
		return false, fmt.Errorf("failed to load upstream vuln %s: %w", cv.UpstreamVulnID, err)
	}
	project, err := e.store.GetProject(ctx, cv.ProjectID)
	if err != nil {
		return false, fmt.Errorf("failed to load project %s: %w", cv.ProjectID, err)
	}
	lib, err := e.store.GetLibrary(ctx, uv.LibraryID)
	if err != nil {
		return false, fmt.Errorf("failed to load library %s: %w", uv.LibraryID, err)
	}

	version := projectRef(project)

	// Cheap local pre-check: when the collaborator has a snapshot row that
	// is still building, skip the HTTP round-trip entirely.
	if snap, serr := e.store.FindSnapshot(ctx, project.RepoURL, version, e.backend); serr == nil && snap.Status != snapshotReady {
		e.recordRetry(ctx, cv.ID, apperrors.Preconditionf("snapshot not ready (status %s)", snap.Status))
		return false, nil
	}

	descriptor := uv.Descriptor()
	descriptor["library_repo_url"] = lib.RepoURL
	if v := scanner.EffectiveVersion(cv.ResolvedVersion, cv.ConstraintExpr, lib.LatestTagVersion); v != "" {
		descriptor["library_version"] = v
	}

	reachable, paths, err := e.client.CheckReachability(ctx, project.RepoURL, version, descriptor)
	switch {
	case err == nil:
	case apperrors.IsPrecondition(err), apperrors.IsTransient(err):
		e.recordRetry(ctx, cv.ID, err)
		return false, nil
	default:
		// The collaborator rejected the analysis itself; that is a
		// verdict, not an outage. Exposure could not be shown.
		e.logger.Warn("reachability.analysis_rejected", "client_vuln_id", cv.ID, "error", err.Error())
		if merr := e.store.MarkNotAffect(ctx, cv.ID); merr != nil {
			return false, merr
		}
		return true, nil
	}

	if reachable {
		blob, err := json.Marshal(paths)
		if err != nil {
			return false, err
		}
		if err := e.store.MarkVerified(ctx, cv.ID, blob); err != nil {
			return false, err
		}
		e.logger.Info("reachability.verified",
			"client_vuln_id", cv.ID,
			"project_id", cv.ProjectID,
			"paths", len(paths))
		return true, nil
	}

	if err := e.store.MarkNotAffect(ctx, cv.ID); err != nil {
		return false, err
	}
	e.logger.Info("reachability.not_affect",
		"client_vuln_id", cv.ID,
		"project_id", cv.ProjectID)
	return true, nil
}

// recordRetry leaves the row pending with the failure on display.
func (e *Engine) recordRetry(ctx context.Context, id string, cause error) {
	e.logger.Debug("reachability.retry_later", "client_vuln_id", id, "error", cause.Error())
	msg := cause.Error()
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	if err := e.store.RecordReachabilityError(ctx, id, msg); err != nil {
		e.logger.Error("reachability.record_error_failed", "client_vuln_id", id, "error", err.Error())
	}
}

// projectRef is the code state the collaborator analyzes: an explicit pin
// wins, then the recorded version, then the branch head.
func projectRef(p *models.Project) string {
	if p.PinnedRef != nil && *p.PinnedRef != "" {
		return *p.PinnedRef
	}
	if p.CurrentVersion != nil && *p.CurrentVersion != "" {
		return *p.CurrentVersion
	}
	return p.DefaultBranch
}
