package notify

import (
	"context"
	"fmt"

	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

const batchLimit = 50

// Store is the slice of the data layer the notification engine needs.
type Store interface {
	ListNeedingNotification(ctx context.Context, limit int) ([]*models.ClientVuln, error)
	GetUpstreamVuln(ctx context.Context, id string) (*models.UpstreamVuln, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetLibrary(ctx context.Context, id string) (*models.Library, error)
	MarkReported(ctx context.Context, id string) error
}

// Engine owns the "find candidates, dispatch, advance status" loop.
// Everything past reported is operator-driven through the API.
type Engine struct {
	store     Store
	notifiers []Notifier
	logger    *logging.Logger
}

func New(store Store, notifiers []Notifier, logger *logging.Logger) *Engine {
	return &Engine{
		store:     store,
		notifiers: notifiers,
		logger:    logger.With("notify"),
	}
}

// Run dispatches one batch of verified-but-unreported rows. Returns the
// number successfully reported. A failed dispatch leaves its row at
// recorded; the next tick retries every channel for it.
func (e *Engine) Run(ctx context.Context) (int, error) {
	rows, err := e.store.ListNeedingNotification(ctx, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list vulns needing notification: %w", err)
	}

	reported := 0
	for _, cv := range rows {
		if err := e.NotifyOne(ctx, cv); err != nil {
			e.logger.Error("notify.dispatch_failed", "client_vuln_id", cv.ID, "error", err.Error())
			continue
		}
		reported++
	}
	return reported, nil
}

// NotifyOne assembles the alert and pushes it through every channel.
// All channels must accept before the row advances to reported.
func (e *Engine) NotifyOne(ctx context.Context, cv *models.ClientVuln) error {
	vuln, err := e.store.GetUpstreamVuln(ctx, cv.UpstreamVulnID)
	if err != nil {
		return fmt.Errorf("failed to load upstream vuln %s: %w", cv.UpstreamVulnID, err)
	}
	project, err := e.store.GetProject(ctx, cv.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to load project %s: %w", cv.ProjectID, err)
	}
	lib, err := e.store.GetLibrary(ctx, vuln.LibraryID)
	if err != nil {
		return fmt.Errorf("failed to load library %s: %w", vuln.LibraryID, err)
	}

	alert := &Alert{ClientVuln: cv, Vuln: vuln, Project: project, Library: lib}
	for _, n := range e.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			return fmt.Errorf("%s: %w", n.Name(), err)
		}
		e.logger.Debug("notify.delivered", "client_vuln_id", cv.ID, "channel", n.Name())
	}

	if err := e.store.MarkReported(ctx, cv.ID); err != nil {
		return fmt.Errorf("failed to mark reported: %w", err)
	}
	e.logger.Info("notify.reported",
		"client_vuln_id", cv.ID,
		"project_id", cv.ProjectID,
		"channels", len(e.notifiers))
	return nil
}
