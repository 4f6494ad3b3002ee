package collector

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/sync/errgroup"

	"github.com/vulnsentinel/vulnsentinel/internal/config"
	"github.com/vulnsentinel/vulnsentinel/internal/github"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

const batchLimit = 50

// BugLabels selects which issues count as bug reports.
var BugLabels = []string{"bug"}

// GitHubAPI is the slice of the GitHub client the collector needs.
type GitHubAPI interface {
	ListCommitsSince(ctx context.Context, owner, repo, branch string, since time.Time, maxPages int) ([]*gh.RepositoryCommit, error)
	ListClosedPRsSince(ctx context.Context, owner, repo string, since time.Time) ([]*gh.PullRequest, error)
	ListTagsUntil(ctx context.Context, owner, repo, knownTag string) ([]*gh.RepositoryTag, error)
	ListBugIssuesSince(ctx context.Context, owner, repo string, labels []string, since time.Time) ([]*gh.Issue, error)
}

// Store is the slice of the data layer the collector needs.
type Store interface {
	ListStaleLibraries(ctx context.Context, window time.Duration, limit int) ([]*models.Library, error)
	InsertEvents(ctx context.Context, events []*models.Event) (int, error)
	AdvanceLibraryPointers(ctx context.Context, id string, latestCommitSHA, latestTagVersion *string) error
}

// Engine ingests upstream activity into the events table. Each run picks
// libraries whose window has lapsed and fans out per library; one library's
// failure never touches another's pointers.
type Engine struct {
	store  Store
	gh     GitHubAPI
	cfg    config.CollectorConfig
	logger *logging.Logger
}

func New(store Store, ghAPI GitHubAPI, cfg config.CollectorConfig, logger *logging.Logger) *Engine {
	return &Engine{
		store:  store,
		gh:     ghAPI,
		cfg:    cfg,
		logger: logger.With("collector"),
	}
}

// Run collects all stale libraries once. Returns the number of newly
// inserted events so the scheduler knows whether to wake the classifier.
func (e *Engine) Run(ctx context.Context) (int, error) {
	libs, err := e.store.ListStaleLibraries(ctx, e.cfg.ActivityWindow, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale libraries: %w", err)
	}
	if len(libs) == 0 {
		return 0, nil
	}

	concurrency := e.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	var inserted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, lib := range libs {
		g.Go(func() error {
			n, err := e.CollectLibrary(gctx, lib)
			if err != nil {
				// Pointers were not advanced, so the whole window replays
				// next tick and ON CONFLICT absorbs the duplicates.
				e.logger.Error("collect.library_failed", "library", lib.Name, "error", err.Error())
				return nil
			}
			inserted.Add(int64(n))
			return nil
		})
	}
	g.Wait()
	return int(inserted.Load()), nil
}

// CollectLibrary runs the four fetches for one library, inserts the batch,
// and advances the pointers. All four sources must succeed before any
// pointer moves.
func (e *Engine) CollectLibrary(ctx context.Context, lib *models.Library) (int, error) {
	owner, repo, err := github.ParseRepoURL(lib.RepoURL)
	if err != nil {
		return 0, err
	}

	since, firstRun := e.sinceFor(lib)
	commitPages := 0
	if firstRun {
		commitPages = 1
	}
	knownTag := ""
	if lib.LatestTagVersion != nil {
		knownTag = *lib.LatestTagVersion
	}

	started := time.Now()
	var (
		commits []*gh.RepositoryCommit
		prs     []*gh.PullRequest
		tags    []*gh.RepositoryTag
		issues  []*gh.Issue
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		commits, err = e.gh.ListCommitsSince(gctx, owner, repo, lib.DefaultBranch, since, commitPages)
		return err
	})
	g.Go(func() error {
		var err error
		prs, err = e.gh.ListClosedPRsSince(gctx, owner, repo, since)
		return err
	})
	g.Go(func() error {
		var err error
		tags, err = e.gh.ListTagsUntil(gctx, owner, repo, knownTag)
		return err
	})
	g.Go(func() error {
		var err error
		issues, err = e.gh.ListBugIssuesSince(gctx, owner, repo, BugLabels, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	events := commitsToEvents(lib.ID, owner, repo, commits)
	events = append(events, prsToEvents(lib.ID, owner, repo, prs, since)...)
	events = append(events, tagsToEvents(lib.ID, tags, time.Now().UTC())...)
	events = append(events, issuesToEvents(lib.ID, owner, repo, issues)...)

	inserted := 0
	if len(events) > 0 {
		inserted, err = e.store.InsertEvents(ctx, events)
		if err != nil {
			return 0, err
		}
	}

	var newestSHA, newestTag *string
	if len(commits) > 0 {
		// The commits listing is newest-first.
		newestSHA = strPtr(commits[0].GetSHA())
	}
	if len(tags) > 0 {
		newestTag = strPtr(tags[0].GetName())
	}
	if err := e.store.AdvanceLibraryPointers(ctx, lib.ID, newestSHA, newestTag); err != nil {
		return inserted, err
	}

	e.logger.Info("collect.library_done",
		"library", lib.Name,
		"fetched", len(events),
		"inserted", inserted,
		"duration_ms", time.Since(started).Milliseconds())
	return inserted, nil
}

// sinceFor picks the fetch boundary: the stored pointer, or a bounded
// backfill window on first contact.
func (e *Engine) sinceFor(lib *models.Library) (time.Time, bool) {
	if lib.LastActivityAt != nil {
		return *lib.LastActivityAt, false
	}
	window := e.cfg.FirstRunWindow
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return time.Now().UTC().Add(-window), true
}
