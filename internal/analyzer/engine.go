package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vulnsentinel/vulnsentinel/internal/agent"
	"github.com/vulnsentinel/vulnsentinel/internal/cache"
	"github.com/vulnsentinel/vulnsentinel/internal/config"
	"github.com/vulnsentinel/vulnsentinel/internal/database"
	"github.com/vulnsentinel/vulnsentinel/internal/github"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

const batchLimit = 20

// analyzerContextTokens is higher than the package default because the
// analyzer reads whole patches across up to fifteen turns.
const analyzerContextTokens = 64000

// Store is the slice of the data layer the analyzer needs.
type Store interface {
	ListBugfixEventsNeedingAnalysis(ctx context.Context, limit int) ([]*models.Event, error)
	GetLibrary(ctx context.Context, id string) (*models.Library, error)
	CreateUpstreamVuln(ctx context.Context, eventID, libraryID, commitSHA string) (*models.UpstreamVuln, error)
	UpdateAnalysis(ctx context.Context, id string, a database.VulnAnalysis) error
	PublishVuln(ctx context.Context, id string) error
	SetVulnError(ctx context.Context, id, message string) error
}

// Engine turns security-bugfix events into published upstream_vulns rows.
// A placeholder row is created before any LLM work so the event is
// reserved; failures leave that row in "analyzing" with error_message set.
type Engine struct {
	store       Store
	gh          agent.RepoReader
	cache       cache.Cache
	runner      *agent.Runner
	concurrency int
	logger      *logging.Logger
}

func New(store Store, ghClient agent.RepoReader, contentCache cache.Cache, llmClient agent.ChatClient, runStore agent.RunStore, cfg *config.Config, logger *logging.Logger) *Engine {
	runner := agent.NewRunner(llmClient, runStore, logger, agent.Config{
		AgentType:         "vuln_analyzer",
		Engine:            "analyzer",
		TargetType:        "event",
		MaxTurns:          15,
		Temperature:       0.2,
		EnableCompression: true,
		MaxContextTokens:  analyzerContextTokens,
	})
	return &Engine{
		store:       store,
		gh:          ghClient,
		cache:       contentCache,
		runner:      runner,
		concurrency: cfg.Analyzer.Concurrency,
		logger:      logger.With("analyzer"),
	}
}

// Run analyzes one batch of pending bugfix events. Returns the number of
// vulns published so the scheduler knows whether to wake the impact engine.
func (e *Engine) Run(ctx context.Context) (int, error) {
	events, err := e.store.ListBugfixEventsNeedingAnalysis(ctx, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list bugfix events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	concurrency := e.concurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	var published atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, ev := range events {
		g.Go(func() error {
			n, err := e.AnalyzeOne(gctx, ev)
			published.Add(int64(n))
			if err != nil {
				// The placeholder holds the reservation; the failure is on
				// the row, not retried blindly.
				e.logger.Error("analyze.event_failed", "event_id", ev.ID, "error", err.Error())
			}
			return nil
		})
	}
	g.Wait()
	return int(published.Load()), nil
}

// AnalyzeOne runs the full lifecycle for one event: reserve, analyze,
// publish every finding. Returns the number of vulns published.
func (e *Engine) AnalyzeOne(ctx context.Context, ev *models.Event) (int, error) {
	lib, err := e.store.GetLibrary(ctx, ev.LibraryID)
	if err != nil {
		return 0, fmt.Errorf("failed to load library %s: %w", ev.LibraryID, err)
	}
	owner, repo, err := github.ParseRepoURL(lib.RepoURL)
	if err != nil {
		return 0, err
	}

	sha := commitSHAFor(ev)
	placeholder, err := e.store.CreateUpstreamVuln(ctx, ev.ID, ev.LibraryID, sha)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve event %s: %w", ev.ID, err)
	}

	started := time.Now()
	task := newAnalyzerTask(ev, sha, agent.NewRepoTools(e.gh, e.cache, owner, repo), owner, repo)
	res, err := e.runner.Run(ctx, task, ev.ID)
	if err != nil {
		e.recordFailure(ctx, placeholder.ID, err)
		return 0, err
	}

	var findings []finding
	if err := json.Unmarshal(res.Output, &findings); err != nil {
		err = fmt.Errorf("failed to decode analyzer output: %w", err)
		e.recordFailure(ctx, placeholder.ID, err)
		return 0, err
	}
	if len(findings) == 0 {
		err = fmt.Errorf("analyzer returned an empty findings array")
		e.recordFailure(ctx, placeholder.ID, err)
		return 0, err
	}

	published, err := e.publishFindings(ctx, ev, sha, placeholder.ID, findings)
	if err != nil {
		if published == 0 {
			e.recordFailure(ctx, placeholder.ID, err)
		}
		return published, err
	}

	e.logger.Info("analyze.event_done",
		"event_id", ev.ID,
		"findings", published,
		"duration_ms", time.Since(started).Milliseconds())
	return published, nil
}

// publishFindings writes every finding. The first reuses the placeholder;
// each extra finding gets its own row.
func (e *Engine) publishFindings(ctx context.Context, ev *models.Event, sha, placeholderID string, findings []finding) (int, error) {
	published := 0
	for i, f := range findings {
		id := placeholderID
		if i > 0 {
			extra, err := e.store.CreateUpstreamVuln(ctx, ev.ID, ev.LibraryID, sha)
			if err != nil {
				return published, fmt.Errorf("failed to create row for finding %d: %w", i, err)
			}
			id = extra.ID
		}
		analysis := e.analysisFrom(ev, f)
		if err := e.store.UpdateAnalysis(ctx, id, analysis); err != nil {
			return published, err
		}
		if err := e.store.PublishVuln(ctx, id); err != nil {
			return published, err
		}
		e.logger.Info("analyze.published",
			"vuln_id", id,
			"event_id", ev.ID,
			"vuln_type", analysis.VulnType,
			"severity", analysis.Severity)
		published++
	}
	return published, nil
}

func (e *Engine) analysisFrom(ev *models.Event, f finding) database.VulnAnalysis {
	sev, exact := NormalizeSeverity(f.Severity)
	if !exact {
		e.logger.Warn("analyze.severity_coerced",
			"event_id", ev.ID,
			"raw", f.Severity,
			"using", sev)
	}
	return database.VulnAnalysis{
		VulnType:          f.VulnType,
		Severity:          sev,
		AffectedVersions:  f.AffectedVersions,
		Summary:           f.Summary,
		Reasoning:         f.Reasoning,
		UpstreamPoc:       f.UpstreamPoc,
		AffectedFunctions: f.AffectedFunctions,
	}
}

// recordFailure stamps the placeholder with the failure. Status stays
// "analyzing": the reservation must hold so the event is not re-analyzed
// every tick, and the row documents what went wrong.
func (e *Engine) recordFailure(ctx context.Context, vulnID string, cause error) {
	msg := cause.Error()
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	if err := e.store.SetVulnError(context.WithoutCancel(ctx), vulnID, msg); err != nil {
		e.logger.Error("analyze.set_error_failed", "vuln_id", vulnID, "error", err.Error())
	}
}

// commitSHAFor picks the fix commit recorded on the vuln row. Commit
// events carry it in ref; PR merges and issues point at it through the
// cross-reference when the collector resolved one.
func commitSHAFor(e *models.Event) string {
	if e.Type == models.EventCommit {
		return e.Ref
	}
	if e.RelatedCommitSHA != nil {
		return *e.RelatedCommitSHA
	}
	return ""
}
