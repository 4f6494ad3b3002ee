package classifier

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
	"github.com/vulnsentinel/vulnsentinel/internal/github"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

const batchLimit = 50

// Store is the slice of the data layer the classifier needs.
type Store interface {
	ListUnclassifiedEvents(ctx context.Context, limit int) ([]*models.Event, error)
	SetClassification(ctx context.Context, eventID string, class models.Classification, confidence float64) error
	GetLibrary(ctx context.Context, id string) (*models.Library, error)
}

// Engine assigns a classification to every unclassified event: rules
// first, LLM only for what the rules cannot decide. Only the LLM path may
// produce security_bugfix, and only at or above the confidence threshold.
type Engine struct {
	store       Store
	gh          agent.RepoReader
	cache       cache.Cache
	prefilter   *PreFilter
	runner      *agent.Runner
	escalation  *agent.Runner
	threshold   float64
	concurrency int
	logger      *logging.Logger
}

// New builds the engine. ghClient may be nil in rule-only test setups; the
// LLM path then fails per event without touching the batch.
func New(store Store, ghClient agent.RepoReader, contentCache cache.Cache, llmClient agent.ChatClient, runStore agent.RunStore, cfg *config.Config, logger *logging.Logger) (*Engine, error) {
	rules, err := LoadRules(cfg.Classifier.RulesPath)
	if err != nil {
		return nil, err
	}

	base := agent.Config{
		AgentType:   "event_classifier",
		Engine:      "classifier",
		TargetType:  "event",
		MaxTurns:    5,
		Temperature: 0.2,
	}
	e := &Engine{
		store:       store,
		gh:          ghClient,
		cache:       contentCache,
		prefilter:   NewPreFilter(rules),
		runner:      agent.NewRunner(llmClient, runStore, logger, base),
		threshold:   cfg.LLM.ConfidenceThreshold,
		concurrency: cfg.Classifier.Concurrency,
		logger:      logger.With("classifier"),
	}
	if cfg.LLM.EscalationModel != "" {
		esc := base
		esc.Model = cfg.LLM.EscalationModel
		e.escalation = agent.NewRunner(llmClient, runStore, logger, esc)
	}
	return e, nil
}

// Run classifies one batch of unclassified events. Returns the number of
// events labeled so the scheduler knows whether to wake the analyzer.
func (e *Engine) Run(ctx context.Context) (int, error) {
	events, err := e.store.ListUnclassifiedEvents(ctx, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list unclassified events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	concurrency := e.concurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	var classified atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, ev := range events {
		g.Go(func() error {
			if err := e.ClassifyOne(gctx, ev); err != nil {
				// Classification stays NULL; the next tick retries.
				e.logger.Error("classify.event_failed", "event_id", ev.ID, "error", err.Error())
				return nil
			}
			classified.Add(1)
			return nil
		})
	}
	g.Wait()
	return int(classified.Load()), nil
}

// ClassifyOne labels a single event and persists the result. The rule
// verdict is free; otherwise one LLM run decides, with an optional
// stronger-model re-run for shaky security labels.
func (e *Engine) ClassifyOne(ctx context.Context, ev *models.Event) error {
	started := time.Now()
	if verdict, ok := e.prefilter.Apply(ev); ok {
		if err := e.store.SetClassification(ctx, ev.ID, verdict.Class, verdict.Confidence); err != nil {
			return err
		}
		e.logger.Info("classify.rule",
			"event_id", ev.ID,
			"classification", verdict.Class,
			"confidence", verdict.Confidence)
		return nil
	}

	class, confidence, err := e.classifyWithLLM(ctx, ev)
	if err != nil {
		return err
	}
	if err := e.store.SetClassification(ctx, ev.ID, class, confidence); err != nil {
		return err
	}
	e.logger.Info("classify.llm",
		"event_id", ev.ID,
		"classification", class,
		"confidence", confidence,
		"duration_ms", time.Since(started).Milliseconds())
	return nil
}

func (e *Engine) classifyWithLLM(ctx context.Context, ev *models.Event) (models.Classification, float64, error) {
	lib, err := e.store.GetLibrary(ctx, ev.LibraryID)
	if err != nil {
		return "", 0, fmt.Errorf("failed to load library %s: %w", ev.LibraryID, err)
	}
	owner, repo, err := github.ParseRepoURL(lib.RepoURL)
	if err != nil {
		return "", 0, err
	}

	task := newClassifierTask(ev, agent.NewRepoTools(e.gh, e.cache, owner, repo), owner, repo)
	class, confidence, err := e.runAndReduce(ctx, e.runner, task, ev.ID)
	if err != nil {
		return "", 0, err
	}

	// Shaky security labels get one re-run on the stronger model before
	// anything is written.
	if class == models.ClassSecurityBugfix && confidence < e.threshold && e.escalation != nil {
		e.logger.Info("classify.escalate", "event_id", ev.ID, "confidence", confidence)
		class, confidence, err = e.runAndReduce(ctx, e.escalation, task, ev.ID)
		if err != nil {
			return "", 0, err
		}
	}

	// A security label below the threshold never reaches the database; a
	// false positive here would fan out to every dependent project.
	if class == models.ClassSecurityBugfix && confidence < e.threshold {
		e.logger.Warn("classify.low_confidence_downgrade",
			"event_id", ev.ID,
			"confidence", confidence,
			"threshold", e.threshold)
		class = models.ClassNormalBugfix
	}
	return class, confidence, nil
}

// runAndReduce executes one agent run and maps its output onto the enum.
func (e *Engine) runAndReduce(ctx context.Context, runner *agent.Runner, task *classifierTask, eventID string) (models.Classification, float64, error) {
	res, err := runner.Run(ctx, task, eventID)
	if err != nil {
		return "", 0, err
	}

	var out classifierOutput
	if err := json.Unmarshal(res.Output, &out); err != nil {
		return "", 0, fmt.Errorf("failed to decode classifier output: %w", err)
	}
	class, known := ReduceLabel(out.Classification)
	if !known {
		e.logger.Warn("classify.unknown_label",
			"event_id", eventID,
			"label", out.Classification)
	}
	confidence := out.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return class, confidence, nil
}
