package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors register against the default registry; the API server's
// /metrics endpoint serves them via promhttp.

var (
	engineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vulnsentinel",
		Name:      "engine_runs_total",
		Help:      "Engine batch runs by outcome.",
	}, []string{"engine", "status"})
	engineProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vulnsentinel",
		Name:      "engine_processed_total",
		Help:      "Items an engine acted on across all runs.",
	}, []string{"engine"})
	engineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vulnsentinel",
		Name:      "engine_run_duration_seconds",
		Help:      "Wall time of one engine batch run.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"engine"})

	agentRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vulnsentinel",
		Name:      "agent_runs_total",
		Help:      "LLM agent runs by terminal status.",
	}, []string{"agent_type", "status"})
	agentTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vulnsentinel",
		Name:      "agent_tokens_total",
		Help:      "Tokens consumed by agent runs.",
	}, []string{"agent_type", "direction"})
	agentCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vulnsentinel",
		Name:      "agent_cost_usd_total",
		Help:      "Estimated spend of agent runs in USD.",
	}, []string{"agent_type"})

	githubRateRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vulnsentinel",
		Name:      "github_rate_remaining",
		Help:      "Remaining requests in the current GitHub rate window.",
	})

	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vulnsentinel",
		Name:      "llm_requests_total",
		Help:      "Raw chat completion requests by provider and outcome.",
	}, []string{"provider", "status"})
)

// ObserveEngineRun records one scheduler-driven batch.
func ObserveEngineRun(engine string, processed int, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	engineRuns.WithLabelValues(engine, status).Inc()
	engineProcessed.WithLabelValues(engine).Add(float64(processed))
	engineDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

// ObserveAgentRun records one terminal agent run.
func ObserveAgentRun(agentType, status string, inputTokens, outputTokens int, costUSD float64) {
	agentRuns.WithLabelValues(agentType, status).Inc()
	agentTokens.WithLabelValues(agentType, "input").Add(float64(inputTokens))
	agentTokens.WithLabelValues(agentType, "output").Add(float64(outputTokens))
	agentCost.WithLabelValues(agentType).Add(costUSD)
}

// SetGitHubRateRemaining tracks the most recent rate-limit header.
func SetGitHubRateRemaining(remaining int) {
	githubRateRemaining.Set(float64(remaining))
}

// ObserveLLMRequest records one provider round-trip.
func ObserveLLMRequest(provider string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmRequests.WithLabelValues(provider, status).Inc()
}
