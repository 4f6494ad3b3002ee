package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vulnsentinel/vulnsentinel/internal/llm"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

// RunStore persists finished runs. *database.Store satisfies it.
type RunStore interface {
	SaveAgentRun(ctx context.Context, run *models.AgentRun, calls []*models.AgentToolCall) error
}

// RunContext accumulates the telemetry of one agent run: turn and token
// counters, cost, and the tool-call trace. One per run, never shared
// between goroutines. Cancellation comes from the context passed to Run;
// the loop checks it every turn and statuses the run cancelled.
type RunContext struct {
	RunID      string
	AgentType  string
	Engine     string
	TargetType string
	TargetID   string
	Model      string

	Turns        int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Calls        []models.AgentToolCall

	Status       models.AgentRunStatus
	Result       json.RawMessage
	ErrorMessage *string
	StartedAt    time.Time
}

// NewRunContext starts the clock for one run.
func NewRunContext(agentType, engine, model, targetType, targetID string) *RunContext {
	return &RunContext{
		RunID:      uuid.NewString(),
		AgentType:  agentType,
		Engine:     engine,
		Model:      model,
		TargetType: targetType,
		TargetID:   targetID,
		Status:     models.RunRunning,
		StartedAt:  time.Now().UTC(),
	}
}

// AddUsage folds one LLM response into the running totals.
func (rc *RunContext) AddUsage(resp *llm.ChatResponse) {
	rc.InputTokens += resp.InputTokens
	rc.OutputTokens += resp.OutputTokens
	rc.CostUSD += llm.EstimateCost(rc.Model, resp.InputTokens, resp.OutputTokens)
}

// RecordToolCall appends one entry to the tool trace.
func (rc *RunContext) RecordToolCall(turn, seq int, tool, inputJSON string, outputBytes int, duration time.Duration, isError bool) {
	rc.Calls = append(rc.Calls, models.AgentToolCall{
		RunID:       rc.RunID,
		Turn:        turn,
		Seq:         seq,
		Tool:        tool,
		InputJSON:   inputJSON,
		OutputBytes: outputBytes,
		DurationMS:  duration.Milliseconds(),
		IsError:     isError,
	})
}

// Finish stamps the terminal status.
func (rc *RunContext) Finish(status models.AgentRunStatus, err error) {
	rc.Status = status
	if err != nil {
		msg := err.Error()
		rc.ErrorMessage = &msg
	}
}

// Save writes the run row and its tool-call trace in one transaction.
func (rc *RunContext) Save(ctx context.Context, store RunStore) error {
	finished := time.Now().UTC()
	run := &models.AgentRun{
		ID:             rc.RunID,
		AgentType:      rc.AgentType,
		Engine:         rc.Engine,
		TargetType:     rc.TargetType,
		TargetID:       rc.TargetID,
		Model:          rc.Model,
		Turns:          rc.Turns,
		InputTokens:    rc.InputTokens,
		OutputTokens:   rc.OutputTokens,
		TotalToolCalls: len(rc.Calls),
		CostUSD:        rc.CostUSD,
		DurationMS:     finished.Sub(rc.StartedAt).Milliseconds(),
		Status:         rc.Status,
		Result:         rc.Result,
		ErrorMessage:   rc.ErrorMessage,
		StartedAt:      rc.StartedAt,
		FinishedAt:     &finished,
	}
	calls := make([]*models.AgentToolCall, len(rc.Calls))
	for i := range rc.Calls {
		calls[i] = &rc.Calls[i]
	}
	return store.SaveAgentRun(ctx, run, calls)
}
