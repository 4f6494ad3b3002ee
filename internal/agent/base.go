package agent

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/vulnsentinel/vulnsentinel/internal/errors"
	"github.com/vulnsentinel/vulnsentinel/internal/llm"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/metrics"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

const (
	defaultMaxTurns            = 10
	defaultMaxTokens           = 4096
	defaultMaxToolOutputTokens = 4000
	defaultMaxContextTokens    = 16000

	compressEveryTurns = 5
	truncationMarker   = "\n\n[output truncated]"
)

// Task is one agent job: prompts, tools, and result extraction. Hooks
// beyond these four methods are optional interfaces the runner probes
// with type assertions.
type Task interface {
	// SystemPrompt returns the system message for the whole run.
	SystemPrompt() string
	// InitialMessage returns the first user message.
	InitialMessage() string
	// CreateToolServer builds a fresh tool server for this run. Tools
	// close over run-scoped dependencies; nothing is shared between runs.
	CreateToolServer(ctx context.Context) (*ToolServer, error)
	// ParseResult extracts structured output from the final assistant text.
	ParseResult(content string) (json.RawMessage, error)
}

// urgencyProvider tasks inject a reminder on the penultimate turn.
type urgencyProvider interface {
	UrgencyMessage(turn, maxTurns int) string
}

// stopper tasks end the loop early, e.g. once valid JSON shows up in a
// response that still requested tools.
type stopper interface {
	ShouldStop(resp *llm.ChatResponse) bool
}

// compressionCriteriaProvider tasks steer what the history summarizer
// must preserve.
type compressionCriteriaProvider interface {
	CompressionCriteria() string
}

// Config fixes the per-agent-type knobs. Zero values fall back to the
// package defaults; Model falls back to the client default.
type Config struct {
	AgentType           string
	Engine              string
	TargetType          string
	Model               string
	CompressionModel    string
	MaxTurns            int
	MaxTokens           int
	Temperature         float64
	EnableCompression   bool
	MaxToolOutputTokens int
	MaxContextTokens    int
}

// Result is the caller-facing snapshot of one finished run.
type Result struct {
	RunID        string
	Status       models.AgentRunStatus
	Output       json.RawMessage
	Content      string
	Turns        int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// ChatClient is the LLM surface the runner uses. *llm.Client satisfies it.
type ChatClient interface {
	Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	DefaultModel() string
}

// Runner drives the tool-use loop for one agent type. A Runner is
// immutable after construction and safe for concurrent Run calls; all
// per-run state lives in locals and the RunContext.
type Runner struct {
	llm    ChatClient
	store  RunStore
	logger *logging.Logger
	cfg    Config
}

// NewRunner wires a runner. A nil store skips run persistence, which the
// CLI one-shot commands use.
func NewRunner(client ChatClient, store RunStore, logger *logging.Logger, cfg Config) *Runner {
	if cfg.Model == "" {
		cfg.Model = client.DefaultModel()
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxToolOutputTokens <= 0 {
		cfg.MaxToolOutputTokens = defaultMaxToolOutputTokens
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = defaultMaxContextTokens
	}
	return &Runner{llm: client, store: store, logger: logger, cfg: cfg}
}

// Run executes the loop until the model answers without tool calls, a
// task hook stops it, the turn budget runs out, or the context window
// guard trips. The returned Result is populated even when err is non-nil
// so callers can log run telemetry for failures.
func (r *Runner) Run(ctx context.Context, task Task, targetID string) (*Result, error) {
	rc := NewRunContext(r.cfg.AgentType, r.cfg.Engine, r.cfg.Model, r.cfg.TargetType, targetID)
	log := r.logger.ForAgent(r.cfg.AgentType, rc.RunID, targetID)
	log.Info("agent.start", "model", r.cfg.Model, "max_turns", r.cfg.MaxTurns)

	output, content, runErr := r.loop(ctx, task, rc, log)

	switch {
	case runErr == nil:
		rc.Result = output
		rc.Finish(models.RunCompleted, nil)
	case ctx.Err() != nil:
		rc.Finish(models.RunCancelled, runErr)
	default:
		rc.Finish(models.RunFailed, runErr)
	}

	if r.store != nil {
		// Telemetry for cancelled runs still gets written.
		if err := rc.Save(context.WithoutCancel(ctx), r.store); err != nil {
			log.Warn("agent.save_failed", "error", err)
		}
	}
	metrics.ObserveAgentRun(rc.AgentType, string(rc.Status), rc.InputTokens, rc.OutputTokens, rc.CostUSD)
	log.Info("agent.done",
		"status", rc.Status,
		"turns", rc.Turns,
		"tool_calls", len(rc.Calls),
		"input_tokens", rc.InputTokens,
		"output_tokens", rc.OutputTokens,
		"cost_usd", rc.CostUSD,
		"duration_ms", time.Since(rc.StartedAt).Milliseconds())

	return &Result{
		RunID:        rc.RunID,
		Status:       rc.Status,
		Output:       rc.Result,
		Content:      content,
		Turns:        rc.Turns,
		InputTokens:  rc.InputTokens,
		OutputTokens: rc.OutputTokens,
		CostUSD:      rc.CostUSD,
	}, runErr
}

func (r *Runner) loop(ctx context.Context, task Task, rc *RunContext, log *logging.Logger) (json.RawMessage, string, error) {
	server, err := task.CreateToolServer(ctx)
	if err != nil {
		return nil, "", apperrors.Wrapf(err, apperrors.KindInternal, "failed to create tool server")
	}

	messages := []llm.Message{llm.UserMessage(task.InitialMessage())}
	var lastContent string

	for turn := 1; turn <= r.cfg.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, lastContent, err
		}
		rc.Turns = turn

		// The prompt only grows; once past the ceiling, answer with what
		// we have instead of burning tokens on a doomed turn.
		if rc.InputTokens >= r.cfg.MaxContextTokens {
			log.Warn("agent.context_guard", "turn", turn, "input_tokens", rc.InputTokens)
			break
		}

		if turn == r.cfg.MaxTurns-1 {
			if up, ok := task.(urgencyProvider); ok {
				if msg := up.UrgencyMessage(turn, r.cfg.MaxTurns); msg != "" {
					messages = append(messages, llm.UserMessage(msg))
				}
			}
		}

		resp, err := r.llm.Chat(ctx, &llm.ChatRequest{
			Model:        r.cfg.Model,
			SystemPrompt: task.SystemPrompt(),
			Messages:     messages,
			Tools:        server.Tools(),
			MaxTokens:    r.cfg.MaxTokens,
			Temperature:  r.cfg.Temperature,
		})
		if err != nil {
			return nil, lastContent, err
		}
		rc.AddUsage(resp)
		if resp.Content != "" {
			lastContent = resp.Content
		}
		log.Debug("agent.turn",
			"turn", turn,
			"stop_reason", resp.StopReason,
			"requested_tools", len(resp.ToolCalls),
			"content", resp.Content)

		if len(resp.ToolCalls) == 0 {
			break
		}
		if st, ok := task.(stopper); ok && st.ShouldStop(resp) {
			break
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for seq, tc := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, lastContent, err
			}
			messages = append(messages, r.executeTool(ctx, server, rc, log, turn, seq, tc))
		}

		if r.cfg.EnableCompression {
			window := llm.ContextWindow(r.cfg.Model)
			if turn%compressEveryTurns == 0 || rc.InputTokens > window*8/10 {
				messages = r.compressHistory(ctx, task, messages, log)
			}
		}
	}

	output, perr := task.ParseResult(lastContent)
	if perr != nil {
		return nil, lastContent, apperrors.Wrapf(perr, apperrors.KindParse, "failed to parse agent result after %d turns", rc.Turns)
	}
	return output, lastContent, nil
}

// executeTool runs one requested call and folds the outcome into a tool
// result message. Tool failures are not loop failures: the error text is
// handed back to the model so it can adapt.
func (r *Runner) executeTool(ctx context.Context, server *ToolServer, rc *RunContext, log *logging.Logger, turn, seq int, tc llm.ToolCall) llm.Message {
	args := map[string]any{}
	var argErr error
	if tc.Arguments != "" {
		argErr = json.Unmarshal([]byte(tc.Arguments), &args)
	}

	started := time.Now()
	var out string
	var callErr error
	if argErr != nil {
		callErr = apperrors.Wrapf(argErr, apperrors.KindParse, "malformed arguments for %s", tc.Name)
	} else {
		out, callErr = server.Call(ctx, tc.Name, args)
	}
	duration := time.Since(started)

	isError := callErr != nil
	if isError {
		out = "ERROR: " + callErr.Error()
	}
	out = truncateToolOutput(out, r.cfg.MaxToolOutputTokens)

	rc.RecordToolCall(turn, seq, tc.Name, tc.Arguments, len(out), duration, isError)
	log.Info("tool.call",
		"turn", turn,
		"tool", tc.Name,
		"duration_ms", duration.Milliseconds(),
		"output_bytes", len(out),
		"is_error", isError)

	return llm.ToolResult(tc.ID, tc.Name, out)
}

// truncateToolOutput caps tool output at roughly maxTokens worth of text,
// at four characters per token.
func truncateToolOutput(s string, maxTokens int) string {
	limit := maxTokens * 4
	if len(s) <= limit {
		return s
	}
	return s[:limit] + truncationMarker
}
