package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

// SaveAgentRun persists a finished run and its tool calls in one transaction.
// Called exactly once per agent invocation, after the loop ends; telemetry
// is all-or-nothing so a run never appears without its calls.
func (s *Store) SaveAgentRun(ctx context.Context, run *models.AgentRun, calls []*models.AgentToolCall) error {
	result := run.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agent_runs (id, agent_type, engine, target_type, target_id,
				model, turns, input_tokens, output_tokens, total_tool_calls,
				cost_usd, duration_ms, status, result, error_message,
				started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			run.ID, run.AgentType, run.Engine, run.TargetType, run.TargetID,
			run.Model, run.Turns, run.InputTokens, run.OutputTokens, run.TotalToolCalls,
			run.CostUSD, run.DurationMS, run.Status, result, run.ErrorMessage,
			run.StartedAt, run.FinishedAt)
		if err != nil {
			return fmt.Errorf("failed to insert agent run: %w", err)
		}
		if len(calls) == 0 {
			return nil
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO agent_tool_calls (run_id, turn, seq, tool, input_json,
				output_bytes, duration_ms, is_error)
			VALUES (:run_id, :turn, :seq, :tool, :input_json,
				:output_bytes, :duration_ms, :is_error)`,
			calls)
		if err != nil {
			return fmt.Errorf("failed to insert agent tool calls: %w", err)
		}
		return nil
	})
}

// ListRecentAgentRuns returns the newest runs for the operations view.
func (s *Store) ListRecentAgentRuns(ctx context.Context, limit int) ([]*models.AgentRun, error) {
	var runs []*models.AgentRun
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, agent_type, engine, target_type, target_id, model, turns,
			input_tokens, output_tokens, total_tool_calls, cost_usd, duration_ms,
			status, result, error_message, started_at, finished_at, created_at
		FROM agent_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent runs: %w", err)
	}
	return runs, nil
}
