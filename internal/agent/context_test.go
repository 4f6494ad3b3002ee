package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnsentinel/vulnsentinel/internal/llm"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

func TestRunContextAccumulatesUsage(t *testing.T) {
	rc := NewRunContext("event_classifier", "classifier", "deepseek/deepseek-chat", "event", "evt-1")
	require.NotEmpty(t, rc.RunID)
	assert.Equal(t, models.RunRunning, rc.Status)

	rc.AddUsage(&llm.ChatResponse{InputTokens: 100, OutputTokens: 10})
	rc.AddUsage(&llm.ChatResponse{InputTokens: 250, OutputTokens: 40})

	assert.Equal(t, 350, rc.InputTokens)
	assert.Equal(t, 50, rc.OutputTokens)
	assert.InDelta(t, llm.EstimateCost("deepseek/deepseek-chat", 350, 50), rc.CostUSD, 1e-9)
}

func TestRunContextSaveBuildsRows(t *testing.T) {
	rc := NewRunContext("vuln_analyzer", "analyzer", "deepseek/deepseek-chat", "event", "evt-2")
	rc.Turns = 3
	rc.AddUsage(&llm.ChatResponse{InputTokens: 500, OutputTokens: 80})
	rc.RecordToolCall(1, 0, "fetch_commit_diff", `{"sha":"abc"}`, 240, 150*time.Millisecond, false)
	rc.RecordToolCall(2, 0, "fetch_file_content", `{"path":"a.c"}`, 0, 20*time.Millisecond, true)
	rc.Result = []byte(`[{"severity":"high"}]`)
	rc.Finish(models.RunCompleted, nil)

	store := &fakeRunStore{}
	require.NoError(t, rc.Save(context.Background(), store))

	require.Len(t, store.runs, 1)
	run := store.runs[0]
	assert.Equal(t, rc.RunID, run.ID)
	assert.Equal(t, "vuln_analyzer", run.AgentType)
	assert.Equal(t, "analyzer", run.Engine)
	assert.Equal(t, "event", run.TargetType)
	assert.Equal(t, "evt-2", run.TargetID)
	assert.Equal(t, 3, run.Turns)
	assert.Equal(t, 500, run.InputTokens)
	assert.Equal(t, 80, run.OutputTokens)
	assert.Equal(t, 2, run.TotalToolCalls)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.GreaterOrEqual(t, run.DurationMS, int64(0))
	require.NotNil(t, run.FinishedAt)

	calls := store.calls[0]
	require.Len(t, calls, 2)
	assert.Equal(t, rc.RunID, calls[0].RunID)
	assert.Equal(t, "fetch_commit_diff", calls[0].Tool)
	assert.Equal(t, int64(150), calls[0].DurationMS)
	assert.False(t, calls[0].IsError)
	assert.True(t, calls[1].IsError)
}

func TestRunContextFinishRecordsError(t *testing.T) {
	rc := NewRunContext("event_classifier", "classifier", "m", "event", "evt-3")
	rc.Finish(models.RunFailed, assert.AnError)

	assert.Equal(t, models.RunFailed, rc.Status)
	require.NotNil(t, rc.ErrorMessage)
	assert.Equal(t, assert.AnError.Error(), *rc.ErrorMessage)
}
