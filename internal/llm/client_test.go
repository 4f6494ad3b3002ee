package llm

import (
	"testing"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderFor(t *testing.T) {
	tests := []struct {
		model string
		want  Provider
	}{
		{"claude-sonnet-4-20250514", ProviderAnthropic},
		{"deepseek-chat", ProviderDeepSeek},
		{"deepseek/deepseek-chat", ProviderDeepSeek},
		{"gpt-4o-mini", ProviderOpenAI},
		{"o1-preview", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"gemini-2.0-flash", ProviderGemini},
		{"grok-3", ProviderXAI},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, err := ProviderFor(tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ProviderFor("llama-3-70b")
	assert.Error(t, err)
}

func TestAPIModelName(t *testing.T) {
	assert.Equal(t, "deepseek-chat", apiModelName("deepseek/deepseek-chat"))
	assert.Equal(t, "gpt-4o", apiModelName("gpt-4o"))
}

func TestContextWindow(t *testing.T) {
	assert.Equal(t, 65536, ContextWindow("deepseek/deepseek-chat"))
	assert.Equal(t, 200000, ContextWindow("claude-sonnet-4-20250514"))
	assert.Equal(t, 128000, ContextWindow("gpt-4o"))
	// unknown models fall back to the conservative default
	assert.Equal(t, 65536, ContextWindow("mystery-model"))
}

func TestEstimateCost(t *testing.T) {
	// deepseek-chat: $0.27/M in, $1.10/M out
	cost := EstimateCost("deepseek-chat", 1_000_000, 1_000_000)
	assert.InDelta(t, 1.37, cost, 1e-9)

	// the specific entry must win over the family catch-all
	mini := EstimateCost("gpt-4o-mini", 1_000_000, 0)
	full := EstimateCost("gpt-4o", 1_000_000, 0)
	assert.Less(t, mini, full)

	assert.Zero(t, EstimateCost("gpt-4o", 0, 0))
}

func TestNormalizeStopReason(t *testing.T) {
	assert.Equal(t, StopToolCalls, normalizeStopReason("tool_calls"))
	assert.Equal(t, StopToolCalls, normalizeStopReason("function_call"))
	assert.Equal(t, StopLength, normalizeStopReason("length"))
	assert.Equal(t, StopEndTurn, normalizeStopReason("stop"))
	assert.Equal(t, StopEndTurn, normalizeStopReason(""))
}

func TestCompatMessages(t *testing.T) {
	messages := []Message{
		UserMessage("look at commit abc"),
		{
			Role:    RoleAssistant,
			Content: "checking",
			ToolCalls: []ToolCall{
				{ID: "call_1", Name: "fetch_commit_diff", Arguments: `{"sha":"abc"}`},
			},
		},
		ToolResult("call_1", "fetch_commit_diff", "diff --git ..."),
	}

	out := compatMessages("you are a classifier", messages)
	require.Len(t, out, 4)

	assert.Equal(t, goopenai.ChatMessageRoleSystem, out[0].Role)
	assert.Equal(t, "you are a classifier", out[0].Content)

	assert.Equal(t, RoleUser, out[1].Role)

	require.Len(t, out[2].ToolCalls, 1)
	assert.Equal(t, "call_1", out[2].ToolCalls[0].ID)
	assert.Equal(t, "fetch_commit_diff", out[2].ToolCalls[0].Function.Name)
	assert.Equal(t, `{"sha":"abc"}`, out[2].ToolCalls[0].Function.Arguments)

	assert.Equal(t, RoleTool, out[3].Role)
	assert.Equal(t, "call_1", out[3].ToolCallID)
	assert.Equal(t, "fetch_commit_diff", out[3].Name)
}

func TestGeminiSchemaConversion(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sha":       map[string]any{"type": "string", "description": "commit sha"},
			"max_lines": map[string]any{"type": "integer"},
			"paths":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"sha"},
	}

	schema := geminiSchema(params)
	require.NotNil(t, schema)
	require.Len(t, schema.Properties, 3)
	assert.Equal(t, "commit sha", schema.Properties["sha"].Description)
	assert.NotNil(t, schema.Properties["paths"].Items)
	assert.Equal(t, []string{"sha"}, schema.Required)
}

func TestEstimateRequestTokens(t *testing.T) {
	req := &ChatRequest{
		SystemPrompt: "abcd",
		Messages:     []Message{UserMessage("efgh")},
		MaxTokens:    100,
	}
	assert.Equal(t, int64(102), estimateRequestTokens(req))
}
