package llm

import (
	"context"
	"encoding/json"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"
)

const (
	deepseekBaseURL = "https://api.deepseek.com/v1"
	xaiBaseURL      = "https://api.x.ai/v1"
)

// compatAdapter serves vendors that speak the OpenAI chat protocol on
// their own endpoints (DeepSeek, xAI).
type compatAdapter struct {
	client *goopenai.Client
}

func newCompatAdapter(key, envName, baseURL string) (*compatAdapter, error) {
	key, err := resolveKey(key, envName)
	if err != nil {
		return nil, err
	}
	cfg := goopenai.DefaultConfig(key)
	cfg.BaseURL = baseURL
	return &compatAdapter{client: goopenai.NewClientWithConfig(cfg)}, nil
}

func (a *compatAdapter) chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	creq := goopenai.ChatCompletionRequest{
		Model:       apiModelName(req.Model),
		Messages:    compatMessages(req.SystemPrompt, req.Messages),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		creq.Tools = compatTools(req.Tools)
	}

	resp, err := a.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		StopReason:   normalizeStopReason(string(choice.FinishReason)),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func compatMessages(system string, messages []Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range messages {
		cm := goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
		if m.Role == RoleTool {
			cm.ToolCallID = m.ToolCallID
			cm.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func compatTools(tools []Tool) []goopenai.Tool {
	out := make([]goopenai.Tool, 0, len(tools))
	for _, t := range tools {
		params, _ := json.Marshal(t.Parameters)
		out = append(out, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return out
}
