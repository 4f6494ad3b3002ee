package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// geminiAdapter serves gemini* models. The genai SDK carries function
// calls as typed parts rather than JSON strings, so arguments are
// marshalled in both directions.
type geminiAdapter struct {
	client *genai.Client
}

func newGeminiAdapter(ctx context.Context, key string) (*geminiAdapter, error) {
	key, err := resolveKey(key, "GEMINI_API_KEY")
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &geminiAdapter{client: client}, nil
}

func (a *geminiAdapter) chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.Text(req.SystemPrompt)[0]
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		cfg.Tools = geminiTools(req.Tools)
	}

	resp, err := a.client.Models.GenerateContent(ctx, apiModelName(req.Model), geminiContents(req.Messages), cfg)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	out := &ChatResponse{StopReason: StopEndTurn}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	candidate := resp.Candidates[0]
	for i, part := range candidate.Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall == nil {
			continue
		}
		args, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode function call args: %w", err)
		}
		id := part.FunctionCall.ID
		if id == "" {
			// Gemini omits call IDs; synthesize stable ones for the loop.
			id = fmt.Sprintf("call_%d", i)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        id,
			Name:      part.FunctionCall.Name,
			Arguments: string(args),
		})
	}
	if len(out.ToolCalls) > 0 {
		out.StopReason = StopToolCalls
	} else if candidate.FinishReason == genai.FinishReasonMaxTokens {
		out.StopReason = StopLength
	}
	return out, nil
}

func geminiContents(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			parts := make([]*genai.Part, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: args,
				}})
			}
			out = append(out, &genai.Content{Role: "model", Parts: parts})
		case RoleTool:
			name := m.Name
			if name == "" {
				name = m.ToolCallID
			}
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     name,
				Response: map[string]any{"output": m.Content},
			}}
			out = append(out, &genai.Content{Role: "user", Parts: []*genai.Part{part}})
		default:
			out = append(out, genai.Text(m.Content)[0])
		}
	}
	return out
}

func geminiTools(tools []Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  geminiSchema(t.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// geminiSchema converts a JSON Schema object into the SDK's typed form.
func geminiSchema(params map[string]any) *genai.Schema {
	if params == nil {
		return nil
	}
	schema := &genai.Schema{Type: genai.TypeObject}
	if props, ok := params["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			prop, _ := raw.(map[string]any)
			schema.Properties[name] = geminiProperty(prop)
		}
	}
	switch req := params["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func geminiProperty(prop map[string]any) *genai.Schema {
	s := &genai.Schema{}
	if prop == nil {
		return s
	}
	if t, ok := prop["type"].(string); ok {
		s.Type = geminiType(t)
	}
	if d, ok := prop["description"].(string); ok {
		s.Description = d
	}
	if items, ok := prop["items"].(map[string]any); ok {
		s.Items = geminiProperty(items)
	}
	switch enum := prop["enum"].(type) {
	case []string:
		s.Enum = enum
	case []any:
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	return s
}

func geminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}
