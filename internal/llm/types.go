package llm

// Stop reasons, normalized to the OpenAI vocabulary across providers.
const (
	StopEndTurn   = "stop"
	StopToolCalls = "tool_calls"
	StopLength    = "length"
)

// Roles in the normalized message list.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is one function invocation requested by the model, in the
// OpenAI function-calling shape regardless of provider.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON object
}

// Message is one turn of a conversation. Assistant messages may carry
// tool calls; a tool message answers one call via ToolCallID and names
// the tool (some providers require the name on the result).
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// UserMessage builds a plain user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ToolResult builds the reply turn for one tool call.
func ToolResult(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, Name: name, ToolCallID: callID}
}

// Tool describes a callable function. Parameters is a JSON Schema object;
// callers must keep it within the strictest provider dialect (no anyOf,
// no title keys).
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatRequest is a provider-agnostic completion request.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []Tool
	MaxTokens    int
	Temperature  float64
}

// ChatResponse carries the normalized model reply.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// normalizeStopReason maps provider finish reasons onto the shared set.
func normalizeStopReason(reason string) string {
	switch reason {
	case StopToolCalls, "function_call":
		return StopToolCalls
	case StopLength:
		return StopLength
	default:
		return StopEndTurn
	}
}
