package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/vulnsentinel/vulnsentinel/internal/llm"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
)

// keepRecentMessages is how many trailing messages survive compression
// verbatim. The first user message always survives too; it anchors the
// task description.
const keepRecentMessages = 4

const summarizerSystemPrompt = "You compress the working history of an automated analysis agent. " +
	"Reply with a dense factual summary only, no preamble."

const defaultCompressionCriteria = "Preserve every concrete finding: package names, versions, file paths, " +
	"commit SHAs, issue and PR numbers, and any conclusion already reached. Drop raw diffs and file listings " +
	"once their relevant lines are captured."

// compressHistory replaces the middle of the conversation with a one-shot
// summary from the cheap model. Best effort: on any failure the original
// messages are returned and the run continues uncompressed.
func (r *Runner) compressHistory(ctx context.Context, task Task, messages []llm.Message, log *logging.Logger) []llm.Message {
	// Head + summary + tail must be shorter than what we started with.
	if len(messages) <= keepRecentMessages+2 {
		return messages
	}

	cut := len(messages) - keepRecentMessages
	// A tool result must stay adjacent to the assistant message that
	// requested it, so push orphaned results into the summarized middle.
	for cut < len(messages) && messages[cut].Role == llm.RoleTool {
		cut++
	}
	if cut <= 1 || cut >= len(messages) {
		return messages
	}

	summary, err := r.summarize(ctx, task, messages[1:cut])
	if err != nil {
		log.Warn("agent.compress_failed", "error", err)
		return messages
	}

	out := make([]llm.Message, 0, len(messages)-cut+2)
	out = append(out, messages[0])
	out = append(out, llm.UserMessage("Summary of the investigation so far:\n"+summary))
	out = append(out, messages[cut:]...)
	log.Debug("agent.compressed", "before", len(messages), "after", len(out))
	return out
}

func (r *Runner) summarize(ctx context.Context, task Task, middle []llm.Message) (string, error) {
	criteria := defaultCompressionCriteria
	if cp, ok := task.(compressionCriteriaProvider); ok {
		if c := cp.CompressionCriteria(); c != "" {
			criteria = c
		}
	}

	model := r.cfg.CompressionModel
	if model == "" {
		model = r.llm.DefaultModel()
	}

	resp, err := r.llm.Chat(ctx, &llm.ChatRequest{
		Model:        model,
		SystemPrompt: summarizerSystemPrompt,
		Messages: []llm.Message{llm.UserMessage(fmt.Sprintf(
			"%s\n\nHistory to compress:\n%s", criteria, renderHistory(middle)))},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("summarizer returned empty content")
	}
	return resp.Content, nil
}

// renderHistory flattens structured messages into plain text for the
// summarizer prompt.
func renderHistory(messages []llm.Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case llm.RoleAssistant:
			if m.Content != "" {
				fmt.Fprintf(&b, "assistant: %s\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "assistant called %s with %s\n", tc.Name, tc.Arguments)
			}
		case llm.RoleTool:
			fmt.Fprintf(&b, "%s returned: %s\n", m.Name, m.Content)
		default:
			fmt.Fprintf(&b, "user: %s\n", m.Content)
		}
	}
	return b.String()
}
