package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vulnsentinel/vulnsentinel/internal/agent"
	"github.com/vulnsentinel/vulnsentinel/internal/llm"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

const classifierSystemPrompt = `You are a security engineer triaging activity from an open-source repository. Classify the event into exactly one label:

- security_bugfix: fixes an exploitable flaw (memory corruption, injection, auth bypass, information leak, denial of service, ...)
- normal_bugfix: fixes a functional bug with no security impact
- refactor: restructures code without changing behavior, including performance work
- feature: adds new functionality
- other: docs, tests, CI, release chores, dependency bumps

Tool strategy:
1. Start with fetch_commit_diff or fetch_pr_diff without file_path to see which files changed.
2. Drill into the files most likely to hold the fix. Skip tests, docs, and lockfiles unless nothing else changed.
3. When the message references an issue or PR, fetch its body for context.

Most events are decidable from the message plus one or two patches; do not fetch more than you need.

A fix is security_bugfix only when the flaw is plausibly attacker-reachable. Hardening with no triggering input, stricter validation of already-trusted data, and fixes to test-only code are normal_bugfix or refactor.

When you have decided, reply with exactly one JSON object and nothing else:
{"classification": "<label>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}`

// classifierOutput is the JSON shape the agent must produce.
type classifierOutput struct {
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// classifierTask classifies one event. Tools are bound to the event's
// repository; the task carries no mutable state across turns.
type classifierTask struct {
	event *models.Event
	tools *agent.RepoTools
	owner string
	repo  string
}

func newClassifierTask(e *models.Event, tools *agent.RepoTools, owner, repo string) *classifierTask {
	return &classifierTask{event: e, tools: tools, owner: owner, repo: repo}
}

func (t *classifierTask) SystemPrompt() string { return classifierSystemPrompt }

func (t *classifierTask) InitialMessage() string {
	e := t.event
	var b strings.Builder
	fmt.Fprintf(&b, "Classify this %s event from %s/%s.\n\n", e.Type, t.owner, t.repo)
	fmt.Fprintf(&b, "ref: %s\n", e.Ref)
	if e.Author != nil && *e.Author != "" {
		fmt.Fprintf(&b, "author: %s\n", *e.Author)
	}
	fmt.Fprintf(&b, "title: %s\n", e.Title)
	if e.Message != nil && *e.Message != "" && *e.Message != e.Title {
		fmt.Fprintf(&b, "\nmessage:\n%s\n", *e.Message)
	}
	if e.RelatedIssueRef != nil {
		fmt.Fprintf(&b, "related issue: %s\n", *e.RelatedIssueRef)
	}
	if e.RelatedPRRef != nil {
		fmt.Fprintf(&b, "related pull request: %s\n", *e.RelatedPRRef)
	}
	if e.RelatedCommitSHA != nil {
		fmt.Fprintf(&b, "related commit: %s\n", *e.RelatedCommitSHA)
	}
	return b.String()
}

func (t *classifierTask) CreateToolServer(ctx context.Context) (*agent.ToolServer, error) {
	server := agent.NewToolServer()
	t.tools.Register(server)
	return server, nil
}

func (t *classifierTask) ParseResult(content string) (json.RawMessage, error) {
	return agent.ExtractJSONObject(content)
}

// ShouldStop ends the loop as soon as the model commits to a JSON answer,
// even when the same response still requests tools.
func (t *classifierTask) ShouldStop(resp *llm.ChatResponse) bool {
	if resp.Content == "" {
		return false
	}
	_, err := agent.ExtractJSONObject(resp.Content)
	return err == nil
}

func (t *classifierTask) UrgencyMessage(turn, maxTurns int) string {
	return "You are almost out of turns. Answer now with the required JSON object using what you have already seen."
}
