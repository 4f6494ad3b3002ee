package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vulnsentinel/vulnsentinel/internal/agent"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

const analyzerSystemPrompt = `You are a security analyst. The event below has already been identified as a security fix; your job is to extract structured vulnerability metadata from it. A single commit sometimes bundles several distinct fixes, so your answer is always a JSON array with one entry per vulnerability.

vuln_type: use one of buffer_overflow, heap_overflow, stack_overflow, use_after_free, double_free, out_of_bounds_read, out_of_bounds_write, integer_overflow, null_pointer_dereference, uninitialized_memory, race_condition, sql_injection, command_injection, code_injection, xss, csrf, ssrf, path_traversal, auth_bypass, privilege_escalation, information_leak, denial_of_service, memory_corruption, cryptographic_weakness, unsafe_deserialization, prototype_pollution. If none fits, write a short snake_case name of your own.

severity:
- critical: remotely exploitable code execution or authentication bypass
- high: memory corruption, or leak of credentials/keys, reachable from untrusted input
- medium: denial of service, or flaws requiring unusual preconditions
- low: requires local access or an already-privileged attacker

Tool strategy:
1. fetch_commit_diff without file_path to see which files changed.
2. Fetch the patch of each security-relevant file. Skip tests and docs at first.
3. Fetch the related issue or PR body for impact discussion and affected versions.
4. Check changed test files for reproduction inputs; they often encode a PoC.

affected_versions: a human-readable range ("< 2.4.1", ">= 1.0, < 1.9.3"). If the fix is unreleased, describe it ("all releases up to and including 3.2.0").
affected_functions: the names of the patched functions, when identifiable from the diff.
upstream_poc: a JSON object describing a trigger (input, steps) if the commit or issue reveals one, else null.

Reply with exactly one JSON array and nothing else. Example:
[{"vuln_type": "heap_overflow", "severity": "high", "affected_versions": "< 1.4.2", "summary": "Crafted length field overflows the frame buffer in parse_frame().", "reasoning": "The patch adds a bounds check on len before memcpy; len comes straight from the wire.", "upstream_poc": {"input": "frame with len=0xffff"}, "affected_functions": ["parse_frame"]}]`

// finding is one entry of the agent's JSON-array answer.
type finding struct {
	VulnType          string          `json:"vuln_type"`
	Severity          string          `json:"severity"`
	AffectedVersions  string          `json:"affected_versions"`
	Summary           string          `json:"summary"`
	Reasoning         string          `json:"reasoning"`
	UpstreamPoc       json.RawMessage `json:"upstream_poc"`
	AffectedFunctions []string        `json:"affected_functions"`
}

// analyzerTask extracts vulnerability metadata for one bugfix event.
type analyzerTask struct {
	event     *models.Event
	commitSHA string
	tools     *agent.RepoTools
	owner     string
	repo      string
}

func newAnalyzerTask(e *models.Event, commitSHA string, tools *agent.RepoTools, owner, repo string) *analyzerTask {
	return &analyzerTask{event: e, commitSHA: commitSHA, tools: tools, owner: owner, repo: repo}
}

func (t *analyzerTask) SystemPrompt() string { return analyzerSystemPrompt }

func (t *analyzerTask) InitialMessage() string {
	e := t.event
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this security fix from %s/%s.\n\n", t.owner, t.repo)
	fmt.Fprintf(&b, "event type: %s\nref: %s\n", e.Type, e.Ref)
	if t.commitSHA != "" {
		fmt.Fprintf(&b, "fix commit: %s\n", t.commitSHA)
	}
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
	return b.String()
}

func (t *analyzerTask) CreateToolServer(ctx context.Context) (*agent.ToolServer, error) {
	server := agent.NewToolServer()
	t.tools.Register(server)
	return server, nil
}

func (t *analyzerTask) ParseResult(content string) (json.RawMessage, error) {
	return agent.ExtractJSONArray(content)
}

func (t *analyzerTask) UrgencyMessage(turn, maxTurns int) string {
	return "You are almost out of turns. Produce the final JSON array now from what you have gathered; prefer a conservative answer over more tool calls."
}

// CompressionCriteria keeps the facts the final answer is built from when
// long investigations get summarized.
func (t *analyzerTask) CompressionCriteria() string {
	return "Preserve: which files and patches were already fetched and what each showed, the suspected vulnerability type(s), the patched functions, any version or release information, and any reproduction input found in tests or issues."
}
