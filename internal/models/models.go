package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// EventType identifies the kind of upstream observation an event records.
type EventType string

const (
	EventCommit   EventType = "commit"
	EventPRMerge  EventType = "pr_merge"
	EventTag      EventType = "tag"
	EventBugIssue EventType = "bug_issue"
)

// Classification is the label assigned to an event by the classifier.
// Only the LLM path may assign ClassSecurityBugfix; the rule engine never does.
type Classification string

const (
	ClassSecurityBugfix Classification = "security_bugfix"
	ClassNormalBugfix   Classification = "normal_bugfix"
	ClassRefactor       Classification = "refactor"
	ClassFeature        Classification = "feature"
	ClassOther          Classification = "other"
)

// Severity levels for an upstream vulnerability.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// UpstreamVulnStatus tracks analyzer progress on a vulnerability row.
type UpstreamVulnStatus string

const (
	VulnAnalyzing UpstreamVulnStatus = "analyzing"
	VulnPublished UpstreamVulnStatus = "published"
)

// PipelineStatus is the engine-driven lifecycle of a client vulnerability.
type PipelineStatus string

const (
	PipelinePending       PipelineStatus = "pending"
	PipelinePathSearching PipelineStatus = "path_searching"
	PipelinePocGenerating PipelineStatus = "poc_generating"
	PipelineVerified      PipelineStatus = "verified"
	PipelineNotAffect     PipelineStatus = "not_affect"
)

// ClientVulnStatus is the user-visible lifecycle of a client vulnerability.
// It stays NULL while the pipeline runs.
type ClientVulnStatus string

const (
	StatusRecorded  ClientVulnStatus = "recorded"
	StatusReported  ClientVulnStatus = "reported"
	StatusConfirmed ClientVulnStatus = "confirmed"
	StatusFixed     ClientVulnStatus = "fixed"
	StatusNotAffect ClientVulnStatus = "not_affect"
)

// ValidStatusTransition reports whether a client-vuln status change is legal.
// From NULL only recorded or not_affect may be set (engine-driven); afterwards
// the chain is recorded -> reported -> confirmed -> fixed. Both fixed and
// not_affect are terminal.
func ValidStatusTransition(from *ClientVulnStatus, to ClientVulnStatus) bool {
	if from == nil {
		return to == StatusRecorded || to == StatusNotAffect
	}
	switch *from {
	case StatusRecorded:
		return to == StatusReported
	case StatusReported:
		return to == StatusConfirmed
	case StatusConfirmed:
		return to == StatusFixed
	}
	return false
}

// ConstraintSourceManual marks dependency rows entered by a user. The scanner
// never deletes these rows and never overwrites the marker.
const ConstraintSourceManual = "manual"

// PlatformGitHub is the only supported hosting platform for now.
const PlatformGitHub = "github"

// Library is a monitored upstream dependency.
type Library struct {
	ID               string     `json:"id" db:"id"`
	Name             string     `json:"name" db:"name"`
	RepoURL          string     `json:"repo_url" db:"repo_url"`
	Platform         string     `json:"platform" db:"platform"`
	DefaultBranch    string     `json:"default_branch" db:"default_branch"`
	LatestCommitSHA  *string    `json:"latest_commit_sha" db:"latest_commit_sha"`
	LatestTagVersion *string    `json:"latest_tag_version" db:"latest_tag_version"`
	LastActivityAt   *time.Time `json:"last_activity_at" db:"last_activity_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// Project is a client codebase under surveillance.
type Project struct {
	ID              string     `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	RepoURL         string     `json:"repo_url" db:"repo_url"`
	Platform        string     `json:"platform" db:"platform"`
	DefaultBranch   string     `json:"default_branch" db:"default_branch"`
	Contact         *string    `json:"contact" db:"contact"`
	CurrentVersion  *string    `json:"current_version" db:"current_version"`
	PinnedRef       *string    `json:"pinned_ref" db:"pinned_ref"`
	AutoSyncDeps    bool       `json:"auto_sync_deps" db:"auto_sync_deps"`
	MonitoringSince time.Time  `json:"monitoring_since" db:"monitoring_since"`
	LastScannedAt   *time.Time `json:"last_scanned_at" db:"last_scanned_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// ProjectDependency links a project to a library with version information.
// constraint_source holds the manifest path that produced the row, or the
// literal "manual" for user-entered records.
type ProjectDependency struct {
	ID               string    `json:"id" db:"id"`
	ProjectID        string    `json:"project_id" db:"project_id"`
	LibraryID        string    `json:"library_id" db:"library_id"`
	ConstraintExpr   *string   `json:"constraint_expr" db:"constraint_expr"`
	ResolvedVersion  *string   `json:"resolved_version" db:"resolved_version"`
	ConstraintSource string    `json:"constraint_source" db:"constraint_source"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// IsManual reports whether the row is user-owned.
func (d *ProjectDependency) IsManual() bool {
	return d.ConstraintSource == ConstraintSourceManual
}

// Event is one observation from an upstream library. Rows are immutable after
// classification; (library_id, type, ref) is unique so batch inserts are
// idempotent.
type Event struct {
	ID               string          `json:"id" db:"id"`
	LibraryID        string          `json:"library_id" db:"library_id"`
	Type             EventType       `json:"type" db:"type"`
	Ref              string          `json:"ref" db:"ref"`
	SourceURL        *string         `json:"source_url" db:"source_url"`
	Author           *string         `json:"author" db:"author"`
	Title            string          `json:"title" db:"title"`
	Message          *string         `json:"message" db:"message"`
	RelatedIssueRef  *string         `json:"related_issue_ref" db:"related_issue_ref"`
	RelatedIssueURL  *string         `json:"related_issue_url" db:"related_issue_url"`
	RelatedPRRef     *string         `json:"related_pr_ref" db:"related_pr_ref"`
	RelatedPRURL     *string         `json:"related_pr_url" db:"related_pr_url"`
	RelatedCommitSHA *string         `json:"related_commit_sha" db:"related_commit_sha"`
	EventAt          time.Time       `json:"event_at" db:"event_at"`
	Classification   *Classification `json:"classification" db:"classification"`
	Confidence       *float64        `json:"confidence" db:"confidence"`
	IsBugfix         bool            `json:"is_bugfix" db:"is_bugfix"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// BodyText returns title plus message for keyword scanning.
func (e *Event) BodyText() string {
	if e.Message == nil {
		return e.Title
	}
	return e.Title + "\n" + *e.Message
}

// UpstreamVuln is one vulnerability extracted from one bugfix event. A single
// event may yield several rows. A placeholder row in "analyzing" state is
// created before LLM work begins.
type UpstreamVuln struct {
	ID                string             `json:"id" db:"id"`
	EventID           string             `json:"event_id" db:"event_id"`
	LibraryID         string             `json:"library_id" db:"library_id"`
	CommitSHA         string             `json:"commit_sha" db:"commit_sha"`
	VulnType          *string            `json:"vuln_type" db:"vuln_type"`
	Severity          *Severity          `json:"severity" db:"severity"`
	AffectedVersions  *string            `json:"affected_versions" db:"affected_versions"`
	Summary           *string            `json:"summary" db:"summary"`
	Reasoning         *string            `json:"reasoning" db:"reasoning"`
	UpstreamPoc       json.RawMessage    `json:"upstream_poc" db:"upstream_poc"`
	AffectedFunctions pq.StringArray     `json:"affected_functions" db:"affected_functions"`
	Status            UpstreamVulnStatus `json:"status" db:"status"`
	ErrorMessage      *string            `json:"error_message" db:"error_message"`
	PublishedAt       *time.Time         `json:"published_at" db:"published_at"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" db:"updated_at"`
}

// Descriptor returns the opaque form handed to the reachability collaborator.
func (v *UpstreamVuln) Descriptor() map[string]any {
	d := map[string]any{
		"id":         v.ID,
		"library_id": v.LibraryID,
		"commit_sha": v.CommitSHA,
	}
	if v.VulnType != nil {
		d["vuln_type"] = *v.VulnType
	}
	if v.Severity != nil {
		d["severity"] = string(*v.Severity)
	}
	if v.AffectedVersions != nil {
		d["affected_versions"] = *v.AffectedVersions
	}
	if v.Summary != nil {
		d["summary"] = *v.Summary
	}
	if len(v.AffectedFunctions) > 0 {
		d["affected_functions"] = []string(v.AffectedFunctions)
	}
	return d
}

// ClientVuln is the business entity: one upstream vulnerability applied to
// one monitored project. (upstream_vuln_id, project_id) is unique.
type ClientVuln struct {
	ID               string            `json:"id" db:"id"`
	UpstreamVulnID   string            `json:"upstream_vuln_id" db:"upstream_vuln_id"`
	ProjectID        string            `json:"project_id" db:"project_id"`
	ConstraintExpr   *string           `json:"constraint_expr" db:"constraint_expr"`
	ResolvedVersion  *string           `json:"resolved_version" db:"resolved_version"`
	ConstraintSource *string           `json:"constraint_source" db:"constraint_source"`
	FixVersion       *string           `json:"fix_version" db:"fix_version"`
	Verdict          *string           `json:"verdict" db:"verdict"`
	PipelineStatus   PipelineStatus    `json:"pipeline_status" db:"pipeline_status"`
	Status           *ClientVulnStatus `json:"status" db:"status"`
	IsAffected       *bool             `json:"is_affected" db:"is_affected"`
	ErrorMessage     *string           `json:"error_message" db:"error_message"`
	ReachablePath    json.RawMessage   `json:"reachable_path" db:"reachable_path"`
	PocResults       json.RawMessage   `json:"poc_results" db:"poc_results"`
	Report           json.RawMessage   `json:"report" db:"report"`
	RecordedAt       *time.Time        `json:"recorded_at" db:"recorded_at"`
	ReportedAt       *time.Time        `json:"reported_at" db:"reported_at"`
	ConfirmedAt      *time.Time        `json:"confirmed_at" db:"confirmed_at"`
	FixedAt          *time.Time        `json:"fixed_at" db:"fixed_at"`
	NotAffectAt      *time.Time        `json:"not_affect_at" db:"not_affect_at"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// Snapshot is a call-graph build record owned by the static-analysis
// collaborator. Read here only to locate one by (repo_url, version, backend).
type Snapshot struct {
	ID        string    `json:"id" db:"id"`
	RepoURL   string    `json:"repo_url" db:"repo_url"`
	Version   string    `json:"version" db:"version"`
	Backend   string    `json:"backend" db:"backend"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// User is an operator account. Only the admin bootstrap writes these today.
type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// AgentRunStatus is the terminal state of one agent invocation.
type AgentRunStatus string

const (
	RunRunning   AgentRunStatus = "running"
	RunCompleted AgentRunStatus = "completed"
	RunFailed    AgentRunStatus = "failed"
	RunCancelled AgentRunStatus = "cancelled"
)

// AgentRun is telemetry for one agent.Run invocation. Conversation text is
// not stored; it goes to the log pipeline at DEBUG.
type AgentRun struct {
	ID             string          `json:"id" db:"id"`
	AgentType      string          `json:"agent_type" db:"agent_type"`
	Engine         string          `json:"engine" db:"engine"`
	TargetType     string          `json:"target_type" db:"target_type"`
	TargetID       string          `json:"target_id" db:"target_id"`
	Model          string          `json:"model" db:"model"`
	Turns          int             `json:"turns" db:"turns"`
	InputTokens    int             `json:"input_tokens" db:"input_tokens"`
	OutputTokens   int             `json:"output_tokens" db:"output_tokens"`
	TotalToolCalls int             `json:"total_tool_calls" db:"total_tool_calls"`
	CostUSD        float64         `json:"cost_usd" db:"cost_usd"`
	DurationMS     int64           `json:"duration_ms" db:"duration_ms"`
	Status         AgentRunStatus  `json:"status" db:"status"`
	Result         json.RawMessage `json:"result" db:"result"`
	ErrorMessage   *string         `json:"error_message" db:"error_message"`
	StartedAt      time.Time       `json:"started_at" db:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at" db:"finished_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// AgentToolCall is one tool invocation within an agent run.
type AgentToolCall struct {
	ID          string    `json:"id" db:"id"`
	RunID       string    `json:"run_id" db:"run_id"`
	Turn        int       `json:"turn" db:"turn"`
	Seq         int       `json:"seq" db:"seq"`
	Tool        string    `json:"tool" db:"tool"`
	InputJSON   string    `json:"input_json" db:"input_json"`
	OutputBytes int       `json:"output_bytes" db:"output_bytes"`
	DurationMS  int64     `json:"duration_ms" db:"duration_ms"`
	IsError     bool      `json:"is_error" db:"is_error"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
