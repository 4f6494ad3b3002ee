package analyzer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnsentinel/vulnsentinel/internal/config"
	"github.com/vulnsentinel/vulnsentinel/internal/database"
	"github.com/vulnsentinel/vulnsentinel/internal/llm"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

type scriptedChat struct {
	mu        sync.Mutex
	responses map[string][]*llm.ChatResponse // keyed by event title found in the first message
	requests  []*llm.ChatRequest
}

func (c *scriptedChat) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	for key, queue := range c.responses {
		if len(queue) > 0 && len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, key) {
			resp := queue[0]
			c.responses[key] = queue[1:]
			return resp, nil
		}
	}
	return nil, fmt.Errorf("no scripted response for request %d", len(c.requests))
}

func (c *scriptedChat) DefaultModel() string { return "test/model" }

func answer(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Content:      content,
		StopReason:   llm.StopEndTurn,
		InputTokens:  200,
		OutputTokens: 50,
	}
}

type fakeStore struct {
	mu        sync.Mutex
	events    []*models.Event
	library   *models.Library
	created   []*models.UpstreamVuln
	analyses  map[string]database.VulnAnalysis
	published map[string]bool
	errors    map[string]string
	nextID    int
}

func newFakeStore(events ...*models.Event) *fakeStore {
	return &fakeStore{
		events: events,
		library: &models.Library{
			ID:            "lib-1",
			Name:          "libfoo",
			RepoURL:       "https://github.com/acme/libfoo",
			Platform:      models.PlatformGitHub,
			DefaultBranch: "main",
		},
		analyses:  make(map[string]database.VulnAnalysis),
		published: make(map[string]bool),
		errors:    make(map[string]string),
	}
}

func (s *fakeStore) ListBugfixEventsNeedingAnalysis(ctx context.Context, limit int) ([]*models.Event, error) {
	return s.events, nil
}

func (s *fakeStore) GetLibrary(ctx context.Context, id string) (*models.Library, error) {
	return s.library, nil
}

func (s *fakeStore) CreateUpstreamVuln(ctx context.Context, eventID, libraryID, commitSHA string) (*models.UpstreamVuln, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	v := &models.UpstreamVuln{
		ID:        fmt.Sprintf("vuln-%d", s.nextID),
		EventID:   eventID,
		LibraryID: libraryID,
		CommitSHA: commitSHA,
		Status:    models.VulnAnalyzing,
	}
	s.created = append(s.created, v)
	return v, nil
}

func (s *fakeStore) UpdateAnalysis(ctx context.Context, id string, a database.VulnAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses[id] = a
	return nil
}

func (s *fakeStore) PublishVuln(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[id] = true
	return nil
}

func (s *fakeStore) SetVulnError(ctx context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[id] = message
	return nil
}

func bugfixEvent(id, title string) *models.Event {
	class := models.ClassSecurityBugfix
	return &models.Event{
		ID:             id,
		LibraryID:      "lib-1",
		Type:           models.EventCommit,
		Ref:            "a21f318",
		Title:          title,
		Classification: &class,
		IsBugfix:       true,
	}
}

func newTestEngine(t *testing.T, store Store, chat *scriptedChat) *Engine {
	t.Helper()
	cfg := config.Default()
	return New(store, nil, nil, chat, nil, cfg, logging.New(logging.Config{Level: "error"}))
}

func TestAnalyzeOnePublishesSingleFinding(t *testing.T) {
	ev := bugfixEvent("ev-1", "fix heap overflow in parser")
	store := newFakeStore(ev)
	chat := &scriptedChat{responses: map[string][]*llm.ChatResponse{
		ev.Title: {answer(`[{"vuln_type": "heap_overflow", "severity": "high", "affected_versions": "< 1.4.2", "summary": "overflow in parse_frame", "reasoning": "bounds check added", "affected_functions": ["parse_frame"]}]`)},
	}}
	eng := newTestEngine(t, store, chat)

	n, err := eng.AnalyzeOne(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The placeholder row was reused, not a second row created.
	require.Len(t, store.created, 1)
	placeholder := store.created[0]
	assert.Equal(t, "ev-1", placeholder.EventID)
	assert.Equal(t, "a21f318", placeholder.CommitSHA)

	a, ok := store.analyses[placeholder.ID]
	require.True(t, ok)
	assert.Equal(t, "heap_overflow", a.VulnType)
	assert.Equal(t, models.SeverityHigh, a.Severity)
	assert.Equal(t, "< 1.4.2", a.AffectedVersions)
	assert.Equal(t, []string{"parse_frame"}, a.AffectedFunctions)
	assert.True(t, store.published[placeholder.ID])
	assert.Empty(t, store.errors)
}

func TestAnalyzeOnePublishesBundledFindings(t *testing.T) {
	ev := bugfixEvent("ev-1", "fix two memory bugs in codec")
	store := newFakeStore(ev)
	chat := &scriptedChat{responses: map[string][]*llm.ChatResponse{
		ev.Title: {answer(`[
			{"vuln_type": "heap_overflow", "severity": "high", "summary": "first"},
			{"vuln_type": "use_after_free", "severity": "moderate", "summary": "second"}
		]`)},
	}}
	eng := newTestEngine(t, store, chat)

	n, err := eng.AnalyzeOne(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// First finding reuses the placeholder, the second gets its own row.
	require.Len(t, store.created, 2)
	first, second := store.created[0], store.created[1]
	assert.Equal(t, "heap_overflow", store.analyses[first.ID].VulnType)
	assert.Equal(t, "use_after_free", store.analyses[second.ID].VulnType)
	assert.Equal(t, models.SeverityMedium, store.analyses[second.ID].Severity)
	assert.True(t, store.published[first.ID])
	assert.True(t, store.published[second.ID])
	assert.Equal(t, first.CommitSHA, second.CommitSHA)
}

func TestAnalyzeOneWrapsBareObjectAnswer(t *testing.T) {
	ev := bugfixEvent("ev-1", "fix auth bypass")
	store := newFakeStore(ev)
	chat := &scriptedChat{responses: map[string][]*llm.ChatResponse{
		ev.Title: {answer(`{"vuln_type": "auth_bypass", "severity": "critical", "summary": "token check skipped"}`)},
	}}
	eng := newTestEngine(t, store, chat)

	n, err := eng.AnalyzeOne(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, store.created, 1)
	assert.Equal(t, "auth_bypass", store.analyses[store.created[0].ID].VulnType)
}

func TestAnalyzeOneRecordsFailureOnUnparseableOutput(t *testing.T) {
	ev := bugfixEvent("ev-1", "fix something security")
	store := newFakeStore(ev)
	chat := &scriptedChat{responses: map[string][]*llm.ChatResponse{
		ev.Title: {answer("I am not sure what this commit does.")},
	}}
	eng := newTestEngine(t, store, chat)

	n, err := eng.AnalyzeOne(context.Background(), ev)
	require.Error(t, err)
	assert.Equal(t, 0, n)

	// The placeholder stays in analyzing with the failure on record.
	require.Len(t, store.created, 1)
	placeholder := store.created[0]
	assert.NotEmpty(t, store.errors[placeholder.ID])
	assert.False(t, store.published[placeholder.ID])
	assert.Empty(t, store.analyses)
}

func TestAnalyzeOneRecordsFailureOnEmptyArray(t *testing.T) {
	ev := bugfixEvent("ev-1", "fix race in shutdown")
	store := newFakeStore(ev)
	chat := &scriptedChat{responses: map[string][]*llm.ChatResponse{
		ev.Title: {answer(`[]`)},
	}}
	eng := newTestEngine(t, store, chat)

	n, err := eng.AnalyzeOne(context.Background(), ev)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	require.Len(t, store.created, 1)
	assert.Contains(t, store.errors[store.created[0].ID], "empty findings")
}

func TestRunIsolatesEventFailures(t *testing.T) {
	good := bugfixEvent("ev-good", "fix oob read in decoder")
	bad := bugfixEvent("ev-bad", "fix injection in query builder")
	store := newFakeStore(good, bad)
	chat := &scriptedChat{responses: map[string][]*llm.ChatResponse{
		good.Title: {answer(`[{"vuln_type": "out_of_bounds_read", "severity": "medium", "summary": "oob"}]`)},
		bad.Title:  {answer("no structured answer")},
	}}
	eng := newTestEngine(t, store, chat)

	n, err := eng.Run(context.Background())
	require.NoError(t, err, "one failed event must not fail the batch")
	assert.Equal(t, 1, n)

	// Both events were reserved; only the good one published.
	assert.Len(t, store.created, 2)
	assert.Len(t, store.published, 1)
	assert.Len(t, store.errors, 1)
}

func TestCommitSHAFor(t *testing.T) {
	commit := &models.Event{Type: models.EventCommit, Ref: "abc123"}
	assert.Equal(t, "abc123", commitSHAFor(commit))

	merge := "deadbeef"
	pr := &models.Event{Type: models.EventPRMerge, Ref: "42", RelatedCommitSHA: &merge}
	assert.Equal(t, "deadbeef", commitSHAFor(pr))

	issue := &models.Event{Type: models.EventBugIssue, Ref: "7"}
	assert.Equal(t, "", commitSHAFor(issue))
}
