package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnsentinel/vulnsentinel/internal/config"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

type fakeGitHub struct {
	mu          sync.Mutex
	commits     map[string][]*github.RepositoryCommit
	tags        map[string][]*github.RepositoryTag
	failFor     map[string]error
	commitPages map[string]int
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		commits:     map[string][]*github.RepositoryCommit{},
		tags:        map[string][]*github.RepositoryTag{},
		failFor:     map[string]error{},
		commitPages: map[string]int{},
	}
}

func (f *fakeGitHub) ListCommitsSince(_ context.Context, _, repo, _ string, _ time.Time, maxPages int) ([]*github.RepositoryCommit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitPages[repo] = maxPages
	if err := f.failFor[repo]; err != nil {
		return nil, err
	}
	return f.commits[repo], nil
}

func (f *fakeGitHub) ListClosedPRsSince(_ context.Context, _, repo string, _ time.Time) ([]*github.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[repo]; err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeGitHub) ListTagsUntil(_ context.Context, _, repo, _ string) ([]*github.RepositoryTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[repo]; err != nil {
		return nil, err
	}
	return f.tags[repo], nil
}

func (f *fakeGitHub) ListBugIssuesSince(_ context.Context, _, repo string, _ []string, _ time.Time) ([]*github.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[repo]; err != nil {
		return nil, err
	}
	return nil, nil
}

type fakeStore struct {
	mu        sync.Mutex
	libs      []*models.Library
	inserted  []*models.Event
	advanced  map[string][2]*string
	insertErr error
}

func newFakeStore(libs ...*models.Library) *fakeStore {
	return &fakeStore{libs: libs, advanced: map[string][2]*string{}}
}

func (f *fakeStore) ListStaleLibraries(_ context.Context, _ time.Duration, _ int) ([]*models.Library, error) {
	return f.libs, nil
}

func (f *fakeStore) InsertEvents(_ context.Context, events []*models.Event) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = append(f.inserted, events...)
	return len(events), nil
}

func (f *fakeStore) AdvanceLibraryPointers(_ context.Context, id string, sha, tag *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanced[id] = [2]*string{sha, tag}
	return nil
}

func testLib(id, name string) *models.Library {
	seen := time.Now().Add(-2 * time.Hour).UTC()
	return &models.Library{
		ID:             id,
		Name:           name,
		RepoURL:        "https://github.com/acme/" + name,
		DefaultBranch:  "main",
		LastActivityAt: &seen,
	}
}

func testEngine(store Store, gh GitHubAPI) *Engine {
	cfg := config.CollectorConfig{ActivityWindow: 75 * time.Minute, Concurrency: 2}
	return New(store, gh, cfg, logging.New(logging.Config{Level: "error"}))
}

func TestRunIsolatesLibraryFailures(t *testing.T) {
	gh := newFakeGitHub()
	gh.commits["good"] = []*github.RepositoryCommit{
		{SHA: github.String("newsha"), Commit: &github.Commit{Message: github.String("fix: bug")}},
	}
	gh.tags["good"] = []*github.RepositoryTag{
		{Name: github.String("v2.0.0"), Commit: &github.Commit{SHA: github.String("tsha")}},
	}
	gh.failFor["broken"] = errors.New("boom")

	store := newFakeStore(testLib("lib-good", "good"), testLib("lib-broken", "broken"))
	eng := testEngine(store, gh)

	inserted, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, inserted) // one commit plus one tag

	// The healthy library advanced, the broken one kept its pointers so its
	// window replays next tick.
	ptrs, ok := store.advanced["lib-good"]
	require.True(t, ok)
	assert.Equal(t, "newsha", *ptrs[0])
	assert.Equal(t, "v2.0.0", *ptrs[1])
	_, ok = store.advanced["lib-broken"]
	assert.False(t, ok)
}

func TestCollectLibraryHoldsPointersOnInsertFailure(t *testing.T) {
	gh := newFakeGitHub()
	gh.commits["libfoo"] = []*github.RepositoryCommit{
		{SHA: github.String("abc"), Commit: &github.Commit{Message: github.String("fix: x")}},
	}

	store := newFakeStore()
	store.insertErr = errors.New("db down")
	eng := testEngine(store, gh)

	_, err := eng.CollectLibrary(context.Background(), testLib("lib-1", "libfoo"))
	require.Error(t, err)
	assert.Empty(t, store.advanced)
}

func TestCollectLibraryAdvancesWithoutNewActivity(t *testing.T) {
	gh := newFakeGitHub()
	store := newFakeStore()
	eng := testEngine(store, gh)

	inserted, err := eng.CollectLibrary(context.Background(), testLib("lib-1", "libfoo"))
	require.NoError(t, err)
	assert.Zero(t, inserted)

	// Quiet windows still stamp the library as checked, with nil pointers
	// leaving the stored ones untouched.
	ptrs, ok := store.advanced["lib-1"]
	require.True(t, ok)
	assert.Nil(t, ptrs[0])
	assert.Nil(t, ptrs[1])
}

func TestCollectLibraryCapsFirstRunCommits(t *testing.T) {
	gh := newFakeGitHub()
	store := newFakeStore()
	eng := testEngine(store, gh)

	lib := testLib("lib-1", "libfoo")
	lib.LastActivityAt = nil

	_, err := eng.CollectLibrary(context.Background(), lib)
	require.NoError(t, err)
	assert.Equal(t, 1, gh.commitPages["libfoo"])
}

func TestSinceFor(t *testing.T) {
	eng := testEngine(newFakeStore(), newFakeGitHub())

	lib := testLib("lib-1", "libfoo")
	since, firstRun := eng.sinceFor(lib)
	assert.False(t, firstRun)
	assert.Equal(t, *lib.LastActivityAt, since)

	lib.LastActivityAt = nil
	since, firstRun = eng.sinceFor(lib)
	assert.True(t, firstRun)
	assert.WithinDuration(t, time.Now().UTC().Add(-30*24*time.Hour), since, time.Minute)
}
