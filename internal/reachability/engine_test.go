package reachability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnsentinel/vulnsentinel/internal/config"
	"github.com/vulnsentinel/vulnsentinel/internal/database"
	apperrors "github.com/vulnsentinel/vulnsentinel/internal/errors"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

type checkCall struct {
	repoURL    string
	version    string
	descriptor map[string]any
}

type fakeChecker struct {
	reachable bool
	paths     [][]string
	err       error
	calls     []checkCall
}

func (f *fakeChecker) CheckReachability(_ context.Context, repoURL, version string, descriptor map[string]any) (bool, [][]string, error) {
	f.calls = append(f.calls, checkCall{repoURL: repoURL, version: version, descriptor: descriptor})
	if f.err != nil {
		return false, nil, f.err
	}
	return f.reachable, f.paths, nil
}

type fakeStore struct {
	rows     []*models.ClientVuln
	vulns    map[string]*models.UpstreamVuln
	projects map[string]*models.Project
	libs     map[string]*models.Library
	snapshot *models.Snapshot

	projectErr error

	verified  map[string]json.RawMessage
	notAffect map[string]bool
	retryMsgs map[string]string
}

func (f *fakeStore) ListPendingReachability(_ context.Context, _ int) ([]*models.ClientVuln, error) {
	return f.rows, nil
}

func (f *fakeStore) GetUpstreamVuln(_ context.Context, id string) (*models.UpstreamVuln, error) {
	if v, ok := f.vulns[id]; ok {
		return v, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	if f.projectErr != nil {
		return nil, f.projectErr
	}
	if p, ok := f.projects[id]; ok {
		return p, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) GetLibrary(_ context.Context, id string) (*models.Library, error) {
	if l, ok := f.libs[id]; ok {
		return l, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) FindSnapshot(_ context.Context, repoURL, version, backend string) (*models.Snapshot, error) {
	if f.snapshot != nil && f.snapshot.RepoURL == repoURL && f.snapshot.Version == version && f.snapshot.Backend == backend {
		return f.snapshot, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) MarkVerified(_ context.Context, id string, reachablePath json.RawMessage) error {
	if f.verified == nil {
		f.verified = make(map[string]json.RawMessage)
	}
	f.verified[id] = reachablePath
	return nil
}

func (f *fakeStore) MarkNotAffect(_ context.Context, id string) error {
	if f.notAffect == nil {
		f.notAffect = make(map[string]bool)
	}
	f.notAffect[id] = true
	return nil
}

func (f *fakeStore) RecordReachabilityError(_ context.Context, id, message string) error {
	if f.retryMsgs == nil {
		f.retryMsgs = make(map[string]string)
	}
	f.retryMsgs[id] = message
	return nil
}

func strptr(s string) *string { return &s }

func pendingRow(id string) *models.ClientVuln {
	return &models.ClientVuln{
		ID:              id,
		UpstreamVulnID:  "uv-1",
		ProjectID:       "proj-1",
		ConstraintExpr:  strptr(">=2.0,<3.0"),
		ResolvedVersion: strptr("2.4.1"),
	}
}

func newTestStore() *fakeStore {
	vulnType := "use_after_free"
	return &fakeStore{
		rows: []*models.ClientVuln{pendingRow("cv-1")},
		vulns: map[string]*models.UpstreamVuln{
			"uv-1": {
				ID:                "uv-1",
				EventID:           "ev-1",
				LibraryID:         "lib-1",
				CommitSHA:         "a21f318",
				VulnType:          &vulnType,
				AffectedFunctions: []string{"parse_frame"},
			},
		},
		projects: map[string]*models.Project{
			"proj-1": {
				ID:            "proj-1",
				Name:          "shop",
				RepoURL:       "https://github.com/acme/shop",
				DefaultBranch: "main",
				PinnedRef:     strptr("v3.2.0"),
			},
		},
		libs: map[string]*models.Library{
			"lib-1": {
				ID:      "lib-1",
				Name:    "libfoo",
				RepoURL: "https://github.com/acme/libfoo",
			},
		},
	}
}

func newTestEngine(store *fakeStore, checker Checker) *Engine {
	cfg := config.AnalysisConfig{Backend: "default", Concurrency: 1}
	return New(store, checker, cfg, logging.New(logging.Config{Level: "error"}))
}

func TestCheckOneMarksVerified(t *testing.T) {
	store := newTestStore()
	checker := &fakeChecker{
		reachable: true,
		paths:     [][]string{{"main", "handle_request", "parse_frame"}},
	}
	e := newTestEngine(store, checker)

	done, err := e.CheckOne(context.Background(), store.rows[0])
	require.NoError(t, err)
	assert.True(t, done)

	require.Contains(t, store.verified, "cv-1")
	assert.JSONEq(t, `[["main","handle_request","parse_frame"]]`, string(store.verified["cv-1"]))
	assert.Empty(t, store.notAffect)

	require.Len(t, checker.calls, 1)
	call := checker.calls[0]
	assert.Equal(t, "https://github.com/acme/shop", call.repoURL)
	assert.Equal(t, "v3.2.0", call.version)
	assert.Equal(t, "uv-1", call.descriptor["id"])
	assert.Equal(t, "use_after_free", call.descriptor["vuln_type"])
	assert.Equal(t, "https://github.com/acme/libfoo", call.descriptor["library_repo_url"])
	assert.Equal(t, "2.4.1", call.descriptor["library_version"])
}

func TestCheckOneMarksNotAffect(t *testing.T) {
	store := newTestStore()
	e := newTestEngine(store, &fakeChecker{reachable: false})

	done, err := e.CheckOne(context.Background(), store.rows[0])
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, store.notAffect["cv-1"])
	assert.Empty(t, store.verified)
}

func TestCheckOnePreconditionStaysPending(t *testing.T) {
	store := newTestStore()
	checker := &fakeChecker{err: apperrors.Preconditionf("snapshot not ready (status building)")}
	e := newTestEngine(store, checker)

	done, err := e.CheckOne(context.Background(), store.rows[0])
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, store.verified)
	assert.Empty(t, store.notAffect)
	assert.Contains(t, store.retryMsgs["cv-1"], "snapshot not ready")
}

func TestCheckOneTransientStaysPending(t *testing.T) {
	store := newTestStore()
	checker := &fakeChecker{err: apperrors.Transientf(errors.New("dial tcp: refused"), "analysis request failed")}
	e := newTestEngine(store, checker)

	done, err := e.CheckOne(context.Background(), store.rows[0])
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, store.notAffect)
	assert.Contains(t, store.retryMsgs["cv-1"], "analysis request failed")
}

func TestCheckOneAnalysisRejectionMarksNotAffect(t *testing.T) {
	store := newTestStore()
	checker := &fakeChecker{err: apperrors.Internalf("analysis failed: unsupported platform")}
	e := newTestEngine(store, checker)

	done, err := e.CheckOne(context.Background(), store.rows[0])
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, store.notAffect["cv-1"])
	assert.Empty(t, store.retryMsgs)
}

func TestCheckOneStoreErrorLeavesRowUntouched(t *testing.T) {
	store := newTestStore()
	store.projectErr = errors.New("connection reset")
	checker := &fakeChecker{reachable: true}
	e := newTestEngine(store, checker)

	done, err := e.CheckOne(context.Background(), store.rows[0])
	require.Error(t, err)
	assert.False(t, done)
	assert.Empty(t, store.verified)
	assert.Empty(t, store.notAffect)
	assert.Empty(t, store.retryMsgs)
	assert.Empty(t, checker.calls)
}

func TestCheckOneSnapshotBuildingSkipsCollaborator(t *testing.T) {
	store := newTestStore()
	store.snapshot = &models.Snapshot{
		RepoURL: "https://github.com/acme/shop",
		Version: "v3.2.0",
		Backend: "default",
		Status:  "building",
	}
	checker := &fakeChecker{reachable: true}
	e := newTestEngine(store, checker)

	done, err := e.CheckOne(context.Background(), store.rows[0])
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, checker.calls)
	assert.Contains(t, store.retryMsgs["cv-1"], "snapshot not ready")
	assert.Contains(t, store.retryMsgs["cv-1"], "building")
}

func TestCheckOneReadySnapshotProceeds(t *testing.T) {
	store := newTestStore()
	store.snapshot = &models.Snapshot{
		RepoURL: "https://github.com/acme/shop",
		Version: "v3.2.0",
		Backend: "default",
		Status:  "ready",
	}
	e := newTestEngine(store, &fakeChecker{reachable: false})

	done, err := e.CheckOne(context.Background(), store.rows[0])
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, store.notAffect["cv-1"])
}

func TestRunCountsVerdicts(t *testing.T) {
	store := newTestStore()
	store.rows = []*models.ClientVuln{pendingRow("cv-1"), pendingRow("cv-2")}
	e := newTestEngine(store, &fakeChecker{reachable: true, paths: [][]string{{"main"}}})

	n, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, store.verified, 2)
}

func TestProjectRef(t *testing.T) {
	tests := []struct {
		name    string
		project *models.Project
		want    string
	}{
		{
			name:    "pinned ref wins",
			project: &models.Project{PinnedRef: strptr("v1.2.3"), CurrentVersion: strptr("1.2.0"), DefaultBranch: "main"},
			want:    "v1.2.3",
		},
		{
			name:    "current version next",
			project: &models.Project{CurrentVersion: strptr("1.2.0"), DefaultBranch: "main"},
			want:    "1.2.0",
		},
		{
			name:    "default branch last",
			project: &models.Project{DefaultBranch: "develop"},
			want:    "develop",
		},
		{
			name:    "empty pin ignored",
			project: &models.Project{PinnedRef: strptr(""), DefaultBranch: "main"},
			want:    "main",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, projectRef(tt.project))
		})
	}
}
