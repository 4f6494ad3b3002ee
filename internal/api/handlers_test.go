package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnsentinel/vulnsentinel/internal/config"
	"github.com/vulnsentinel/vulnsentinel/internal/database"
	apperrors "github.com/vulnsentinel/vulnsentinel/internal/errors"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

type manualInsert struct {
	projectID  string
	libraryID  string
	constraint *string
	resolved   *string
}

type fakeStore struct {
	pingErr error

	projects         map[string]*models.Project
	createProjectErr error
	createdRepoURL   string

	libraryConflict bool
	upserts         []string

	manualDeps []manualInsert

	clientVulns map[string]*models.ClientVuln
	statusErr   error
	statusSet   []string
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) CreateProject(_ context.Context, p *models.Project) (*models.Project, error) {
	if f.createProjectErr != nil {
		return nil, f.createProjectErr
	}
	f.createdRepoURL = p.RepoURL
	created := *p
	created.ID = "proj-1"
	return &created, nil
}

func (f *fakeStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	if p, ok := f.projects[id]; ok {
		return p, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) ListProjects(_ context.Context, _ *database.CursorCodec, _ *database.Cursor, _ int) (database.Page[*models.Project], error) {
	items := make([]*models.Project, 0, len(f.projects))
	for _, p := range f.projects {
		items = append(items, p)
	}
	return database.Page[*models.Project]{Items: items}, nil
}

func (f *fakeStore) UpsertLibrary(_ context.Context, name, repoURL, _, _ string) (*models.Library, error) {
	if f.libraryConflict {
		return nil, database.ErrConflict
	}
	f.upserts = append(f.upserts, name)
	return &models.Library{ID: "lib-" + name, Name: name, RepoURL: repoURL}, nil
}

func (f *fakeStore) GetLibrary(_ context.Context, id string) (*models.Library, error) {
	return nil, database.ErrNotFound
}

func (f *fakeStore) ListLibraries(_ context.Context, _ *database.CursorCodec, _ *database.Cursor, _ int) (database.Page[*models.Library], error) {
	return database.Page[*models.Library]{Items: []*models.Library{}}, nil
}

func (f *fakeStore) InsertManualDependency(_ context.Context, projectID, libraryID string, constraintExpr, resolvedVersion *string) (*models.ProjectDependency, error) {
	f.manualDeps = append(f.manualDeps, manualInsert{projectID, libraryID, constraintExpr, resolvedVersion})
	return &models.ProjectDependency{
		ProjectID:        projectID,
		LibraryID:        libraryID,
		ConstraintExpr:   constraintExpr,
		ResolvedVersion:  resolvedVersion,
		ConstraintSource: "manual",
	}, nil
}

func (f *fakeStore) ListDependenciesByProject(_ context.Context, _ string) ([]*models.ProjectDependency, error) {
	return []*models.ProjectDependency{}, nil
}

func (f *fakeStore) ListUpstreamVulns(_ context.Context, _ *database.CursorCodec, _ *database.Cursor, _ int) (database.Page[*models.UpstreamVuln], error) {
	return database.Page[*models.UpstreamVuln]{Items: []*models.UpstreamVuln{}}, nil
}

func (f *fakeStore) ListUpstreamVulnsByLibrary(_ context.Context, _ string, _ *database.CursorCodec, _ *database.Cursor, _ int) (database.Page[*models.UpstreamVuln], error) {
	return database.Page[*models.UpstreamVuln]{Items: []*models.UpstreamVuln{}}, nil
}

func (f *fakeStore) GetClientVuln(_ context.Context, id string) (*models.ClientVuln, error) {
	if cv, ok := f.clientVulns[id]; ok {
		return cv, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) ListClientVulnsByProject(_ context.Context, _ string, _ *database.CursorCodec, _ *database.Cursor, _ int) (database.Page[*models.ClientVuln], error) {
	return database.Page[*models.ClientVuln]{Items: []*models.ClientVuln{}}, nil
}

func (f *fakeStore) UpdateClientVulnStatus(_ context.Context, id string, to models.ClientVulnStatus) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statusSet = append(f.statusSet, id+":"+string(to))
	return nil
}

type fakeBackfiller struct {
	n     int
	err   error
	calls []string
}

func (f *fakeBackfiller) BackfillProject(_ context.Context, projectID string) (int, error) {
	f.calls = append(f.calls, projectID)
	return f.n, f.err
}

func newTestStore() *fakeStore {
	return &fakeStore{
		projects:    map[string]*models.Project{},
		clientVulns: map[string]*models.ClientVuln{},
	}
}

func newTestHandler(store *fakeStore, impact *fakeBackfiller) http.Handler {
	codec, err := database.NewCursorCodec("0123456789abcdef")
	if err != nil {
		panic(err)
	}
	s := New(store, impact, config.ServerConfig{Addr: ":0"}, codec, logging.New(logging.Config{Level: "error"}))
	return s.Handler(nil)
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateProject(t *testing.T) {
	store := newTestStore()
	impact := &fakeBackfiller{}
	h := newTestHandler(store, impact)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects",
		`{"name": "shop", "repo_url": "https://github.com/acme/shop.git"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp createProjectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "proj-1", resp.Project.ID)
	assert.True(t, resp.Project.AutoSyncDeps)
	assert.Equal(t, "https://github.com/acme/shop", store.createdRepoURL)
	// No dependencies registered, so nothing to backfill.
	assert.Empty(t, impact.calls)
}

func TestCreateProjectWithDependencies(t *testing.T) {
	store := newTestStore()
	impact := &fakeBackfiller{n: 3}
	h := newTestHandler(store, impact)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects", `{
		"name": "shop",
		"repo_url": "https://github.com/acme/shop",
		"auto_sync_deps": false,
		"dependencies": [
			{"library_name": "libfoo", "library_repo_url": "git@github.com:acme/libfoo.git", "resolved_version": "2.4.1"}
		]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp createProjectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Backfilled)
	assert.Equal(t, []string{"proj-1"}, impact.calls)
	assert.Equal(t, []string{"libfoo"}, store.upserts)

	require.Len(t, store.manualDeps, 1)
	assert.Equal(t, "lib-libfoo", store.manualDeps[0].libraryID)
	require.NotNil(t, store.manualDeps[0].resolved)
	assert.Equal(t, "2.4.1", *store.manualDeps[0].resolved)
}

func TestCreateProjectValidation(t *testing.T) {
	h := newTestHandler(newTestStore(), &fakeBackfiller{})

	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects", `{"name": "shop"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "RepoURL")
}

func TestCreateProjectDuplicateRepo(t *testing.T) {
	store := newTestStore()
	store.createProjectErr = database.ErrConflict
	h := newTestHandler(store, &fakeBackfiller{})

	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects",
		`{"name": "shop", "repo_url": "https://github.com/acme/shop"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateDependencyRejectsConstraintSource(t *testing.T) {
	store := newTestStore()
	store.projects["proj-1"] = &models.Project{ID: "proj-1"}
	h := newTestHandler(store, &fakeBackfiller{})

	// constraint_source is server-owned; a client sending it is an error,
	// never a silent overwrite.
	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects/proj-1/dependencies",
		`{"library_name": "libfoo", "library_repo_url": "https://github.com/acme/libfoo", "constraint_source": "scanner"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "constraint_source")
	assert.Empty(t, store.manualDeps)
}

func TestCreateDependency(t *testing.T) {
	store := newTestStore()
	store.projects["proj-1"] = &models.Project{ID: "proj-1"}
	impact := &fakeBackfiller{n: 1}
	h := newTestHandler(store, impact)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects/proj-1/dependencies",
		`{"library_name": "libfoo", "library_repo_url": "https://github.com/acme/libfoo", "constraint_expr": ">=2.0,<3.0"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp createDependencyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "manual", resp.Dependency.ConstraintSource)
	assert.Equal(t, 1, resp.Backfilled)
	assert.Equal(t, []string{"proj-1"}, impact.calls)
}

func TestCreateDependencyUnknownProject(t *testing.T) {
	h := newTestHandler(newTestStore(), &fakeBackfiller{})

	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects/nope/dependencies",
		`{"library_name": "libfoo", "library_repo_url": "https://github.com/acme/libfoo"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateDependencyLibraryConflict(t *testing.T) {
	store := newTestStore()
	store.projects["proj-1"] = &models.Project{ID: "proj-1"}
	store.libraryConflict = true
	h := newTestHandler(store, &fakeBackfiller{})

	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects/proj-1/dependencies",
		`{"library_name": "libfoo", "library_repo_url": "https://github.com/other/libfoo"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateVulnStatus(t *testing.T) {
	store := newTestStore()
	store.clientVulns["cv-1"] = &models.ClientVuln{ID: "cv-1"}
	h := newTestHandler(store, &fakeBackfiller{})

	rec := doRequest(t, h, http.MethodPatch, "/api/v1/client-vulns/cv-1/status",
		`{"status": "confirmed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"cv-1:confirmed"}, store.statusSet)
}

func TestUpdateVulnStatusInvalidTransition(t *testing.T) {
	store := newTestStore()
	store.statusErr = apperrors.InvalidTransition("fixed", "recorded")
	h := newTestHandler(store, &fakeBackfiller{})

	rec := doRequest(t, h, http.MethodPatch, "/api/v1/client-vulns/cv-1/status",
		`{"status": "recorded"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateVulnStatusUnknownValue(t *testing.T) {
	h := newTestHandler(newTestStore(), &fakeBackfiller{})

	rec := doRequest(t, h, http.MethodPatch, "/api/v1/client-vulns/cv-1/status",
		`{"status": "escalated"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateVulnStatusNotFound(t *testing.T) {
	store := newTestStore()
	store.statusErr = database.ErrNotFound
	h := newTestHandler(store, &fakeBackfiller{})

	rec := doRequest(t, h, http.MethodPatch, "/api/v1/client-vulns/cv-1/status",
		`{"status": "confirmed"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProjectsBadCursor(t *testing.T) {
	h := newTestHandler(newTestStore(), &fakeBackfiller{})

	rec := doRequest(t, h, http.MethodGet, "/api/v1/projects?cursor=tampered", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListProjectVulnsUnknownProject(t *testing.T) {
	h := newTestHandler(newTestStore(), &fakeBackfiller{})

	rec := doRequest(t, h, http.MethodGet, "/api/v1/projects/nope/vulns", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	store := newTestStore()
	h := newTestHandler(store, &fakeBackfiller{})

	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodGet, "/readyz", "").Code)

	store.pingErr = context.DeadlineExceeded
	assert.Equal(t, http.StatusServiceUnavailable, doRequest(t, h, http.MethodGet, "/readyz", "").Code)
}

func TestBackfillFailureDoesNotFailWrite(t *testing.T) {
	store := newTestStore()
	store.projects["proj-1"] = &models.Project{ID: "proj-1"}
	h := newTestHandler(store, &fakeBackfiller{err: context.DeadlineExceeded})

	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects/proj-1/dependencies",
		`{"library_name": "libfoo", "library_repo_url": "https://github.com/acme/libfoo"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp createDependencyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Backfilled)
}
