package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnsentinel/vulnsentinel/internal/database"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

type fakeNotifier struct {
	name   string
	err    error
	alerts []*Alert
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Notify(_ context.Context, alert *Alert) error {
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

type fakeStore struct {
	rows     []*models.ClientVuln
	vulns    map[string]*models.UpstreamVuln
	projects map[string]*models.Project
	libs     map[string]*models.Library
	reported map[string]bool
}

func (f *fakeStore) ListNeedingNotification(_ context.Context, _ int) ([]*models.ClientVuln, error) {
	return f.rows, nil
}

func (f *fakeStore) GetUpstreamVuln(_ context.Context, id string) (*models.UpstreamVuln, error) {
	if v, ok := f.vulns[id]; ok {
		return v, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) GetProject(_ context.Context, id string) (*models.Project, error) {
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

func (f *fakeStore) MarkReported(_ context.Context, id string) error {
	if f.reported == nil {
		f.reported = make(map[string]bool)
	}
	f.reported[id] = true
	return nil
}

func strptr(s string) *string { return &s }

func sevptr(s models.Severity) *models.Severity { return &s }

func newTestStore() *fakeStore {
	return &fakeStore{
		rows: []*models.ClientVuln{{
			ID:             "cv-1",
			UpstreamVulnID: "uv-1",
			ProjectID:      "proj-1",
			PipelineStatus: models.PipelineVerified,
		}},
		vulns: map[string]*models.UpstreamVuln{
			"uv-1": {
				ID:        "uv-1",
				LibraryID: "lib-1",
				CommitSHA: "a21f318dd9c60e68a549e9eac33c3a9883f6b1bc",
				VulnType:  strptr("use_after_free"),
				Severity:  sevptr(models.SeverityHigh),
				Summary:   strptr("Freed frame buffer reused on malformed input."),
			},
		},
		projects: map[string]*models.Project{
			"proj-1": {ID: "proj-1", Name: "shop", RepoURL: "https://github.com/acme/shop"},
		},
		libs: map[string]*models.Library{
			"lib-1": {ID: "lib-1", Name: "libfoo", RepoURL: "https://github.com/acme/libfoo"},
		},
	}
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error"})
}

func TestRunReportsAfterDelivery(t *testing.T) {
	store := newTestStore()
	channel := &fakeNotifier{name: "test"}
	e := New(store, []Notifier{channel}, testLogger())

	n, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, store.reported["cv-1"])

	require.Len(t, channel.alerts, 1)
	alert := channel.alerts[0]
	assert.Equal(t, "shop", alert.Project.Name)
	assert.Equal(t, "libfoo", alert.Library.Name)
	assert.Equal(t, "HIGH use_after_free in libfoo reaches shop", alert.Title())
	assert.Equal(t, "Freed frame buffer reused on malformed input.", alert.Summary())
}

func TestNotifyOneFailedDispatchLeavesRowRecorded(t *testing.T) {
	store := newTestStore()
	channel := &fakeNotifier{name: "test", err: errors.New("receiver down")}
	e := New(store, []Notifier{channel}, testLogger())

	n, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, store.reported)
}

func TestNotifyOneRequiresEveryChannel(t *testing.T) {
	store := newTestStore()
	good := &fakeNotifier{name: "good"}
	bad := &fakeNotifier{name: "bad", err: errors.New("delivery refused")}
	e := New(store, []Notifier{good, bad}, testLogger())

	err := e.NotifyOne(context.Background(), store.rows[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Empty(t, store.reported)
	// The first channel already fired; retry will send it a duplicate,
	// which receivers must tolerate.
	assert.Len(t, good.alerts, 1)
}

func TestNotifyOneMissingJoinRowFails(t *testing.T) {
	store := newTestStore()
	delete(store.projects, "proj-1")
	e := New(store, []Notifier{&fakeNotifier{name: "test"}}, testLogger())

	err := e.NotifyOne(context.Background(), store.rows[0])
	require.Error(t, err)
	assert.Empty(t, store.reported)
}

func TestAlertFallbackSummary(t *testing.T) {
	store := newTestStore()
	store.vulns["uv-1"].Summary = nil
	store.vulns["uv-1"].Severity = nil
	store.vulns["uv-1"].VulnType = nil
	channel := &fakeNotifier{name: "test"}
	e := New(store, []Notifier{channel}, testLogger())

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, channel.alerts, 1)
	assert.Equal(t, "vulnerability in libfoo reaches shop", channel.alerts[0].Title())
	assert.Equal(t, "Fixed upstream in libfoo commit a21f318dd9c6.", channel.alerts[0].Summary())
}
