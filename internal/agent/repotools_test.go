package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	gh "github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	commits  map[string]*gh.RepositoryCommit
	prFiles  map[int][]*gh.CommitFile
	files    map[string]string
	issues   map[int]*gh.Issue
	comments map[int][]*gh.IssueComment
	prs      map[int]*gh.PullRequest

	commitCalls int
}

func (f *fakeRepo) GetCommit(ctx context.Context, owner, repo, sha string) (*gh.RepositoryCommit, error) {
	f.commitCalls++
	c, ok := f.commits[sha]
	if !ok {
		return nil, fmt.Errorf("commit %s not found", sha)
	}
	return c, nil
}

func (f *fakeRepo) ListPRFiles(ctx context.Context, owner, repo string, number int) ([]*gh.CommitFile, error) {
	files, ok := f.prFiles[number]
	if !ok {
		return nil, fmt.Errorf("pr %d not found", number)
	}
	return files, nil
}

func (f *fakeRepo) GetFileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	content, ok := f.files[ref+":"+path]
	if !ok {
		return "", fmt.Errorf("file %s not found at %s", path, ref)
	}
	return content, nil
}

func (f *fakeRepo) GetIssue(ctx context.Context, owner, repo string, number int) (*gh.Issue, error) {
	issue, ok := f.issues[number]
	if !ok {
		return nil, fmt.Errorf("issue %d not found", number)
	}
	return issue, nil
}

func (f *fakeRepo) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]*gh.IssueComment, error) {
	return f.comments[number], nil
}

func (f *fakeRepo) GetPR(ctx context.Context, owner, repo string, number int) (*gh.PullRequest, error) {
	pr, ok := f.prs[number]
	if !ok {
		return nil, fmt.Errorf("pr %d not found", number)
	}
	return pr, nil
}

type memCache struct{ m map[string][]byte }

func newMemCache() *memCache { return &memCache{m: map[string][]byte{}} }

func (c *memCache) Get(ctx context.Context, key string, target any) (bool, error) {
	b, ok := c.m[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, target)
}

func (c *memCache) Set(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.m[key] = b
	return nil
}

func (c *memCache) SetWithTTL(ctx context.Context, key string, value any, _ time.Duration) error {
	return c.Set(ctx, key, value)
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	delete(c.m, key)
	return nil
}

func (c *memCache) Close() error { return nil }

func fixCommit(sha, message string, files ...*gh.CommitFile) *gh.RepositoryCommit {
	return &gh.RepositoryCommit{
		SHA:    gh.String(sha),
		Commit: &gh.Commit{Message: gh.String(message)},
		Files:  files,
	}
}

func changedFile(name, status string, add, del int, patch string) *gh.CommitFile {
	f := &gh.CommitFile{
		Filename:  gh.String(name),
		Status:    gh.String(status),
		Additions: gh.Int(add),
		Deletions: gh.Int(del),
	}
	if patch != "" {
		f.Patch = gh.String(patch)
	}
	return f
}

func toolsServer(t *testing.T, repo *fakeRepo) *ToolServer {
	t.Helper()
	rt := NewRepoTools(repo, newMemCache(), "acme", "libfoo")
	srv := NewToolServer()
	rt.Register(srv)
	return srv
}

func TestRepoToolsRegisterAll(t *testing.T) {
	srv := toolsServer(t, &fakeRepo{})
	tools := srv.Tools()
	require.Len(t, tools, 5)
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	assert.Equal(t, []string{
		"fetch_commit_diff", "fetch_pr_diff", "fetch_file_content",
		"fetch_issue_body", "fetch_pr_body",
	}, names)
}

func TestFetchCommitDiffReturnsDiffstatFirst(t *testing.T) {
	repo := &fakeRepo{commits: map[string]*gh.RepositoryCommit{
		"abc123": fixCommit("abc123", "fix: overflow in parser",
			changedFile("src/parse.c", "modified", 12, 3, "@@ -1 +1 @@"),
			changedFile("test/parse_test.c", "added", 40, 0, "@@ -0 +1 @@")),
	}}
	srv := toolsServer(t, repo)

	out, err := srv.Call(context.Background(), "fetch_commit_diff", map[string]any{"sha": "abc123"})
	require.NoError(t, err)

	assert.Contains(t, out, "commit abc123")
	assert.Contains(t, out, "fix: overflow in parser")
	assert.Contains(t, out, "2 files changed")
	assert.Contains(t, out, "src/parse.c +12 -3")
	assert.Contains(t, out, "file_path")
	assert.NotContains(t, out, "@@")
}

func TestFetchCommitDiffDrillsIntoFile(t *testing.T) {
	repo := &fakeRepo{commits: map[string]*gh.RepositoryCommit{
		"abc123": fixCommit("abc123", "fix",
			changedFile("src/parse.c", "modified", 1, 1, "@@ -10,2 +10,2 @@ guarded copy"),
			changedFile("img/logo.png", "modified", 0, 0, "")),
	}}
	srv := toolsServer(t, repo)

	out, err := srv.Call(context.Background(), "fetch_commit_diff",
		map[string]any{"sha": "abc123", "file_path": "src/parse.c"})
	require.NoError(t, err)
	assert.Equal(t, "@@ -10,2 +10,2 @@ guarded copy", out)

	_, err = srv.Call(context.Background(), "fetch_commit_diff",
		map[string]any{"sha": "abc123", "file_path": "img/logo.png"})
	assert.ErrorContains(t, err, "no text patch")

	_, err = srv.Call(context.Background(), "fetch_commit_diff",
		map[string]any{"sha": "abc123", "file_path": "src/other.c"})
	assert.ErrorContains(t, err, "not part of this change")
}

func TestFetchCommitDiffTruncatesLargePatch(t *testing.T) {
	repo := &fakeRepo{commits: map[string]*gh.RepositoryCommit{
		"big": fixCommit("big", "vendor bump",
			changedFile("vendor/dep.c", "modified", 9000, 0, strings.Repeat("x", maxPatchChars+5000))),
	}}
	srv := toolsServer(t, repo)

	out, err := srv.Call(context.Background(), "fetch_commit_diff",
		map[string]any{"sha": "big", "file_path": "vendor/dep.c"})
	require.NoError(t, err)
	assert.Len(t, out, maxPatchChars+len(patchTruncationMarker))
	assert.True(t, strings.HasSuffix(out, patchTruncationMarker))
}

func TestFetchCommitDiffUsesCache(t *testing.T) {
	repo := &fakeRepo{commits: map[string]*gh.RepositoryCommit{
		"abc123": fixCommit("abc123", "fix", changedFile("a.c", "modified", 1, 1, "@@")),
	}}
	srv := toolsServer(t, repo)

	_, err := srv.Call(context.Background(), "fetch_commit_diff", map[string]any{"sha": "abc123"})
	require.NoError(t, err)
	_, err = srv.Call(context.Background(), "fetch_commit_diff",
		map[string]any{"sha": "abc123", "file_path": "a.c"})
	require.NoError(t, err)

	assert.Equal(t, 1, repo.commitCalls)
}

func TestFetchPRDiff(t *testing.T) {
	repo := &fakeRepo{prFiles: map[int][]*gh.CommitFile{
		88: {
			changedFile("lib/auth.c", "modified", 5, 2, "@@ auth check"),
		},
	}}
	srv := toolsServer(t, repo)

	// JSON numbers arrive as float64.
	out, err := srv.Call(context.Background(), "fetch_pr_diff", map[string]any{"pr_number": 88.0})
	require.NoError(t, err)
	assert.Contains(t, out, "pull request #88")
	assert.Contains(t, out, "lib/auth.c +5 -2")

	out, err = srv.Call(context.Background(), "fetch_pr_diff",
		map[string]any{"pr_number": 88.0, "file_path": "lib/auth.c"})
	require.NoError(t, err)
	assert.Equal(t, "@@ auth check", out)
}

func TestFetchFileContentDefaultsToHead(t *testing.T) {
	repo := &fakeRepo{files: map[string]string{
		"HEAD:go.mod":   "module libfoo",
		"v1.2.0:go.mod": "module libfoo // old",
	}}
	srv := toolsServer(t, repo)

	out, err := srv.Call(context.Background(), "fetch_file_content", map[string]any{"path": "go.mod"})
	require.NoError(t, err)
	assert.Equal(t, "module libfoo", out)

	out, err = srv.Call(context.Background(), "fetch_file_content",
		map[string]any{"path": "go.mod", "ref": "v1.2.0"})
	require.NoError(t, err)
	assert.Equal(t, "module libfoo // old", out)
}

func TestFetchIssueBodyIncludesComments(t *testing.T) {
	repo := &fakeRepo{
		issues: map[int]*gh.Issue{
			404: {
				Title: gh.String("crash on malformed input"),
				State: gh.String("closed"),
				Body:  gh.String("segfault when parsing"),
			},
		},
		comments: map[int][]*gh.IssueComment{
			404: {
				{User: &gh.User{Login: gh.String("ada")}, Body: gh.String("reproduced on 1.2.0")},
			},
		},
	}
	srv := toolsServer(t, repo)

	out, err := srv.Call(context.Background(), "fetch_issue_body", map[string]any{"issue_number": 404.0})
	require.NoError(t, err)
	assert.Contains(t, out, "issue #404: crash on malformed input")
	assert.Contains(t, out, "state: closed")
	assert.Contains(t, out, "segfault when parsing")
	assert.Contains(t, out, "comment by ada")
	assert.Contains(t, out, "reproduced on 1.2.0")
}

func TestFetchPRBody(t *testing.T) {
	repo := &fakeRepo{prs: map[int]*gh.PullRequest{
		88: {
			Title:          gh.String("Fix auth bypass"),
			State:          gh.String("closed"),
			Merged:         gh.Bool(true),
			MergeCommitSHA: gh.String("mc88"),
			Body:           gh.String("Closes #404"),
		},
	}}
	srv := toolsServer(t, repo)

	out, err := srv.Call(context.Background(), "fetch_pr_body", map[string]any{"pr_number": 88.0})
	require.NoError(t, err)
	assert.Contains(t, out, "pull request #88: Fix auth bypass")
	assert.Contains(t, out, "merged: true")
	assert.Contains(t, out, "merge_commit_sha: mc88")
	assert.Contains(t, out, "Closes #404")
}

func TestRepoToolsValidateRequiredArgs(t *testing.T) {
	srv := toolsServer(t, &fakeRepo{})

	_, err := srv.Call(context.Background(), "fetch_commit_diff", map[string]any{})
	assert.ErrorContains(t, err, "sha is required")

	_, err = srv.Call(context.Background(), "fetch_pr_diff", map[string]any{})
	assert.ErrorContains(t, err, "pr_number is required")

	_, err = srv.Call(context.Background(), "fetch_file_content", map[string]any{})
	assert.ErrorContains(t, err, "path is required")

	_, err = srv.Call(context.Background(), "fetch_issue_body", map[string]any{})
	assert.ErrorContains(t, err, "issue_number is required")
}
