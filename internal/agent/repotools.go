package agent

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v57/github"

	"github.com/vulnsentinel/vulnsentinel/internal/cache"
)

// Single-file patches are capped separately from the per-tool output cap:
// a diff that large is almost always a vendored file or lockfile churn.
const (
	maxPatchChars         = 15000
	patchTruncationMarker = "\n... [patch truncated]"
)

// RepoReader is the read-only GitHub surface the tools use.
// *github.Client satisfies it.
type RepoReader interface {
	GetCommit(ctx context.Context, owner, repo, sha string) (*gh.RepositoryCommit, error)
	ListPRFiles(ctx context.Context, owner, repo string, number int) ([]*gh.CommitFile, error)
	GetFileContent(ctx context.Context, owner, repo, path, ref string) (string, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (*gh.Issue, error)
	ListIssueComments(ctx context.Context, owner, repo string, number int) ([]*gh.IssueComment, error)
	GetPR(ctx context.Context, owner, repo string, number int) (*gh.PullRequest, error)
}

// RepoTools is the shared read-only GitHub tool set for the LLM engines.
// One instance per run, bound to a single repository; GitHub responses are
// cached across runs because commit and PR content is immutable.
type RepoTools struct {
	gh    RepoReader
	cache cache.Cache
	owner string
	repo  string
}

// NewRepoTools binds the tool set to one repository. A nil contentCache
// disables caching.
func NewRepoTools(client RepoReader, contentCache cache.Cache, owner, repo string) *RepoTools {
	if contentCache == nil {
		contentCache = cache.Nop{}
	}
	return &RepoTools{gh: client, cache: contentCache, owner: owner, repo: repo}
}

// Register adds the five repo tools to a per-run server.
func (rt *RepoTools) Register(server *ToolServer) {
	server.Register("fetch_commit_diff",
		"Fetch a commit's message and change summary. Without file_path, returns the commit message and a diffstat of changed files. Pass file_path to get that one file's patch.",
		ObjectSchema(map[string]any{
			"sha":       StringParam("The commit SHA."),
			"file_path": StringParam("Optional. A path from the diffstat whose patch you want."),
		}, "sha"),
		rt.fetchCommitDiff)

	server.Register("fetch_pr_diff",
		"Fetch a pull request's change summary. Without file_path, returns a diffstat of changed files. Pass file_path to get that one file's patch.",
		ObjectSchema(map[string]any{
			"pr_number": IntParam("The pull request number."),
			"file_path": StringParam("Optional. A path from the diffstat whose patch you want."),
		}, "pr_number"),
		rt.fetchPRDiff)

	server.Register("fetch_file_content",
		"Fetch the full content of one file from the repository.",
		ObjectSchema(map[string]any{
			"path": StringParam("The file path within the repository."),
			"ref":  StringParam("Optional. Branch, tag, or SHA; defaults to HEAD."),
		}, "path"),
		rt.fetchFileContent)

	server.Register("fetch_issue_body",
		"Fetch an issue's title, body, and first page of comments.",
		ObjectSchema(map[string]any{
			"issue_number": IntParam("The issue number."),
		}, "issue_number"),
		rt.fetchIssueBody)

	server.Register("fetch_pr_body",
		"Fetch a pull request's title, description, and merge metadata.",
		ObjectSchema(map[string]any{
			"pr_number": IntParam("The pull request number."),
		}, "pr_number"),
		rt.fetchPRBody)
}

func (rt *RepoTools) fetchCommitDiff(ctx context.Context, args map[string]any) (string, error) {
	sha := StringArg(args, "sha")
	if sha == "" {
		return "", fmt.Errorf("sha is required")
	}
	commit, err := rt.commit(ctx, sha)
	if err != nil {
		return "", err
	}
	if filePath := StringArg(args, "file_path"); filePath != "" {
		return patchFor(commit.Files, filePath)
	}
	header := fmt.Sprintf("commit %s\n%s", commit.GetSHA(), strings.TrimSpace(commit.GetCommit().GetMessage()))
	return formatDiffstat(header, commit.Files), nil
}

func (rt *RepoTools) fetchPRDiff(ctx context.Context, args map[string]any) (string, error) {
	number := IntArg(args, "pr_number")
	if number <= 0 {
		return "", fmt.Errorf("pr_number is required")
	}
	files, err := rt.prFiles(ctx, number)
	if err != nil {
		return "", err
	}
	if filePath := StringArg(args, "file_path"); filePath != "" {
		return patchFor(files, filePath)
	}
	return formatDiffstat(fmt.Sprintf("pull request #%d", number), files), nil
}

func (rt *RepoTools) fetchFileContent(ctx context.Context, args map[string]any) (string, error) {
	path := StringArg(args, "path")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	ref := StringArg(args, "ref")
	if ref == "" {
		ref = "HEAD"
	}

	key := cache.FileKey(rt.owner, rt.repo, ref, path)
	var content string
	if ok, err := rt.cache.Get(ctx, key, &content); err == nil && ok {
		return content, nil
	}
	content, err := rt.gh.GetFileContent(ctx, rt.owner, rt.repo, path, ref)
	if err != nil {
		return "", err
	}
	_ = rt.cache.Set(ctx, key, content)
	return content, nil
}

func (rt *RepoTools) fetchIssueBody(ctx context.Context, args map[string]any) (string, error) {
	number := IntArg(args, "issue_number")
	if number <= 0 {
		return "", fmt.Errorf("issue_number is required")
	}

	key := cache.IssueKey(rt.owner, rt.repo, number)
	var text string
	if ok, err := rt.cache.Get(ctx, key, &text); err == nil && ok {
		return text, nil
	}

	issue, err := rt.gh.GetIssue(ctx, rt.owner, rt.repo, number)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "issue #%d: %s\nstate: %s\n\n%s\n", number, issue.GetTitle(), issue.GetState(), issue.GetBody())
	// Comments are context, not the point; skip them quietly on error.
	if comments, err := rt.gh.ListIssueComments(ctx, rt.owner, rt.repo, number); err == nil {
		for _, c := range comments {
			fmt.Fprintf(&b, "\n--- comment by %s ---\n%s\n", c.GetUser().GetLogin(), c.GetBody())
		}
	}

	text = b.String()
	_ = rt.cache.Set(ctx, key, text)
	return text, nil
}

func (rt *RepoTools) fetchPRBody(ctx context.Context, args map[string]any) (string, error) {
	number := IntArg(args, "pr_number")
	if number <= 0 {
		return "", fmt.Errorf("pr_number is required")
	}

	key := cache.PRKey(rt.owner, rt.repo, number)
	var text string
	if ok, err := rt.cache.Get(ctx, key, &text); err == nil && ok {
		return text, nil
	}

	pr, err := rt.gh.GetPR(ctx, rt.owner, rt.repo, number)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "pull request #%d: %s\nstate: %s merged: %t\n", number, pr.GetTitle(), pr.GetState(), pr.GetMerged())
	if sha := pr.GetMergeCommitSHA(); sha != "" {
		fmt.Fprintf(&b, "merge_commit_sha: %s\n", sha)
	}
	fmt.Fprintf(&b, "\n%s\n", pr.GetBody())

	text = b.String()
	_ = rt.cache.Set(ctx, key, text)
	return text, nil
}

func (rt *RepoTools) commit(ctx context.Context, sha string) (*gh.RepositoryCommit, error) {
	key := cache.CommitKey(rt.owner, rt.repo, sha)
	var cached gh.RepositoryCommit
	if ok, err := rt.cache.Get(ctx, key, &cached); err == nil && ok {
		return &cached, nil
	}
	commit, err := rt.gh.GetCommit(ctx, rt.owner, rt.repo, sha)
	if err != nil {
		return nil, err
	}
	_ = rt.cache.Set(ctx, key, commit)
	return commit, nil
}

func (rt *RepoTools) prFiles(ctx context.Context, number int) ([]*gh.CommitFile, error) {
	key := cache.PRFilesKey(rt.owner, rt.repo, number)
	var cached []*gh.CommitFile
	if ok, err := rt.cache.Get(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}
	files, err := rt.gh.ListPRFiles(ctx, rt.owner, rt.repo, number)
	if err != nil {
		return nil, err
	}
	_ = rt.cache.Set(ctx, key, files)
	return files, nil
}

// formatDiffstat renders the no-file_path answer: the file list with line
// counts, cheap enough to hand out on every first call.
func formatDiffstat(header string, files []*gh.CommitFile) string {
	var b strings.Builder
	b.WriteString(header)
	fmt.Fprintf(&b, "\n\n%d files changed:\n", len(files))
	for _, f := range files {
		fmt.Fprintf(&b, "  %s  %s +%d -%d\n", f.GetStatus(), f.GetFilename(), f.GetAdditions(), f.GetDeletions())
	}
	b.WriteString("\nCall again with file_path to see a specific patch.")
	return b.String()
}

func patchFor(files []*gh.CommitFile, filePath string) (string, error) {
	for _, f := range files {
		if f.GetFilename() != filePath {
			continue
		}
		patch := f.GetPatch()
		if patch == "" {
			return "", fmt.Errorf("no text patch for %s (binary or too large)", filePath)
		}
		if len(patch) > maxPatchChars {
			patch = patch[:maxPatchChars] + patchTruncationMarker
		}
		return patch, nil
	}
	return "", fmt.Errorf("file %s is not part of this change", filePath)
}
