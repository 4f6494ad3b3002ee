package github

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"

	"github.com/vulnsentinel/vulnsentinel/internal/config"
	apperrors "github.com/vulnsentinel/vulnsentinel/internal/errors"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/metrics"
)

const perPage = 100

// Client wraps the GitHub API with rate limiting, retry, and budget
// etiquette. One instance is shared by the collector and the agent tools;
// all methods are safe for concurrent use.
//
// Budget rules: when the remaining quota drops to 100 the client switches to
// one-call-at-a-time; at 0 it sleeps until the reset the API announced.
type Client struct {
	gh       *github.Client
	limiter  *rate.Limiter
	logger   *logging.Logger
	maxPages int

	pausedUntil atomic.Int64
	serial      atomic.Bool
	serialMu    sync.Mutex
}

// NewClient builds a client from config. An empty token works for public
// repos at the anonymous 60 req/h budget.
func NewClient(cfg config.GitHubConfig, logger *logging.Logger) *Client {
	gh := github.NewClient(nil)
	if cfg.Token != "" {
		gh = gh.WithAuthToken(cfg.Token)
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 2
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 10
	}
	return &Client{
		gh:       gh,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		logger:   logger.With("github"),
		maxPages: maxPages,
	}
}

// ParseRepoURL extracts owner and repo from the URL forms stored in the
// database: https, ssh, and bare owner/repo.
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	s := strings.TrimSuffix(strings.TrimSpace(repoURL), ".git")
	s = strings.TrimSuffix(s, "/")

	switch {
	case strings.HasPrefix(s, "git@"):
		// git@github.com:owner/repo
		_, after, ok := strings.Cut(s, ":")
		if !ok {
			return "", "", fmt.Errorf("unrecognized repo url %q", repoURL)
		}
		s = after
	case strings.Contains(s, "://"):
		// https://github.com/owner/repo
		_, after, _ := strings.Cut(s, "://")
		parts := strings.SplitN(after, "/", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("unrecognized repo url %q", repoURL)
		}
		s = parts[1]
	}

	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("unrecognized repo url %q", repoURL)
	}
	return parts[0], parts[1], nil
}

// acquire blocks until the client may issue one request: waits out any
// announced pause, takes a limiter token, and in serial mode takes the
// single-flight lock.
func (c *Client) acquire(ctx context.Context) (release func(), err error) {
	if until := c.pausedUntil.Load(); until > 0 {
		wait := time.Until(time.Unix(until, 0))
		if wait > 0 {
			c.logger.Warn("github.quota_exhausted", "sleep", wait.String())
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		c.pausedUntil.CompareAndSwap(until, 0)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if c.serial.Load() {
		c.serialMu.Lock()
		return c.serialMu.Unlock, nil
	}
	return func() {}, nil
}

// observe applies the rate headers from a response to the budget state.
func (c *Client) observe(resp *github.Response) {
	if resp == nil {
		return
	}
	remaining := resp.Rate.Remaining
	metrics.SetGitHubRateRemaining(remaining)
	switch {
	case remaining <= 0:
		c.pausedUntil.Store(resp.Rate.Reset.Time.Unix())
		c.serial.Store(true)
	case remaining <= 100:
		if !c.serial.Swap(true) {
			c.logger.Warn("github.quota_low", "remaining", remaining, "limit", resp.Rate.Limit)
		}
	default:
		c.serial.Store(false)
	}
}

// withRetry runs fn up to three times, backing off on transient failures.
// Rate-limit errors wait for the window the API announced instead.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := time.Second
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isRetryable(err) {
			return fmt.Errorf("github %s failed: %w", op, err)
		}
		if attempt >= 3 {
			return apperrors.Transientf(err, "github %s failed after %d attempts", op, attempt)
		}
		wait := backoff
		if after := retryAfter(err); after > 0 {
			wait = after
		}
		c.logger.Warn("github.retry", "op", op, "attempt", attempt, "wait", wait.String(), "error", err.Error())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
}

func isRetryable(err error) bool {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) {
		return ghErr.Response != nil && ghErr.Response.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func retryAfter(err error) time.Duration {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return time.Until(rateErr.Rate.Reset.Time) + time.Second
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) && abuseErr.RetryAfter != nil {
		return *abuseErr.RetryAfter
	}
	return 0
}

// ListCommitsSince returns branch commits newer than since, oldest page
// first in API order. maxPages <= 0 uses the client default; the collector
// passes 1 on a library's first run to bound the backfill.
func (c *Client) ListCommitsSince(ctx context.Context, owner, repo, branch string, since time.Time, maxPages int) ([]*github.RepositoryCommit, error) {
	if maxPages <= 0 {
		maxPages = c.maxPages
	}
	opts := &github.CommitsListOptions{
		SHA:         branch,
		Since:       since,
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var all []*github.RepositoryCommit
	for page := 0; page < maxPages; page++ {
		var commits []*github.RepositoryCommit
		var resp *github.Response
		err := c.withRetry(ctx, "list_commits", func() error {
			release, err := c.acquire(ctx)
			if err != nil {
				return err
			}
			defer release()
			var callErr error
			commits, resp, callErr = c.gh.Repositories.ListCommits(ctx, owner, repo, opts)
			c.observe(resp)
			return callErr
		})
		if err != nil {
			return nil, err
		}
		all = append(all, commits...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// ListClosedPRsSince walks closed PRs newest-update-first and stops at the
// first one not touched since the boundary. Merge filtering is the caller's
// concern; stopping early here is what saves the rate budget.
func (c *Client) ListClosedPRsSince(ctx context.Context, owner, repo string, since time.Time) ([]*github.PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "closed",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var all []*github.PullRequest
	for page := 0; page < c.maxPages; page++ {
		var prs []*github.PullRequest
		var resp *github.Response
		err := c.withRetry(ctx, "list_prs", func() error {
			release, err := c.acquire(ctx)
			if err != nil {
				return err
			}
			defer release()
			var callErr error
			prs, resp, callErr = c.gh.PullRequests.List(ctx, owner, repo, opts)
			c.observe(resp)
			return callErr
		})
		if err != nil {
			return nil, err
		}
		for _, pr := range prs {
			if pr.GetUpdatedAt().Time.Before(since) {
				return all, nil
			}
			all = append(all, pr)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// ListTagsUntil returns tags newest-first, stopping before knownTag. The
// tags endpoint has no since parameter, so the known pointer is the only
// boundary; an empty knownTag means first run and the page cap bounds it.
func (c *Client) ListTagsUntil(ctx context.Context, owner, repo, knownTag string) ([]*github.RepositoryTag, error) {
	opts := &github.ListOptions{PerPage: perPage}

	var all []*github.RepositoryTag
	for page := 0; page < c.maxPages; page++ {
		var tags []*github.RepositoryTag
		var resp *github.Response
		err := c.withRetry(ctx, "list_tags", func() error {
			release, err := c.acquire(ctx)
			if err != nil {
				return err
			}
			defer release()
			var callErr error
			tags, resp, callErr = c.gh.Repositories.ListTags(ctx, owner, repo, opts)
			c.observe(resp)
			return callErr
		})
		if err != nil {
			return nil, err
		}
		for _, tag := range tags {
			if knownTag != "" && tag.GetName() == knownTag {
				return all, nil
			}
			all = append(all, tag)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// ListBugIssuesSince returns issues carrying any of the given labels,
// updated since the boundary. Rows that are really pull requests are
// dropped; the issues endpoint mixes them in.
func (c *Client) ListBugIssuesSince(ctx context.Context, owner, repo string, labels []string, since time.Time) ([]*github.Issue, error) {
	opts := &github.IssueListByRepoOptions{
		Labels:      labels,
		State:       "all",
		Since:       since,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var all []*github.Issue
	for page := 0; page < c.maxPages; page++ {
		var issues []*github.Issue
		var resp *github.Response
		err := c.withRetry(ctx, "list_issues", func() error {
			release, err := c.acquire(ctx)
			if err != nil {
				return err
			}
			defer release()
			var callErr error
			issues, resp, callErr = c.gh.Issues.ListByRepo(ctx, owner, repo, opts)
			c.observe(resp)
			return callErr
		})
		if err != nil {
			return nil, err
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			all = append(all, issue)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// GetCommit fetches one commit including file-level patches.
func (c *Client) GetCommit(ctx context.Context, owner, repo, sha string) (*github.RepositoryCommit, error) {
	var commit *github.RepositoryCommit
	err := c.withRetry(ctx, "get_commit", func() error {
		release, err := c.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
		var resp *github.Response
		var callErr error
		commit, resp, callErr = c.gh.Repositories.GetCommit(ctx, owner, repo, sha, &github.ListOptions{PerPage: perPage})
		c.observe(resp)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return commit, nil
}

// GetFileContent fetches the decoded content of one file at a ref.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	var file *github.RepositoryContent
	err := c.withRetry(ctx, "get_file_content", func() error {
		release, err := c.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
		var dir []*github.RepositoryContent
		var resp *github.Response
		var callErr error
		file, dir, resp, callErr = c.gh.Repositories.GetContents(ctx, owner, repo, path,
			&github.RepositoryContentGetOptions{Ref: ref})
		c.observe(resp)
		if callErr != nil {
			return callErr
		}
		if dir != nil {
			return fmt.Errorf("path %s is a directory", path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode content of %s: %w", path, err)
	}
	return content, nil
}

// GetIssue fetches one issue.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, error) {
	var issue *github.Issue
	err := c.withRetry(ctx, "get_issue", func() error {
		release, err := c.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
		var resp *github.Response
		var callErr error
		issue, resp, callErr = c.gh.Issues.Get(ctx, owner, repo, number)
		c.observe(resp)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return issue, nil
}

// ListIssueComments fetches the first page of comments on an issue or PR.
// One page is enough context for the agents; full threads are noise.
func (c *Client) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]*github.IssueComment, error) {
	var comments []*github.IssueComment
	err := c.withRetry(ctx, "list_issue_comments", func() error {
		release, err := c.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
		var resp *github.Response
		var callErr error
		comments, resp, callErr = c.gh.Issues.ListComments(ctx, owner, repo, number,
			&github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: perPage}})
		c.observe(resp)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return comments, nil
}

// GetPR fetches one pull request.
func (c *Client) GetPR(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	var pr *github.PullRequest
	err := c.withRetry(ctx, "get_pr", func() error {
		release, err := c.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
		var resp *github.Response
		var callErr error
		pr, resp, callErr = c.gh.PullRequests.Get(ctx, owner, repo, number)
		c.observe(resp)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return pr, nil
}

// ListPRFiles fetches the changed files of a pull request with patches.
func (c *Client) ListPRFiles(ctx context.Context, owner, repo string, number int) ([]*github.CommitFile, error) {
	opts := &github.ListOptions{PerPage: perPage}

	var all []*github.CommitFile
	for page := 0; page < c.maxPages; page++ {
		var files []*github.CommitFile
		var resp *github.Response
		err := c.withRetry(ctx, "list_pr_files", func() error {
			release, err := c.acquire(ctx)
			if err != nil {
				return err
			}
			defer release()
			var callErr error
			files, resp, callErr = c.gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
			c.observe(resp)
			return callErr
		})
		if err != nil {
			return nil, err
		}
		all = append(all, files...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// GetRepository fetches repository metadata, used at registration time to
// discover the default branch.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*github.Repository, error) {
	var r *github.Repository
	err := c.withRetry(ctx, "get_repository", func() error {
		release, err := c.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
		var resp *github.Response
		var callErr error
		r, resp, callErr = c.gh.Repositories.Get(ctx, owner, repo)
		c.observe(resp)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}
