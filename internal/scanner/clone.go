package scanner

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Cloner materializes a repository working tree at a ref.
type Cloner interface {
	CloneAtRef(ctx context.Context, repoURL, ref string) (string, error)
}

// GitCloner shells out to git, keeping one shallow clone per (url, ref)
// under a cache root so hourly rescans refresh instead of re-cloning.
type GitCloner struct {
	root string
}

func NewGitCloner(root string) *GitCloner {
	return &GitCloner{root: root}
}

func (c *GitCloner) CloneAtRef(ctx context.Context, repoURL, ref string) (string, error) {
	path := filepath.Join(c.root, repoHash(repoURL+"#"+ref))

	if isValidGitRepo(path) {
		if err := c.refresh(ctx, path, ref); err == nil {
			return path, nil
		}
		// Stale or corrupt cache entry; re-clone from scratch.
		os.RemoveAll(path)
	}

	if err := os.MkdirAll(c.root, 0755); err != nil {
		return "", fmt.Errorf("failed to create clone root: %w", err)
	}

	_, err := runGit(ctx, "", "clone", "--depth", "1", "--single-branch", "--branch", ref, repoURL, path)
	if err == nil {
		return path, nil
	}
	// --branch resolves branch and tag names only; pinned commits need
	// an explicit fetch.
	if shaErr := c.fetchCommit(ctx, repoURL, ref, path); shaErr != nil {
		os.RemoveAll(path)
		return "", err
	}
	return path, nil
}

func (c *GitCloner) refresh(ctx context.Context, path, ref string) error {
	if _, err := runGit(ctx, path, "fetch", "--depth", "1", "origin", ref); err != nil {
		return err
	}
	_, err := runGit(ctx, path, "reset", "--hard", "FETCH_HEAD")
	return err
}

func (c *GitCloner) fetchCommit(ctx context.Context, repoURL, sha, path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}
	for _, args := range [][]string{
		{"init", "--quiet"},
		{"remote", "add", "origin", repoURL},
		{"fetch", "--depth", "1", "origin", sha},
		{"checkout", "--quiet", "FETCH_HEAD"},
	} {
		if _, err := runGit(ctx, path, args...); err != nil {
			return err
		}
	}
	return nil
}

func runGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git %s failed: %w, output: %s", args[0], err, strings.TrimSpace(string(output)))
	}
	return output, nil
}

func repoHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", sum)[:16]
}

func isValidGitRepo(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && info.IsDir()
}
