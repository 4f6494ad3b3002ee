package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is the content-cache contract used by the GitHub tool layer. Commit
// payloads and file contents are immutable for a given key, so consumers use
// long TTLs and never invalidate explicitly.
type Cache interface {
	// Get unmarshals the cached value into target. Returns false on a miss;
	// a miss is not an error.
	Get(ctx context.Context, key string, target any) (bool, error)
	// Set stores value with the implementation's default TTL.
	Set(ctx context.Context, key string, value any) error
	// SetWithTTL stores value with an explicit TTL.
	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// CommitKey keys a commit payload. Commit content never changes for a SHA.
func CommitKey(owner, repo, sha string) string {
	return fmt.Sprintf("github:commit:%s/%s:%s", owner, repo, sha)
}

// FileKey keys file content at a specific ref.
func FileKey(owner, repo, ref, path string) string {
	return fmt.Sprintf("github:file:%s/%s:%s:%s", owner, repo, ref, path)
}

// IssueKey keys an issue payload.
func IssueKey(owner, repo string, number int) string {
	return fmt.Sprintf("github:issue:%s/%s:%d", owner, repo, number)
}

// PRKey keys a pull-request payload.
func PRKey(owner, repo string, number int) string {
	return fmt.Sprintf("github:pr:%s/%s:%d", owner, repo, number)
}

// PRFilesKey keys the changed-file list of a pull request. Stable once the
// PR is merged, which is the only state the tools look at.
func PRFilesKey(owner, repo string, number int) string {
	return fmt.Sprintf("github:prfiles:%s/%s:%d", owner, repo, number)
}

// Nop is a disabled cache. Every Get is a miss and writes vanish.
type Nop struct{}

func (Nop) Get(context.Context, string, any) (bool, error)               { return false, nil }
func (Nop) Set(context.Context, string, any) error                       { return nil }
func (Nop) SetWithTTL(context.Context, string, any, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error                         { return nil }
func (Nop) Close() error                                                 { return nil }
