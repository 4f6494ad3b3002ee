package github

import (
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnsentinel/vulnsentinel/internal/config"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
)

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		owner     string
		repo      string
		wantError bool
	}{
		{"https", "https://github.com/acme/libfoo", "acme", "libfoo", false},
		{"https with .git", "https://github.com/acme/libfoo.git", "acme", "libfoo", false},
		{"https trailing slash", "https://github.com/acme/libfoo/", "acme", "libfoo", false},
		{"ssh", "git@github.com:acme/libfoo.git", "acme", "libfoo", false},
		{"bare", "acme/libfoo", "acme", "libfoo", false},
		{"no repo", "https://github.com/acme", "", "", true},
		{"empty", "", "", "", true},
		{"extra segments", "https://github.com/acme/libfoo/tree/main", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := ParseRepoURL(tt.input)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}

func TestObserveBudgetStates(t *testing.T) {
	c := NewClient(config.GitHubConfig{}, logging.Default())

	resp := func(remaining int, reset time.Time) *github.Response {
		return &github.Response{Rate: github.Rate{
			Limit:     5000,
			Remaining: remaining,
			Reset:     github.Timestamp{Time: reset},
		}}
	}

	c.observe(resp(4000, time.Now().Add(time.Hour)))
	assert.False(t, c.serial.Load())
	assert.Zero(t, c.pausedUntil.Load())

	// Low budget flips to one-at-a-time.
	c.observe(resp(80, time.Now().Add(time.Hour)))
	assert.True(t, c.serial.Load())

	// Budget recovery lifts serial mode.
	c.observe(resp(4500, time.Now().Add(time.Hour)))
	assert.False(t, c.serial.Load())

	// Exhaustion schedules a pause until the reset.
	reset := time.Now().Add(30 * time.Minute)
	c.observe(resp(0, reset))
	assert.True(t, c.serial.Load())
	assert.Equal(t, reset.Unix(), c.pausedUntil.Load())

	// nil response is a no-op.
	c.observe(nil)
}
