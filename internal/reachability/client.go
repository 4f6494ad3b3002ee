package reachability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vulnsentinel/vulnsentinel/internal/config"
	apperrors "github.com/vulnsentinel/vulnsentinel/internal/errors"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
)

// Client calls the static-analysis collaborator: one POST per check. The
// collaborator owns snapshot builds, target-function extraction, and the
// graph search; nothing of the graph database is touched from here.
type Client struct {
	base    string
	backend string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logging.Logger
}

type checkRequest struct {
	RepoURL string         `json:"repo_url"`
	Version string         `json:"version"`
	Backend string         `json:"backend"`
	Vuln    map[string]any `json:"vuln"`
}

type checkResponse struct {
	IsReachable bool       `json:"is_reachable"`
	Paths       [][]string `json:"paths"`
	Error       string     `json:"error"`
}

func NewClient(cfg config.AnalysisConfig, logger *logging.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 60 * time.Second
	}
	return &Client{
		base:    strings.TrimRight(cfg.URL, "/"),
		backend: cfg.Backend,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "reachability",
			Timeout: breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// Preconditions and analysis rejections are answers, not
			// outages; only transport failures count against the breaker.
			IsSuccessful: func(err error) bool {
				return !apperrors.IsTransient(err)
			},
		}),
		logger: logger.With("reachability_client"),
	}
}

// CheckReachability asks whether the vuln described by descriptor is
// reachable from the project at (repoURL, version). Transient and
// precondition errors mean "ask again later"; any other error is the
// collaborator rejecting the analysis itself.
func (c *Client) CheckReachability(ctx context.Context, repoURL, version string, descriptor map[string]any) (bool, [][]string, error) {
	if c.base == "" {
		return false, nil, apperrors.Preconditionf("analysis collaborator URL not configured")
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.check(ctx, repoURL, version, descriptor)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false, nil, apperrors.Transientf(err, "analysis collaborator circuit open")
	}
	if err != nil {
		return false, nil, err
	}
	resp := out.(*checkResponse)
	return resp.IsReachable, resp.Paths, nil
}

func (c *Client) check(ctx context.Context, repoURL, version string, descriptor map[string]any) (*checkResponse, error) {
	body, err := json.Marshal(checkRequest{
		RepoURL: repoURL,
		Version: version,
		Backend: c.backend,
		Vuln:    descriptor,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/reachability", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Transientf(err, "analysis request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.Transientf(err, "failed to read analysis response")
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, apperrors.Transientf(fmt.Errorf("status %d", resp.StatusCode), "analysis collaborator unavailable")
	case resp.StatusCode == http.StatusConflict:
		// The collaborator is still building what we need.
		return nil, apperrors.Preconditionf("%s", errorText(data))
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.Internalf("analysis rejected the request (status %d): %s", resp.StatusCode, errorText(data))
	}

	var out checkResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperrors.Transientf(err, "malformed analysis response")
	}
	if out.Error != "" {
		if isPreconditionText(out.Error) {
			return nil, apperrors.Preconditionf("%s", out.Error)
		}
		return nil, apperrors.Internalf("analysis failed: %s", out.Error)
	}
	return &out, nil
}

// isPreconditionText sniffs the two retryable collaborator failures,
// which older collaborator builds report in a 200 body.
func isPreconditionText(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "snapshot not ready") ||
		strings.Contains(m, "cannot determine target functions")
}

func errorText(data []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "no detail"
	}
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
