package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vulnsentinel/vulnsentinel/internal/config"
	apperrors "github.com/vulnsentinel/vulnsentinel/internal/errors"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/metrics"
)

// Provider identifies an upstream model vendor.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderDeepSeek  Provider = "deepseek"
	ProviderGemini    Provider = "gemini"
	ProviderXAI       Provider = "xai"
)

const chatAttempts = 3

// adapter translates the normalized request into one vendor SDK's shape
// and back.
type adapter interface {
	chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// Client routes chat requests to a vendor by model ID prefix. One Client
// serves the whole process; it holds no per-request state and is safe for
// concurrent use. Adapters are built lazily so only the providers actually
// addressed need a key.
type Client struct {
	cfg     config.LLMConfig
	logger  *logging.Logger
	limiter *RateLimiter // nil runs unthrottled

	mu       sync.Mutex
	adapters map[Provider]adapter
}

func NewClient(cfg config.LLMConfig, logger *logging.Logger) *Client {
	return &Client{
		cfg:      cfg,
		logger:   logger.With("llm"),
		adapters: make(map[Provider]adapter),
	}
}

// WithRateLimiter attaches a shared request/token budget enforced in Redis.
func (c *Client) WithRateLimiter(rl *RateLimiter) *Client {
	c.limiter = rl
	return c
}

// DefaultModel returns the configured pipeline default.
func (c *Client) DefaultModel() string {
	if c.cfg.DefaultModel != "" {
		return c.cfg.DefaultModel
	}
	return "deepseek/deepseek-chat"
}

// ProviderFor resolves the vendor from a model ID prefix.
func ProviderFor(model string) (Provider, error) {
	id := apiModelName(model)
	switch {
	case strings.HasPrefix(id, "claude"):
		return ProviderAnthropic, nil
	case strings.HasPrefix(id, "deepseek"):
		return ProviderDeepSeek, nil
	case strings.HasPrefix(id, "gpt"), strings.HasPrefix(id, "o1"), strings.HasPrefix(id, "o3"):
		return ProviderOpenAI, nil
	case strings.HasPrefix(id, "gemini"):
		return ProviderGemini, nil
	case strings.HasPrefix(id, "grok"):
		return ProviderXAI, nil
	default:
		return "", fmt.Errorf("no provider for model %q", model)
	}
}

// apiModelName strips an optional vendor namespace ("deepseek/deepseek-chat")
// down to the ID the provider API expects.
func apiModelName(model string) string {
	if _, after, found := strings.Cut(model, "/"); found {
		return after
	}
	return model
}

// Chat sends one completion request. Transient transport failures (429,
// 5xx, timeouts) are retried with exponential backoff up to three attempts;
// other API errors surface immediately.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	prov, err := ProviderFor(req.Model)
	if err != nil {
		return nil, err
	}
	a, err := c.adapterFor(ctx, prov)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, string(prov), estimateRequestTokens(req)); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= chatAttempts; attempt++ {
		started := time.Now()
		resp, err := a.chat(ctx, req)
		metrics.ObserveLLMRequest(string(prov), err)
		if err == nil {
			c.logger.Debug("llm.chat",
				"provider", string(prov),
				"model", req.Model,
				"input_tokens", resp.InputTokens,
				"output_tokens", resp.OutputTokens,
				"stop_reason", resp.StopReason,
				"duration_ms", time.Since(started).Milliseconds())
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		status, retryable := transportStatus(err)
		if !retryable {
			return nil, fmt.Errorf("%s chat failed: %w", prov, err)
		}
		if attempt == chatAttempts {
			break
		}
		delay := time.Duration(1<<(attempt-1)) * time.Second
		c.logger.Warn("llm.retry",
			"provider", string(prov),
			"status", status,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err.Error())
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, apperrors.Transientf(lastErr, "%s chat failed after %d attempts", prov, chatAttempts)
}

func (c *Client) adapterFor(ctx context.Context, p Provider) (adapter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.adapters[p]; ok {
		return a, nil
	}

	var (
		a   adapter
		err error
	)
	switch p {
	case ProviderAnthropic:
		a, err = newAnthropicAdapter(c.cfg.AnthropicKey)
	case ProviderOpenAI:
		a, err = newOpenAIAdapter(c.cfg.OpenAIKey)
	case ProviderDeepSeek:
		a, err = newCompatAdapter(c.cfg.DeepSeekKey, "DEEPSEEK_API_KEY", deepseekBaseURL)
	case ProviderXAI:
		a, err = newCompatAdapter(c.cfg.XAIKey, "XAI_API_KEY", xaiBaseURL)
	case ProviderGemini:
		a, err = newGeminiAdapter(ctx, c.cfg.GeminiKey)
	default:
		return nil, fmt.Errorf("unknown provider %q", p)
	}
	if err != nil {
		return nil, err
	}
	c.adapters[p] = a
	return a, nil
}

// resolveKey falls back from the configured key to the provider's named
// environment variable.
func resolveKey(configured, envName string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if v := os.Getenv(envName); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%s is not set", envName)
}

// estimateRequestTokens approximates the request size for the limiter.
// Four characters per token plus the output ceiling is close enough for
// budget accounting.
func estimateRequestTokens(req *ChatRequest) int64 {
	n := len(req.SystemPrompt)
	for _, m := range req.Messages {
		n += len(m.Content)
		for _, tc := range m.ToolCalls {
			n += len(tc.Arguments)
		}
	}
	return int64(n/4) + int64(req.MaxTokens)
}
