package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vulnsentinel/vulnsentinel/internal/cache"
	"github.com/vulnsentinel/vulnsentinel/internal/database"
	"github.com/vulnsentinel/vulnsentinel/internal/github"
	"github.com/vulnsentinel/vulnsentinel/internal/llm"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
)

// app bundles the process-wide dependencies the subcommands share. Each
// command builds only what it needs; Close releases everything that was
// built.
type app struct {
	store   *database.Store
	github  *github.Client
	llm     *llm.Client
	content cache.Cache
	logger  *logging.Logger
}

func newApp() *app {
	return &app{logger: logging.Default()}
}

func (a *app) openStore(ctx context.Context) (*database.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required (set it in the environment or a .env file)")
	}
	store, err := database.New(ctx, cfg.Database.URL, database.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

func (a *app) githubClient() *github.Client {
	if a.github == nil {
		a.github = github.NewClient(cfg.GitHub, a.logger)
	}
	return a.github
}

func (a *app) llmClient() *llm.Client {
	if a.llm != nil {
		return a.llm
	}
	client := llm.NewClient(cfg.LLM, a.logger)
	if cfg.Redis.URL != "" {
		if rl, err := llm.NewRateLimiter(cfg.Redis.URL, a.logger); err != nil {
			a.logger.Warn("llm.rate_limiter_unavailable", "error", err.Error())
		} else {
			client = client.WithRateLimiter(rl)
		}
	}
	a.llm = client
	return client
}

// contentCache picks Redis when configured, a local bolt file otherwise.
// GitHub payloads are immutable for a given key, so the TTL is generous.
func (a *app) contentCache(ctx context.Context) cache.Cache {
	if a.content != nil {
		return a.content
	}
	const ttl = 7 * 24 * time.Hour

	if cfg.Redis.URL != "" {
		c, err := cache.NewRedisCache(ctx, cfg.Redis.URL, ttl, a.logger)
		if err == nil {
			a.content = c
			return c
		}
		a.logger.Warn("cache.redis_unavailable", "error", err.Error())
	}

	homeDir, _ := os.UserHomeDir()
	dir := filepath.Join(homeDir, ".vulnsentinel", "cache")
	c, err := cache.NewBoltCache(dir, ttl, a.logger)
	if err != nil {
		a.logger.Warn("cache.bolt_unavailable", "error", err.Error())
		a.content = cache.Nop{}
		return a.content
	}
	a.content = c
	return c
}

func (a *app) Close() {
	if a.content != nil {
		a.content.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
