package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vulnsentinel/vulnsentinel/internal/logging"
)

// Default provider budgets. Conservative enough for the lowest shared
// tier; override per deployment when the account allows more.
const (
	DefaultRPM = 1000
	DefaultTPM = 1_000_000
	DefaultRPD = 10_000
)

// ErrDailyQuota signals the day budget is spent. Callers should fail the
// run instead of blocking until midnight.
var ErrDailyQuota = errors.New("llm daily quota exhausted")

// RateLimiter enforces a shared per-provider request and token budget in
// Redis so several processes draw from one quota. Counters are minute and
// day scoped; the Lua script keeps check-and-increment atomic across
// processes.
type RateLimiter struct {
	redis    *redis.Client
	logger   *logging.Logger
	rpmLimit int64
	tpmLimit int64
	rpdLimit int64
}

// budgetScript increments all three counters and reports which threshold,
// if any, tripped. RPM and TPM throttle proactively at 90% so a burst
// settles before the provider starts rejecting; RPD is hard at 100%.
var budgetScript = redis.NewScript(`
	local rpm_key = KEYS[1]
	local tpm_key = KEYS[2]
	local rpd_key = KEYS[3]
	local rpm_limit = tonumber(ARGV[1])
	local tpm_limit = tonumber(ARGV[2])
	local rpd_limit = tonumber(ARGV[3])
	local tokens = tonumber(ARGV[4])

	local rpm = redis.call('INCR', rpm_key)
	local tpm = redis.call('INCRBY', tpm_key, tokens)
	local rpd = redis.call('INCR', rpd_key)

	-- 70s TTL on minute keys buffers clock skew between processes.
	if rpm == 1 then redis.call('EXPIRE', rpm_key, 70) end
	if tpm == tokens then redis.call('EXPIRE', tpm_key, 70) end
	if rpd == 1 then redis.call('EXPIRE', rpd_key, 86400) end

	if rpd >= rpd_limit then
		return {-3, rpd, rpd_limit}
	end
	if rpm >= rpm_limit * 0.9 then
		return {-1, rpm, rpm_limit}
	end
	if tpm >= tpm_limit * 0.9 then
		return {-2, tpm, tpm_limit}
	end
	return {0, rpm, tpm}
`)

// NewRateLimiter connects to Redis and fails fast when it is unreachable.
func NewRateLimiter(url string, logger *logging.Logger) (*RateLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RateLimiter{
		redis:    client,
		logger:   logger.With("llm.limiter"),
		rpmLimit: DefaultRPM,
		tpmLimit: DefaultTPM,
		rpdLimit: DefaultRPD,
	}, nil
}

// Acquire blocks until the provider budget admits one more request of the
// estimated size. Daily exhaustion returns ErrDailyQuota immediately.
func (r *RateLimiter) Acquire(ctx context.Context, provider string, estimatedTokens int64) error {
	for {
		wait, err := r.checkAndIncrement(ctx, provider, estimatedTokens)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		r.logger.Warn("llm.throttled", "provider", provider, "wait", wait.String())
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// checkAndIncrement returns how long to wait before retrying, zero when
// the request may proceed.
func (r *RateLimiter) checkAndIncrement(ctx context.Context, provider string, tokens int64) (time.Duration, error) {
	now := time.Now()
	minute := now.Format("2006-01-02T15:04")
	day := now.Format("2006-01-02")
	keys := []string{
		fmt.Sprintf("llm:%s:rpm:%s", provider, minute),
		fmt.Sprintf("llm:%s:tpm:%s", provider, minute),
		fmt.Sprintf("llm:%s:rpd:%s", provider, day),
	}

	result, err := budgetScript.Run(ctx, r.redis, keys, r.rpmLimit, r.tpmLimit, r.rpdLimit, tokens).Result()
	if err != nil {
		return 0, fmt.Errorf("rate limiter redis operation failed: %w", err)
	}
	values, ok := result.([]interface{})
	if !ok || len(values) < 1 {
		return 0, fmt.Errorf("unexpected rate limiter reply %v", result)
	}
	code, _ := values[0].(int64)

	switch code {
	case 0:
		return 0, nil
	case -3:
		return 0, ErrDailyQuota
	default:
		// Minute window tripped; wait for it to roll over.
		wait := time.Duration(60-now.Second()) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		return wait, nil
	}
}

// Usage reports the current minute and day counters for one provider.
func (r *RateLimiter) Usage(ctx context.Context, provider string) (rpm, tpm, rpd int64, err error) {
	now := time.Now()
	minute := now.Format("2006-01-02T15:04")
	day := now.Format("2006-01-02")

	pipe := r.redis.Pipeline()
	rpmCmd := pipe.Get(ctx, fmt.Sprintf("llm:%s:rpm:%s", provider, minute))
	tpmCmd := pipe.Get(ctx, fmt.Sprintf("llm:%s:tpm:%s", provider, minute))
	rpdCmd := pipe.Get(ctx, fmt.Sprintf("llm:%s:rpd:%s", provider, day))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, 0, fmt.Errorf("failed to read usage counters: %w", err)
	}

	rpm, _ = rpmCmd.Int64()
	tpm, _ = tpmCmd.Int64()
	rpd, _ = rpdCmd.Int64()
	return rpm, tpm, rpd, nil
}

func (r *RateLimiter) Close() error {
	return r.redis.Close()
}
