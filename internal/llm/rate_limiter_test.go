package llm

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnsentinel/vulnsentinel/internal/logging"
)

// testLimiter connects to the Redis named by TEST_REDIS_URL and skips
// otherwise, matching the store tests' opt-in pattern.
func testLimiter(t *testing.T) *RateLimiter {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	rl, err := NewRateLimiter(url, logging.New(logging.Config{Level: "error"}))
	require.NoError(t, err)
	t.Cleanup(func() { rl.Close() })

	keys, err := rl.redis.Keys(context.Background(), "llm:test*").Result()
	require.NoError(t, err)
	if len(keys) > 0 {
		require.NoError(t, rl.redis.Del(context.Background(), keys...).Err())
	}
	return rl
}

func TestRateLimiterUnderBudget(t *testing.T) {
	rl := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, rl.Acquire(ctx, "test", 100))
	}

	rpm, tpm, rpd, err := rl.Usage(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rpm)
	assert.Equal(t, int64(1000), tpm)
	assert.Equal(t, int64(10), rpd)
}

func TestRateLimiterThrottlesNearMinuteBudget(t *testing.T) {
	rl := testLimiter(t)
	rl.rpmLimit = 10
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		wait, err := rl.checkAndIncrement(ctx, "testrpm", 1)
		require.NoError(t, err)
		assert.Zero(t, wait, fmt.Sprintf("request %d should pass", i))
	}

	// 9th hits 90% of 10
	wait, err := rl.checkAndIncrement(ctx, "testrpm", 1)
	require.NoError(t, err)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Minute)
}

func TestRateLimiterDailyQuotaIsTerminal(t *testing.T) {
	rl := testLimiter(t)
	rl.rpdLimit = 3
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, rl.Acquire(ctx, "testrpd", 1))
	}

	_, err := rl.checkAndIncrement(ctx, "testrpd", 1)
	assert.ErrorIs(t, err, ErrDailyQuota)
}

func TestRateLimiterRejectsBadURL(t *testing.T) {
	_, err := NewRateLimiter("not-a-url", logging.New(logging.Config{Level: "error"}))
	assert.Error(t, err)
}
