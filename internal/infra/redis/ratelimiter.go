package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// SendThrottlePrefix namespaces the outbound message budgets.
	SendThrottlePrefix = "bulkjobs:throttle"

	defaultLimitPerSec int64 = 20
	backoffStep              = 25 * time.Millisecond
	backoffMax               = 200 * time.Millisecond
	windowSeconds            = 1
)

// allowScript counts sends in the current one-second window and reports
// whether the caller still fits in the budget.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a fixed-window limiter shared by every worker process.
type RedisRateLimiter struct {
	client      goredis.Scripter
	prefix      string
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, prefix string, limitPerSec int) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return newRedisRateLimiter(client, prefix, int64(limitPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client goredis.Scripter,
	prefix string,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = SendThrottlePrefix
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		prefix:      prefix,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false, fmt.Errorf("rate limit key is required")
	}

	windowKey := fmt.Sprintf("%s:%s:%d", r.prefix, normalized, r.now().UTC().Unix())
	result, err := allowScript.Run(ctx, r.client, []string{windowKey}, r.limitPerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

// Wait blocks until the key has budget left or ctx ends.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	backoff := backoffStep
	for {
		allowed, err := r.Allow(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		// Never sleep past the start of the next window.
		untilNext := time.Second - time.Duration(r.now().UnixNano()%int64(time.Second))
		if err := r.sleep(ctx, min(backoff, untilNext)); err != nil {
			return err
		}

		backoff = min(backoff*2, backoffMax)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
