package ratelimit

import "context"

// RateLimiter paces outbound sends. Keys are independent budgets, one per
// delivery channel.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
