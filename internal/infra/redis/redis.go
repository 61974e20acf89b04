package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	clientName  = "bulkjob-engine"
	pingTimeout = 5 * time.Second
	minPoolSize = 10
)

// NewRedis connects the client shared by the send throttle and the flag
// invalidation channel.
func NewRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if opts.ClientName == "" {
		opts.ClientName = clientName
	}
	// Every consumer may evaluate the throttle script at the same time.
	opts.PoolSize = max(opts.PoolSize, minPoolSize)

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis %s: %w", opts.Addr, err)
	}

	return client, nil
}
