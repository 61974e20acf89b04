package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// FlagInvalidationChannel is the pub/sub channel that tells workers to reload
// messaging feature flags.
const FlagInvalidationChannel = "bulkjobs:flags:invalidate"

// FlagNotifier broadcasts and receives flag invalidation signals.
type FlagNotifier struct {
	client *goredis.Client
	logger *zap.Logger
}

func NewFlagNotifier(client *goredis.Client, logger *zap.Logger) (*FlagNotifier, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlagNotifier{client: client, logger: logger}, nil
}

// Invalidate asks every subscribed worker to reload its flags.
func (n *FlagNotifier) Invalidate(ctx context.Context) (int64, error) {
	receivers, err := n.client.Publish(ctx, FlagInvalidationChannel, time.Now().UTC().Format(time.RFC3339Nano)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish flag invalidation: %w", err)
	}
	return receivers, nil
}

// Listen calls onSignal for every invalidation until ctx ends.
func (n *FlagNotifier) Listen(ctx context.Context, onSignal func()) error {
	sub := n.client.Subscribe(ctx, FlagInvalidationChannel)
	defer sub.Close() //nolint:errcheck // best-effort unsubscribe

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", FlagInvalidationChannel, err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("flag invalidation subscription closed")
			}
			n.logger.Debug("flag invalidation received", zap.String("sentAt", msg.Payload))
			onSignal()
		}
	}
}
