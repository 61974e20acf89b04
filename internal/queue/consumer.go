package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const retryConfirmTimeout = 5 * time.Second

// retryFunc republishes a failed work item for a later attempt. It returns
// nil only once the broker has confirmed the message.
type retryFunc func(ctx context.Context, msg WorkItemMessage) error

// DeadLetterHook is called for every work item that exhausted its attempts.
type DeadLetterHook func(msg WorkItemMessage, cause error)

type RabbitMQConsumer struct {
	client      *RabbitMQ
	prefetch    int
	maxAttempts int
	onDead      DeadLetterHook
	logger      *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch, maxAttempts int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:      client,
		prefetch:    prefetch,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// OnDeadLetter registers a hook for dead-lettered work items.
func (c *RabbitMQConsumer) OnDeadLetter(hook DeadLetterHook) {
	c.onDead = hook
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("consumer interrupted, resubscribing",
			zap.String("queue", queue),
			zap.Error(err),
			zap.Duration("retryIn", backoff),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	// Retries are published on this channel and the delivery is acked only
	// after the broker confirms the retry copy.
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	retry := func(ctx context.Context, msg WorkItemMessage) error {
		return c.scheduleRetry(ctx, ch, msg)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, retry, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, retry retryFunc, d amqp.Delivery, handler MessageHandler) error {
	var msg WorkItemMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("rejecting message: invalid JSON",
			zap.Error(err),
			zap.String("routingKey", d.RoutingKey),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
		return nil
	}

	if err := msg.Validate(); err != nil {
		c.logger.Warn("rejecting message: validation failed",
			zap.Error(err),
			zap.String("jobId", msg.JobID),
			zap.Int("rowNumber", msg.RowNumber),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid payload: %w", rejectErr)
		}
		return nil
	}

	handlerErr := handler(ctx, msg)
	if handlerErr == nil {
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("failed to ack delivery: %w", err)
		}
		return nil
	}

	// Shutting down: hand the delivery back untouched.
	if ctx.Err() != nil {
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	next := msg
	next.Attempt = msg.Attempt + 1
	if next.Attempt >= c.maxAttempts {
		c.logger.Error("dead-lettering work item after final attempt",
			zap.String("jobId", msg.JobID),
			zap.String("jobType", msg.JobType.String()),
			zap.Int("rowNumber", msg.RowNumber),
			zap.Int("attempts", next.Attempt),
			zap.Error(handlerErr),
		)
		if c.onDead != nil {
			c.onDead(msg, handlerErr)
		}
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to dead-letter delivery: %w", rejectErr)
		}
		return nil
	}

	if err := retry(ctx, next); err != nil {
		c.logger.Warn("retry publish failed, requeueing",
			zap.String("jobId", msg.JobID),
			zap.Int("rowNumber", msg.RowNumber),
			zap.Error(err),
		)
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("retry publish failed and nack failed: %w", nackErr)
		}
		return nil
	}

	c.logger.Warn("work item failed, retry scheduled",
		zap.String("jobId", msg.JobID),
		zap.Int("rowNumber", msg.RowNumber),
		zap.Int("attempt", next.Attempt),
		zap.Error(handlerErr),
	)
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack retried delivery: %w", err)
	}
	return nil
}

func (c *RabbitMQConsumer) scheduleRetry(ctx context.Context, ch *amqp.Channel, msg WorkItemMessage) error {
	publishing, err := workItemPublishing(msg)
	if err != nil {
		return err
	}
	publishing.Expiration = strconv.FormatInt(RetryDelay(msg.Attempt).Milliseconds(), 10)

	ctx, cancel := context.WithTimeout(ctx, retryConfirmTimeout)
	defer cancel()

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", RetryQueueName(msg.JobType), false, false, publishing)
	if err != nil {
		return fmt.Errorf("failed to publish retry: %w", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("retry confirm not received: %w", err)
	}
	if !acked {
		return fmt.Errorf("retry publish nacked by broker")
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
