package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) PublishWorkItems(ctx context.Context, msgs []WorkItemMessage) ([]int, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("publisher is not initialized")
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	confirms := make([]*amqp.DeferredConfirmation, len(msgs))
	var failed []int
	for i, msg := range msgs {
		publishing, err := workItemPublishing(msg)
		if err != nil {
			failed = append(failed, i)
			continue
		}

		confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", QueueName(msg.JobType), false, false, publishing)
		if err != nil {
			failed = append(failed, i)
			continue
		}
		confirms[i] = confirm
	}

	for i, confirm := range confirms {
		if confirm == nil {
			continue
		}
		acked, err := confirm.WaitContext(ctx)
		if err != nil || !acked {
			failed = append(failed, i)
		}
	}

	return failed, nil
}

func (p *RabbitMQPublisher) PublishReportRequest(ctx context.Context, msg ReportRequestMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid report request: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal report request: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    msg.JobID,
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, "", ReportRequestQueue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish report request for job %q: %w", msg.JobID, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func workItemPublishing(msg WorkItemMessage) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid work item: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal work item: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     msg.messageID(),
		CorrelationId: msg.CorrelationID,
		Body:          payload,
	}, nil
}
