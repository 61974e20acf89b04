package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
)

// Publisher publishes bulk job messages.
type Publisher interface {
	// PublishWorkItems publishes every message on one confirmed channel and
	// returns the indexes of the messages the broker did not confirm.
	PublishWorkItems(ctx context.Context, msgs []WorkItemMessage) ([]int, error)
	PublishReportRequest(ctx context.Context, msg ReportRequestMessage) error
	Close() error
}

// MessageHandler handles a consumed work item. A returned error schedules
// a redelivery.
type MessageHandler func(ctx context.Context, msg WorkItemMessage) error

// Consumer consumes work items from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// ReportRequestQueue carries result-file requests for finished jobs.
const ReportRequestQueue = "bulk.report_requests"

const (
	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 2 * time.Minute
)

// QueueName returns the work queue of a job type, e.g. bulk.code_distribution.
func QueueName(jobType domain.JobType) string {
	return "bulk." + strings.ToLower(jobType.String())
}

// DLQName returns the dead-letter queue of a job type, e.g. dlq.bulk.code_distribution.
func DLQName(jobType domain.JobType) string {
	return fmt.Sprintf("dlq.%s", QueueName(jobType))
}

// RetryQueueName returns the delay queue a failed work item waits in before
// it is routed back to its work queue.
func RetryQueueName(jobType domain.JobType) string {
	return fmt.Sprintf("retry.%s", QueueName(jobType))
}

// WorkQueueNames returns all job type work queues.
func WorkQueueNames() []string {
	types := domain.JobTypes()
	queues := make([]string, 0, len(types))
	for _, jt := range types {
		queues = append(queues, QueueName(jt))
	}
	return queues
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	types := domain.JobTypes()
	queues := make([]string, 0, len(types))
	for _, jt := range types {
		queues = append(queues, DLQName(jt))
	}
	return queues
}

// RetryDelay is how long a work item waits before its given attempt.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}
