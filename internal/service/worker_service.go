package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/observability"
	"github.com/kursadbilgin/bulkjob-engine/internal/processor"
	"github.com/kursadbilgin/bulkjob-engine/internal/queue"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	deadLetterTimeout    = 10 * time.Second
)

// WorkerService consumes work items of every job type and runs them through
// the registered processor and the recorder.
type WorkerService struct {
	jobs        repository.BulkJobRepository
	registry    *processor.Registry
	recorder    *Recorder
	consumer    queue.Consumer
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
}

func NewWorkerService(
	jobs repository.BulkJobRepository,
	registry *processor.Registry,
	recorder *Recorder,
	consumer queue.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("processor registry is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("recorder is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		jobs:        jobs,
		registry:    registry,
		recorder:    recorder,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes every job type queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	// Every queue gets at least one consumer.
	workers := max(s.concurrency, len(queueNames))

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.WorkItemMessage) error {
	item := msg.WorkItem()
	ctx = observability.WithCorrelationID(ctx, item.CorrelationID)
	logger := observability.JobLogger(s.logger, item)

	job, err := s.jobs.GetByID(ctx, item.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("job not found, dropping work item")
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	if job.JobType != item.JobType {
		logger.Warn("work item type does not match job, dropping",
			zap.String("expectedJobType", job.JobType.String()),
		)
		return nil
	}
	if item.RowNumber > job.TotalItems {
		logger.Warn("row number outside job, dropping", zap.Int("totalItems", job.TotalItems))
		return nil
	}
	if job.Status.IsTerminal() {
		logger.Debug("job already terminal, skipping row", zap.String("status", job.Status.String()))
		return nil
	}

	// A recorded row must not be processed again: its side effects already
	// happened or were ruled out. Only the completion check is retried.
	recorded, err := s.jobs.IsRecorded(ctx, item.JobID, item.RowNumber)
	if err != nil {
		return fmt.Errorf("failed to check row record: %w", err)
	}
	if recorded {
		logger.Debug("row already recorded, skipping processing")
		counters := job.Counters()
		counters.Duplicate = true
		if err := s.recorder.Finalize(ctx, counters); err != nil {
			return fmt.Errorf("failed to finalize job: %w", err)
		}
		return nil
	}

	p, err := s.registry.Lookup(item.JobType)
	if err != nil {
		logger.Warn("no processor for job type, dropping", zap.Error(err))
		return nil
	}

	jobType := item.JobType.String()
	s.metrics.IncWorkerInFlight(jobType)
	defer s.metrics.DecWorkerInFlight(jobType)

	started := s.now()
	outcome, err := p.Process(ctx, job, item)
	if err != nil {
		s.metrics.IncRowInfraError(jobType)
		return fmt.Errorf("failed to process row: %w", err)
	}
	if outcome.Identifier == "" {
		outcome.Identifier = item.Row.Identifier()
	}
	if !outcome.Success {
		logger.Info("row failed", zap.String("reason", outcome.ErrorDetail))
	}

	if err := s.record(ctx, item, outcome); err != nil {
		return err
	}

	s.metrics.ObserveRowDuration(jobType, s.now().Sub(started))
	return nil
}

func (s *WorkerService) record(ctx context.Context, item domain.WorkItem, outcome domain.RowOutcome) error {
	_, err := s.recorder.Record(ctx, item, outcome)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrJobNotFound):
		observability.JobLogger(s.logger, item).Warn("job disappeared before the row was recorded, dropping")
		return nil
	case errors.Is(err, domain.ErrValidation):
		observability.JobLogger(s.logger, item).Warn("row rejected by job record, dropping", zap.Error(err))
		return nil
	default:
		s.metrics.IncRowInfraError(item.JobType.String())
		return fmt.Errorf("failed to record row outcome: %w", err)
	}
}

// HandleDeadLetter records a work item that used up its delivery attempts
// as a failed row so its job can still terminate.
func (s *WorkerService) HandleDeadLetter(msg queue.WorkItemMessage, cause error) {
	item := msg.WorkItem()
	s.metrics.IncDeadLettered(item.JobType.String())

	ctx, cancel := context.WithTimeout(context.Background(), deadLetterTimeout)
	defer cancel()

	detail := "processing failed after all retries"
	if cause != nil {
		detail = fmt.Sprintf("%s: %v", detail, cause)
	}

	if err := s.record(ctx, item, domain.RowFailed(item.Row.Identifier(), detail)); err != nil {
		observability.JobLogger(s.logger, item).Error("failed to record dead-lettered row", zap.Error(err))
	}
}
