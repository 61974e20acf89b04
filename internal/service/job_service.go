package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/observability"
	"github.com/kursadbilgin/bulkjob-engine/internal/queue"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultMaxRowsPerJob = 5000
	enqueueFailedDetail  = "enqueue failed"
)

// SubmitRequest is an already decomposed batch.
type SubmitRequest struct {
	OwnerID string
	JobType domain.JobType
	Config  domain.JobConfig
	Rows    []domain.RowPayload
}

type JobService struct {
	jobs      repository.BulkJobRepository
	codes     repository.CodeRepository
	publisher queue.Publisher
	recorder  *Recorder
	maxRows   int
	logger    *zap.Logger
	now       func() time.Time
}

func NewJobService(
	jobs repository.BulkJobRepository,
	codes repository.CodeRepository,
	publisher queue.Publisher,
	recorder *Recorder,
	maxRows int,
	logger *zap.Logger,
) (*JobService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("recorder is required")
	}
	if maxRows <= 0 {
		maxRows = defaultMaxRowsPerJob
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &JobService{
		jobs:      jobs,
		codes:     codes,
		publisher: publisher,
		recorder:  recorder,
		maxRows:   maxRows,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Submit creates the job and enqueues one work item per row, numbered from 1.
// Rows that cannot be enqueued are recorded as failed right away so the job
// still reaches a terminal state.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (*domain.BulkJob, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(req.Rows) == 0 {
		return nil, fmt.Errorf("%w: at least one row is required", domain.ErrValidation)
	}
	if len(req.Rows) > s.maxRows {
		return nil, fmt.Errorf("%w: %d rows exceed the limit of %d", domain.ErrValidation, len(req.Rows), s.maxRows)
	}

	now := s.now().UTC()
	job := &domain.BulkJob{
		ID:           uuid.NewString(),
		OwnerID:      strings.TrimSpace(req.OwnerID),
		JobType:      req.JobType,
		Config:       req.Config,
		TotalItems:   len(req.Rows),
		Status:       domain.JobStatusPending,
		ErrorSummary: []domain.RowError{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if job.Config.DeliveryChannel == "" {
		job.Config.DeliveryChannel = domain.ChannelNone
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	if job.JobType == domain.JobTypeCodeDistribution {
		if err := s.checkCodePool(ctx, job.Config, req.Rows, now); err != nil {
			return nil, err
		}
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	correlationID, ok := observability.CorrelationIDFromContext(ctx)
	if !ok {
		correlationID = uuid.NewString()
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	logger := observability.WithContextLogger(s.logger, ctx)

	msgs := make([]queue.WorkItemMessage, len(req.Rows))
	for i, row := range req.Rows {
		msgs[i] = queue.NewWorkItemMessage(domain.WorkItem{
			JobID:         job.ID,
			JobType:       job.JobType,
			RowNumber:     i + 1,
			CorrelationID: correlationID,
			Row:           row,
		})
	}

	failed, err := s.publisher.PublishWorkItems(ctx, msgs)
	if err != nil {
		logger.Error("failed to publish work items",
			zap.String("jobId", job.ID),
			zap.Error(err),
		)
		if len(failed) == 0 {
			failed = make([]int, len(msgs))
			for i := range msgs {
				failed[i] = i
			}
		}
	}

	for _, idx := range failed {
		item := msgs[idx].WorkItem()
		_, recErr := s.recorder.Record(ctx, item, domain.RowFailed(item.Row.Identifier(), enqueueFailedDetail))
		if recErr != nil {
			logger.Error("failed to record unenqueued row",
				zap.String("jobId", job.ID),
				zap.Int("rowNumber", item.RowNumber),
				zap.Error(recErr),
			)
		}
	}

	logger.Info("job submitted",
		zap.String("jobId", job.ID),
		zap.String("ownerId", job.OwnerID),
		zap.String("jobType", job.JobType.String()),
		zap.Int("totalItems", job.TotalItems),
		zap.Int("enqueueFailures", len(failed)),
	)

	if len(failed) == 0 {
		return job, nil
	}
	return s.jobs.GetByID(ctx, job.ID)
}

// checkCodePool rejects a distribution the job-level purchase cannot cover.
func (s *JobService) checkCodePool(ctx context.Context, cfg domain.JobConfig, rows []domain.RowPayload, now time.Time) error {
	purchaseID := strings.TrimSpace(cfg.PurchaseID)
	if purchaseID == "" || s.codes == nil {
		return nil
	}

	needed := 0
	for _, row := range rows {
		if strings.TrimSpace(row.PurchaseID) == "" {
			needed++
		}
	}
	if needed == 0 {
		return nil
	}

	available, err := s.codes.CountAvailable(ctx, purchaseID, now)
	if err != nil {
		return fmt.Errorf("failed to count available codes: %w", err)
	}
	if available < int64(needed) {
		return fmt.Errorf("%w: purchase %s has %d available codes, %d rows need one",
			domain.ErrValidation, purchaseID, available, needed)
	}
	return nil
}

func (s *JobService) GetByID(ctx context.Context, id string) (*domain.BulkJob, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	return s.jobs.GetByID(ctx, id)
}

func (s *JobService) List(ctx context.Context, params repository.JobListParams) ([]domain.BulkJob, int64, error) {
	return s.jobs.List(ctx, params)
}

// SetResultFileURL attaches the generated report to a finished job.
func (s *JobService) SetResultFileURL(ctx context.Context, id, rawURL string) (*domain.BulkJob, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: url is required", domain.ErrValidation)
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("%w: invalid url", domain.ErrValidation)
	}

	if err := s.jobs.SetResultFileURL(ctx, id, trimmed); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: job %s is not finished", domain.ErrConflict, id)
		}
		return nil, err
	}
	return s.jobs.GetByID(ctx, id)
}
