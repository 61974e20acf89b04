package service

import (
	"context"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/observability"
	"github.com/kursadbilgin/bulkjob-engine/internal/queue"
	"github.com/kursadbilgin/bulkjob-engine/internal/relay"
	"go.uber.org/zap"
)

// ReportPublisher asks the report generator for a finished job's result file.
type ReportPublisher interface {
	PublishReportRequest(ctx context.Context, msg queue.ReportRequestMessage) error
}

// Recorder is the single path every row outcome takes: count it, relay
// progress, and complete the job when it was the last row.
type Recorder struct {
	tracker     *Tracker
	coordinator *Coordinator
	relay       relay.Relay
	reports     ReportPublisher
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewRecorder(
	tracker *Tracker,
	coordinator *Coordinator,
	rel relay.Relay,
	reports ReportPublisher,
	logger *zap.Logger,
) *Recorder {
	if rel == nil {
		rel = relay.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Recorder{
		tracker:     tracker,
		coordinator: coordinator,
		relay:       rel,
		reports:     reports,
		logger:      logger,
		now:         time.Now,
	}
}

func (r *Recorder) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Record applies outcome for the row and runs the completion check.
// Duplicates still run the check so a crash between the increment and the
// terminal transition heals on redelivery.
func (r *Recorder) Record(ctx context.Context, item domain.WorkItem, outcome domain.RowOutcome) (domain.Counters, error) {
	counters, err := r.tracker.ApplyOutcome(ctx, item.JobID, item.RowNumber, outcome)
	if err != nil {
		return domain.Counters{}, err
	}

	r.metrics.IncRowProcessed(counters.JobType.String(), outcome.Success, counters.Duplicate)

	if counters.Duplicate {
		observability.JobLogger(r.logger, item).Debug("row already recorded",
			zap.Int("processedItems", counters.ProcessedItems),
		)
	} else {
		r.relay.PublishProgress(counters)
	}

	if err := r.Finalize(ctx, counters); err != nil {
		return counters, err
	}
	return counters, nil
}

// Finalize completes the job behind counters if they are done. Only the
// caller that wins the transition announces it.
func (r *Recorder) Finalize(ctx context.Context, counters domain.Counters) error {
	status, won, err := r.coordinator.TryComplete(ctx, counters)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	completedAt := r.now().UTC()
	r.metrics.IncJobCompleted(counters.JobType.String(), status.String())
	r.logger.Info("job completed",
		zap.String("jobId", counters.JobID),
		zap.String("ownerId", counters.OwnerID),
		zap.String("jobType", counters.JobType.String()),
		zap.String("status", status.String()),
		zap.Int("successCount", counters.SuccessCount),
		zap.Int("failureCount", counters.FailureCount),
	)

	r.relay.PublishCompletion(counters, status, completedAt)
	r.requestReport(ctx, counters, status, completedAt)
	return nil
}

func (r *Recorder) requestReport(ctx context.Context, counters domain.Counters, status domain.JobStatus, at time.Time) {
	if r.reports == nil {
		return
	}

	err := r.reports.PublishReportRequest(ctx, queue.ReportRequestMessage{
		JobID:       counters.JobID,
		OwnerID:     counters.OwnerID,
		JobType:     counters.JobType,
		Status:      status,
		RequestedAt: at,
	})
	if err != nil {
		r.logger.Error("failed to request job report",
			zap.String("jobId", counters.JobID),
			zap.String("status", status.String()),
			zap.Error(err),
		)
	}
}
