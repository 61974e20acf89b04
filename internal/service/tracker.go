package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
)

// Tracker records row outcomes against job counters. Each call is a single
// atomic statement, so concurrent workers never lose an increment and a row
// delivered twice is counted once.
type Tracker struct {
	jobs repository.BulkJobRepository
	now  func() time.Time
}

func NewTracker(jobs repository.BulkJobRepository) *Tracker {
	return &Tracker{jobs: jobs, now: time.Now}
}

// ApplyOutcome returns the counters as they stand right after the update.
func (t *Tracker) ApplyOutcome(ctx context.Context, jobID string, rowNumber int, outcome domain.RowOutcome) (domain.Counters, error) {
	if strings.TrimSpace(jobID) == "" {
		return domain.Counters{}, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	if !outcome.Success && strings.TrimSpace(outcome.ErrorDetail) == "" {
		outcome.ErrorDetail = "unknown error"
	}

	return t.jobs.ApplyOutcome(ctx, repository.RowResult{
		JobID:      jobID,
		RowNumber:  rowNumber,
		Outcome:    outcome,
		RecordedAt: t.now().UTC(),
	})
}
