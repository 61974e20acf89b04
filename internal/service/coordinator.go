package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
)

// Coordinator moves fully processed jobs to their terminal status.
type Coordinator struct {
	jobs repository.BulkJobRepository
	now  func() time.Time
}

func NewCoordinator(jobs repository.BulkJobRepository) *Coordinator {
	return &Coordinator{jobs: jobs, now: time.Now}
}

// TryComplete attempts the terminal transition for counters. Exactly one
// caller per job gets won=true; everyone else, including callers whose
// counters are not done yet, gets won=false.
func (c *Coordinator) TryComplete(ctx context.Context, counters domain.Counters) (status domain.JobStatus, won bool, err error) {
	if !counters.Done() || counters.Status.IsTerminal() {
		return counters.Status, false, nil
	}

	status = counters.TerminalStatus()
	won, err = c.jobs.MarkTerminal(ctx, counters.JobID, status, c.now().UTC())
	if err != nil {
		return "", false, fmt.Errorf("failed to mark job %s terminal: %w", counters.JobID, err)
	}
	return status, won, nil
}
