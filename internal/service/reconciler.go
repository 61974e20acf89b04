package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultReconcileInterval = 5 * time.Minute
	defaultReconcileLimit    = 100
	staleJobReason           = "job timed out, unprocessed rows counted as failed"
)

// Reconciler finalizes jobs that stopped making progress, typically because
// work items were lost to a broker failure.
type Reconciler struct {
	jobs       repository.BulkJobRepository
	recorder   *Recorder
	logger     *zap.Logger
	staleAfter time.Duration
	interval   time.Duration
	limit      int
	now        func() time.Time
}

func NewReconciler(
	jobs repository.BulkJobRepository,
	recorder *Recorder,
	staleAfter time.Duration,
	interval time.Duration,
	logger *zap.Logger,
) (*Reconciler, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("recorder is required")
	}
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		jobs:       jobs,
		recorder:   recorder,
		logger:     logger,
		staleAfter: staleAfter,
		interval:   interval,
		limit:      defaultReconcileLimit,
		now:        time.Now,
	}, nil
}

// Start sweeps on every tick until ctx ends. A zero staleAfter disables it.
func (r *Reconciler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.staleAfter <= 0 {
		r.logger.Info("stale job reconciler disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx, r.staleAfter); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("stale job sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep finalizes jobs not updated for staleAfter and reports how many were
// touched.
func (r *Reconciler) Sweep(ctx context.Context, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		return 0, fmt.Errorf("%w: stale threshold must be positive", domain.ErrValidation)
	}

	now := r.now().UTC()
	stale, err := r.jobs.ListStale(ctx, now.Add(-staleAfter), r.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	finalized := 0
	for i := range stale {
		job := stale[i]
		counters, err := r.jobs.ForceFinalize(ctx, job.ID, staleJobReason, now)
		if err != nil {
			if errors.Is(err, domain.ErrJobNotFound) {
				continue
			}
			r.logger.Error("failed to finalize stale job",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
			continue
		}

		if err := r.recorder.Finalize(ctx, counters); err != nil {
			r.logger.Error("failed to complete stale job",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
			continue
		}

		r.logger.Warn("stale job finalized",
			zap.String("jobId", job.ID),
			zap.Int("missingRows", job.TotalItems-job.ProcessedItems),
			zap.Duration("staleAfter", staleAfter),
		)
		finalized++
	}

	return finalized, nil
}
