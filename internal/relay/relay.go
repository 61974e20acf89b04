package relay

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	kindProgress   = "progress"
	kindCompletion = "completion"

	resultSent      = "sent"
	resultFailed    = "failed"
	resultDropped   = "dropped"
	resultCoalesced = "coalesced"

	defaultBufferSize = 1024
	defaultRatePerSec = 50
	shutdownFlush     = 2 * time.Second

	// completedMemory bounds how many finished jobs are remembered for
	// dropping late progress.
	completedMemory = 4096
)

// Relay pushes job progress to connected clients. Calls never block the
// caller on the network and never report errors; delivery is best effort.
type Relay interface {
	PublishProgress(counters domain.Counters)
	PublishCompletion(counters domain.Counters, status domain.JobStatus, at time.Time)
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishProgress(domain.Counters)                               {}
func (Nop) PublishCompletion(domain.Counters, domain.JobStatus, time.Time) {}

// AsyncRelay keeps only the newest progress snapshot per job and queues
// completions in a bounded buffer. A background loop started with Start
// delivers them at a fixed pace. Progress published after a job's
// completion is dropped.
type AsyncRelay struct {
	sender  Sender
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	progress  map[string]ProgressEvent
	order     []string
	completed map[string]struct{}
	doneOrder []string

	completions chan CompletionEvent
	wake        chan struct{}
}

type Options struct {
	BufferSize int
	RatePerSec int
	Timeout    time.Duration
}

func NewAsyncRelay(sender Sender, opts Options, logger *zap.Logger, metrics *observability.Metrics) *AsyncRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = defaultRatePerSec
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	return &AsyncRelay{
		sender:      sender,
		limiter:     rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		timeout:     opts.Timeout,
		logger:      logger,
		metrics:     metrics,
		progress:    make(map[string]ProgressEvent),
		completed:   make(map[string]struct{}),
		completions: make(chan CompletionEvent, opts.BufferSize),
		wake:        make(chan struct{}, 1),
	}
}

func (r *AsyncRelay) PublishProgress(counters domain.Counters) {
	event := NewProgressEvent(counters)

	r.mu.Lock()
	if _, done := r.completed[event.JobID]; done {
		r.mu.Unlock()
		r.metrics.IncRelayEvent(kindProgress, resultDropped)
		return
	}
	current, ok := r.progress[event.JobID]
	switch {
	case !ok:
		r.order = append(r.order, event.JobID)
		r.progress[event.JobID] = event
	case event.ProcessedItems >= current.ProcessedItems:
		r.progress[event.JobID] = event
		r.metrics.IncRelayEvent(kindProgress, resultCoalesced)
	default:
		// An older snapshot arriving late never overwrites a newer one.
		r.metrics.IncRelayEvent(kindProgress, resultCoalesced)
	}
	r.mu.Unlock()

	r.signal()
}

func (r *AsyncRelay) PublishCompletion(counters domain.Counters, status domain.JobStatus, at time.Time) {
	event := NewCompletionEvent(counters, status, at)
	r.markCompleted(event.JobID)

	select {
	case r.completions <- event:
		r.signal()
	default:
		r.metrics.IncRelayEvent(kindCompletion, resultDropped)
		r.logger.Error("relay buffer full, completion event dropped",
			zap.String("jobId", event.JobID),
			zap.String("ownerId", event.OwnerID),
			zap.String("status", event.Status),
		)
	}
}

func (r *AsyncRelay) markCompleted(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.completed[jobID]; ok {
		return
	}
	r.completed[jobID] = struct{}{}
	r.doneOrder = append(r.doneOrder, jobID)
	if len(r.doneOrder) > completedMemory {
		delete(r.completed, r.doneOrder[0])
		r.doneOrder = r.doneOrder[1:]
	}
}

func (r *AsyncRelay) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start delivers queued events until ctx ends, then makes one bounded
// attempt to flush what is left.
func (r *AsyncRelay) Start(ctx context.Context) error {
	r.logger.Info("relay dispatcher started")

	// In-flight sends finish even when ctx ends mid-delivery.
	sendCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			r.flushOnShutdown()
			r.logger.Info("relay dispatcher stopped")
			return nil
		}

		select {
		case <-ctx.Done():
		case event := <-r.completions:
			r.deliverCompletion(sendCtx, event)
		case <-r.wake:
			r.drainProgress(sendCtx)
		}
	}
}

func (r *AsyncRelay) flushOnShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlush)
	defer cancel()

	for {
		select {
		case event := <-r.completions:
			r.deliverCompletion(ctx, event)
		default:
			r.drainProgress(ctx)
			return
		}
	}
}

func (r *AsyncRelay) drainProgress(ctx context.Context) {
	for ctx.Err() == nil {
		// Completions jump the queue so a finished job is reported promptly.
		select {
		case event := <-r.completions:
			r.deliverCompletion(ctx, event)
			continue
		default:
		}

		event, ok := r.nextProgress()
		if !ok {
			return
		}
		r.deliverProgress(ctx, event)
	}
}

func (r *AsyncRelay) nextProgress() (ProgressEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.order) > 0 {
		jobID := r.order[0]
		r.order = r.order[1:]
		if event, ok := r.progress[jobID]; ok {
			delete(r.progress, jobID)
			return event, true
		}
	}
	return ProgressEvent{}, false
}

func (r *AsyncRelay) takeProgress(jobID string) (ProgressEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.progress[jobID]
	if ok {
		delete(r.progress, jobID)
	}
	return event, ok
}

func (r *AsyncRelay) deliverCompletion(ctx context.Context, event CompletionEvent) {
	// The last progress snapshot of a job goes out before its completion.
	if pending, ok := r.takeProgress(event.JobID); ok {
		r.deliverProgress(ctx, pending)
	}

	if err := r.pace(ctx); err != nil {
		r.metrics.IncRelayEvent(kindCompletion, resultDropped)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.sender.SendCompletion(sendCtx, event); err != nil {
		r.metrics.IncRelayEvent(kindCompletion, resultFailed)
		r.logger.Error("failed to relay job completion",
			zap.String("jobId", event.JobID),
			zap.String("ownerId", event.OwnerID),
			zap.String("status", event.Status),
			zap.Error(err),
		)
		return
	}
	r.metrics.IncRelayEvent(kindCompletion, resultSent)
}

func (r *AsyncRelay) deliverProgress(ctx context.Context, event ProgressEvent) {
	if err := r.pace(ctx); err != nil {
		r.metrics.IncRelayEvent(kindProgress, resultDropped)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.sender.SendProgress(sendCtx, event); err != nil {
		r.metrics.IncRelayEvent(kindProgress, resultFailed)
		r.logger.Error("failed to relay job progress",
			zap.String("jobId", event.JobID),
			zap.String("ownerId", event.OwnerID),
			zap.Int("processedItems", event.ProcessedItems),
			zap.Error(err),
		)
		return
	}
	r.metrics.IncRelayEvent(kindProgress, resultSent)
}

func (r *AsyncRelay) pace(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// SyncRelay sends every event inline. bulkctl uses it for one-off sweeps
// where no background loop runs.
type SyncRelay struct {
	sender  Sender
	timeout time.Duration
	logger  *zap.Logger
}

func NewSyncRelay(sender Sender, timeout time.Duration, logger *zap.Logger) *SyncRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &SyncRelay{sender: sender, timeout: timeout, logger: logger}
}

func (r *SyncRelay) PublishProgress(counters domain.Counters) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.sender.SendProgress(ctx, NewProgressEvent(counters)); err != nil {
		r.logger.Error("failed to relay job progress", zap.String("jobId", counters.JobID), zap.Error(err))
	}
}

func (r *SyncRelay) PublishCompletion(counters domain.Counters, status domain.JobStatus, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.sender.SendCompletion(ctx, NewCompletionEvent(counters, status, at)); err != nil {
		r.logger.Error("failed to relay job completion", zap.String("jobId", counters.JobID), zap.Error(err))
	}
}
