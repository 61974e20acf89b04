package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/processor"
	"github.com/kursadbilgin/bulkjob-engine/internal/queue"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
)

// memJobs holds each statement of the SQL store under one lock, which gives
// the same atomicity the single-statement updates give in Postgres.
type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.BulkJob
	rows map[string]map[int]bool

	createErr      error
	markTerminalFn func() error
}

func newMemJobs() *memJobs {
	return &memJobs{
		jobs: make(map[string]*domain.BulkJob),
		rows: make(map[string]map[int]bool),
	}
}

func cloneJob(j *domain.BulkJob) *domain.BulkJob {
	cp := *j
	cp.ErrorSummary = append([]domain.RowError(nil), j.ErrorSummary...)
	return &cp
}

func (m *memJobs) add(job *domain.BulkJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
	m.rows[job.ID] = make(map[int]bool)
}

func (m *memJobs) get(id string) *domain.BulkJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return cloneJob(j)
	}
	return nil
}

func (m *memJobs) Create(ctx context.Context, j *domain.BulkJob) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.add(j)
	return nil
}

func (m *memJobs) GetByID(ctx context.Context, id string) (*domain.BulkJob, error) {
	if j := m.get(id); j != nil {
		return j, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memJobs) List(ctx context.Context, params repository.JobListParams) ([]domain.BulkJob, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BulkJob
	for _, j := range m.jobs {
		if params.OwnerID != nil && j.OwnerID != *params.OwnerID {
			continue
		}
		out = append(out, *cloneJob(j))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, int64(len(out)), nil
}

func (m *memJobs) ApplyOutcome(ctx context.Context, result repository.RowResult) (domain.Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[result.JobID]
	if !ok {
		return domain.Counters{}, domain.ErrJobNotFound
	}
	if result.RowNumber < 1 || result.RowNumber > j.TotalItems {
		return domain.Counters{}, fmt.Errorf("%w: row %d outside 1..%d", domain.ErrValidation, result.RowNumber, j.TotalItems)
	}
	if m.rows[j.ID][result.RowNumber] || j.ProcessedItems >= j.TotalItems {
		c := j.Counters()
		c.Duplicate = true
		return c, nil
	}

	m.rows[j.ID][result.RowNumber] = true
	j.ProcessedItems++
	if result.Outcome.Success {
		j.SuccessCount++
	} else {
		j.FailureCount++
		j.ErrorSummary = append(j.ErrorSummary, domain.RowError{
			RowNumber:    result.RowNumber,
			Identifier:   result.Outcome.Identifier,
			ErrorMessage: result.Outcome.ErrorDetail,
			Timestamp:    result.RecordedAt,
		})
	}
	if j.Status == domain.JobStatusPending {
		j.Status = domain.JobStatusProcessing
		at := result.RecordedAt
		j.StartedAt = &at
	}
	j.UpdatedAt = result.RecordedAt
	return j.Counters(), nil
}

func (m *memJobs) IsRecorded(ctx context.Context, jobID string, rowNumber int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[jobID][rowNumber], nil
}

func (m *memJobs) MarkTerminal(ctx context.Context, jobID string, status domain.JobStatus, at time.Time) (bool, error) {
	if m.markTerminalFn != nil {
		if err := m.markTerminalFn(); err != nil {
			return false, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != domain.JobStatusProcessing || j.ProcessedItems != j.TotalItems {
		return false, nil
	}
	j.Status = status
	j.CompletedAt = &at
	j.UpdatedAt = at
	return true, nil
}

func (m *memJobs) SetResultFileURL(ctx context.Context, jobID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if !j.Status.IsTerminal() {
		return domain.ErrConflict
	}
	j.ResultFileURL = &url
	return nil
}

func (m *memJobs) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.BulkJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BulkJob
	for _, j := range m.jobs {
		if !j.Status.IsTerminal() && j.UpdatedAt.Before(olderThan) {
			out = append(out, *cloneJob(j))
		}
	}
	return out, nil
}

func (m *memJobs) ForceFinalize(ctx context.Context, jobID string, reason string, at time.Time) (domain.Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return domain.Counters{}, domain.ErrJobNotFound
	}
	if !j.Status.IsTerminal() && j.ProcessedItems < j.TotalItems {
		j.FailureCount += j.TotalItems - j.ProcessedItems
		j.ProcessedItems = j.TotalItems
		j.Status = domain.JobStatusProcessing
		j.ErrorSummary = append(j.ErrorSummary, domain.RowError{RowNumber: 0, ErrorMessage: reason, Timestamp: at})
		j.UpdatedAt = at
	}
	return j.Counters(), nil
}

type completion struct {
	jobID  string
	status domain.JobStatus
}

type fakeRelay struct {
	mu          sync.Mutex
	progress    []domain.Counters
	completions []completion
}

func (f *fakeRelay) PublishProgress(c domain.Counters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, c)
}

func (f *fakeRelay) PublishCompletion(c domain.Counters, status domain.JobStatus, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions = append(f.completions, completion{jobID: c.JobID, status: status})
}

func (f *fakeRelay) completed() []completion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]completion(nil), f.completions...)
}

func (f *fakeRelay) progressCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.progress)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.WorkItemMessage
	reports   []queue.ReportRequestMessage

	publishFn func(ctx context.Context, msgs []queue.WorkItemMessage) ([]int, error)
	reportErr error
}

func (f *fakePublisher) PublishWorkItems(ctx context.Context, msgs []queue.WorkItemMessage) ([]int, error) {
	f.mu.Lock()
	f.published = append(f.published, msgs...)
	f.mu.Unlock()
	if f.publishFn != nil {
		return f.publishFn(ctx, msgs)
	}
	return nil, nil
}

func (f *fakePublisher) PublishReportRequest(ctx context.Context, msg queue.ReportRequestMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, msg)
	return f.reportErr
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) reportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type processFunc func(ctx context.Context, job *domain.BulkJob, item domain.WorkItem) (domain.RowOutcome, error)

func (f processFunc) Process(ctx context.Context, job *domain.BulkJob, item domain.WorkItem) (domain.RowOutcome, error) {
	return f(ctx, job, item)
}

// registryOf registers fn for every job type.
func registryOf(t interface{ Fatalf(string, ...any) }, fn processFunc) *processor.Registry {
	processors := make(map[domain.JobType]processor.RowProcessor)
	for _, jt := range domain.JobTypes() {
		processors[jt] = fn
	}
	r, err := processor.NewRegistry(processors)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

type harness struct {
	jobs      *memJobs
	relay     *fakeRelay
	publisher *fakePublisher
	recorder  *Recorder
}

func newHarness() *harness {
	h := &harness{
		jobs:      newMemJobs(),
		relay:     &fakeRelay{},
		publisher: &fakePublisher{},
	}
	h.recorder = NewRecorder(NewTracker(h.jobs), NewCoordinator(h.jobs), h.relay, h.publisher, nil)
	return h
}

func pendingJob(id string, total int) *domain.BulkJob {
	now := time.Now().UTC()
	return &domain.BulkJob{
		ID:         id,
		OwnerID:    "owner-1",
		JobType:    domain.JobTypeCodeDistribution,
		Config:     domain.JobConfig{PurchaseID: "purchase-1"},
		TotalItems: total,
		Status:     domain.JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func workItem(jobID string, row int) domain.WorkItem {
	return domain.WorkItem{
		JobID:     jobID,
		JobType:   domain.JobTypeCodeDistribution,
		RowNumber: row,
		Row:       domain.RowPayload{Phone: fmt.Sprintf("555000%04d", row)},
	}
}
