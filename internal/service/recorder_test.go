package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
)

func TestRecorderCountersStayConsistentUnderConcurrency(t *testing.T) {
	t.Parallel()

	const total = 200
	h := newHarness()
	h.jobs.add(pendingJob("job-c", total))

	var wg sync.WaitGroup
	for row := 1; row <= total; row++ {
		// Every row is delivered twice to exercise redelivery.
		for delivery := 0; delivery < 2; delivery++ {
			wg.Add(1)
			go func(row int) {
				defer wg.Done()
				outcome := domain.RowSucceeded("ok")
				if row%7 == 0 {
					outcome = domain.RowFailed("bad", "invalid phone")
				}
				counters, err := h.recorder.Record(context.Background(), workItem("job-c", row), outcome)
				if err != nil {
					t.Errorf("Record(row %d) error = %v", row, err)
					return
				}
				if !counters.Consistent() {
					t.Errorf("row %d: inconsistent counters %+v", row, counters)
				}
			}(row)
		}
	}
	wg.Wait()

	job := h.jobs.get("job-c")
	wantFailures := total / 7
	if job.ProcessedItems != total || job.SuccessCount != total-wantFailures || job.FailureCount != wantFailures {
		t.Fatalf("counters = processed %d success %d failure %d, want %d/%d/%d",
			job.ProcessedItems, job.SuccessCount, job.FailureCount, total, total-wantFailures, wantFailures)
	}
	if len(job.ErrorSummary) != wantFailures {
		t.Fatalf("error summary entries = %d, want %d", len(job.ErrorSummary), wantFailures)
	}
	if job.Status != domain.JobStatusPartialSuccess {
		t.Fatalf("status = %s, want PARTIAL_SUCCESS", job.Status)
	}
	if got := len(h.relay.completed()); got != 1 {
		t.Fatalf("completion notifications = %d, want exactly 1", got)
	}
	if got := h.publisher.reportCount(); got != 1 {
		t.Fatalf("report requests = %d, want exactly 1", got)
	}
	if got := h.relay.progressCount(); got != total {
		t.Fatalf("progress events = %d, want one per recorded row (%d)", got, total)
	}
}

func TestRecorderFinalizeHasExactlyOneWinner(t *testing.T) {
	t.Parallel()

	h := newHarness()
	job := pendingJob("job-race", 3)
	h.jobs.add(job)
	var counters domain.Counters
	for row := 1; row <= 3; row++ {
		// Record through the tracker only, leaving the job done but not terminal.
		c, err := NewTracker(h.jobs).ApplyOutcome(context.Background(), "job-race", row, domain.RowSucceeded("x"))
		if err != nil {
			t.Fatalf("ApplyOutcome() error = %v", err)
		}
		counters = c
	}

	const callers = 32
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	coordinator := NewCoordinator(h.jobs)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, won, err := coordinator.TryComplete(context.Background(), counters)
			if err != nil {
				t.Errorf("TryComplete() error = %v", err)
			}
			if won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins.Load())
	}
	if status := h.jobs.get("job-race").Status; status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", status)
	}
}

func TestRecorderFinalStateIsOrderIndependent(t *testing.T) {
	t.Parallel()

	const total = 25
	outcomeFor := func(row int) domain.RowOutcome {
		if row%3 == 0 {
			return domain.RowFailed("x", "nope")
		}
		return domain.RowSucceeded("x")
	}

	var reference *domain.BulkJob
	for seed := int64(1); seed <= 5; seed++ {
		h := newHarness()
		h.jobs.add(pendingJob("job-o", total))

		order := rand.New(rand.NewSource(seed)).Perm(total)
		for _, idx := range order {
			row := idx + 1
			if _, err := h.recorder.Record(context.Background(), workItem("job-o", row), outcomeFor(row)); err != nil {
				t.Fatalf("seed %d: Record() error = %v", seed, err)
			}
		}

		job := h.jobs.get("job-o")
		if reference == nil {
			reference = job
			continue
		}
		if job.Status != reference.Status || job.SuccessCount != reference.SuccessCount ||
			job.FailureCount != reference.FailureCount || job.ProcessedItems != reference.ProcessedItems {
			t.Fatalf("seed %d: final state %+v differs from %+v", seed, job.Counters(), reference.Counters())
		}
	}
}

func TestRecorderTerminalStatusRules(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		outcomes   []bool
		wantStatus domain.JobStatus
	}{
		{name: "all succeed", outcomes: []bool{true, true, true}, wantStatus: domain.JobStatusCompleted},
		{name: "all fail", outcomes: []bool{false, false}, wantStatus: domain.JobStatusFailed},
		{name: "mixed", outcomes: []bool{true, false, true}, wantStatus: domain.JobStatusPartialSuccess},
		{name: "single row", outcomes: []bool{true}, wantStatus: domain.JobStatusCompleted},
		{name: "four of five succeed", outcomes: []bool{true, true, false, true, true}, wantStatus: domain.JobStatusPartialSuccess},
		{name: "three rows all fail", outcomes: []bool{false, false, false}, wantStatus: domain.JobStatusFailed},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness()
			h.jobs.add(pendingJob("job-t", len(tc.outcomes)))

			for i, ok := range tc.outcomes {
				outcome := domain.RowSucceeded("x")
				if !ok {
					outcome = domain.RowFailed("x", "failed")
				}
				counters, err := h.recorder.Record(context.Background(), workItem("job-t", i+1), outcome)
				if err != nil {
					t.Fatalf("Record() error = %v", err)
				}
				if i == 0 && counters.Status != domain.JobStatusProcessing {
					t.Fatalf("status after first row = %s, want PROCESSING", counters.Status)
				}
			}

			var wantFailed []int
			for i, ok := range tc.outcomes {
				if !ok {
					wantFailed = append(wantFailed, i+1)
				}
			}

			job := h.jobs.get("job-t")
			if job.Status != tc.wantStatus {
				t.Fatalf("status = %s, want %s", job.Status, tc.wantStatus)
			}
			if job.ProcessedItems != len(tc.outcomes) || job.FailureCount != len(wantFailed) ||
				job.SuccessCount != len(tc.outcomes)-len(wantFailed) {
				t.Fatalf("counters = %+v, want %d failures of %d", job.Counters(), len(wantFailed), len(tc.outcomes))
			}
			if len(job.ErrorSummary) != len(wantFailed) {
				t.Fatalf("error summary = %+v, want %d entries", job.ErrorSummary, len(wantFailed))
			}
			for i, row := range wantFailed {
				if job.ErrorSummary[i].RowNumber != row {
					t.Fatalf("error summary[%d] row = %d, want %d", i, job.ErrorSummary[i].RowNumber, row)
				}
			}
			if job.StartedAt == nil || job.CompletedAt == nil {
				t.Fatal("startedAt and completedAt should be set")
			}
			completions := h.relay.completed()
			if len(completions) != 1 || completions[0].status != tc.wantStatus {
				t.Fatalf("completions = %+v, want one %s", completions, tc.wantStatus)
			}
		})
	}
}

func TestRecorderRedeliveryHealsMissedCompletion(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.jobs.add(pendingJob("job-h", 1))

	var calls atomic.Int32
	h.jobs.markTerminalFn = func() error {
		if calls.Add(1) == 1 {
			return errors.New("connection reset")
		}
		return nil
	}

	if _, err := h.recorder.Record(context.Background(), workItem("job-h", 1), domain.RowSucceeded("x")); err == nil {
		t.Fatal("expected the terminal transition error to surface")
	}
	if status := h.jobs.get("job-h").Status; status != domain.JobStatusProcessing {
		t.Fatalf("status = %s, want PROCESSING after failed transition", status)
	}

	counters, err := h.recorder.Record(context.Background(), workItem("job-h", 1), domain.RowSucceeded("x"))
	if err != nil {
		t.Fatalf("redelivery Record() error = %v", err)
	}
	if !counters.Duplicate {
		t.Fatal("redelivered row should be reported as duplicate")
	}
	if job := h.jobs.get("job-h"); job.Status != domain.JobStatusCompleted || job.ProcessedItems != 1 {
		t.Fatalf("job = %+v, want COMPLETED with one processed row", job.Counters())
	}
	if got := len(h.relay.completed()); got != 1 {
		t.Fatalf("completions = %d, want 1", got)
	}
}

func TestRecorderUnknownJob(t *testing.T) {
	t.Parallel()

	h := newHarness()
	_, err := h.recorder.Record(context.Background(), workItem("missing", 1), domain.RowSucceeded("x"))
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("Record() error = %v, want ErrJobNotFound", err)
	}
}

func TestRecorderReportFailureDoesNotFailRow(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.publisher.reportErr = errors.New("broker down")
	h.jobs.add(pendingJob("job-r", 1))

	if _, err := h.recorder.Record(context.Background(), workItem("job-r", 1), domain.RowSucceeded("x")); err != nil {
		t.Fatalf("Record() error = %v, want nil", err)
	}
	if status := h.jobs.get("job-r").Status; status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", status)
	}
}

func TestTrackerDefaultsMissingErrorDetail(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.jobs.add(pendingJob("job-d", 2))

	if _, err := NewTracker(h.jobs).ApplyOutcome(context.Background(), "job-d", 2, domain.RowOutcome{Identifier: "x"}); err != nil {
		t.Fatalf("ApplyOutcome() error = %v", err)
	}
	job := h.jobs.get("job-d")
	if len(job.ErrorSummary) != 1 || job.ErrorSummary[0].ErrorMessage != "unknown error" || job.ErrorSummary[0].RowNumber != 2 {
		t.Fatalf("error summary = %+v", job.ErrorSummary)
	}
}
