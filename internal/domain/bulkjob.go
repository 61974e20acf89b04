package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// JobType identifies which row processor handles a bulk job.
type JobType string

const (
	JobTypeDealerInvitation       JobType = "DEALER_INVITATION"
	JobTypeFarmerInvitation       JobType = "FARMER_INVITATION"
	JobTypeCodeDistribution       JobType = "CODE_DISTRIBUTION"
	JobTypeSubscriptionAssignment JobType = "SUBSCRIPTION_ASSIGNMENT"
)

// JobTypes lists every supported job type in a stable order.
func JobTypes() []JobType {
	return []JobType{
		JobTypeDealerInvitation,
		JobTypeFarmerInvitation,
		JobTypeCodeDistribution,
		JobTypeSubscriptionAssignment,
	}
}

func (t JobType) String() string { return string(t) }

func (t JobType) IsValid() bool {
	switch t {
	case JobTypeDealerInvitation, JobTypeFarmerInvitation, JobTypeCodeDistribution, JobTypeSubscriptionAssignment:
		return true
	}
	return false
}

func ParseJobTypeFromString(s string) (JobType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	jt := JobType(normalized)
	if !jt.IsValid() {
		return "", fmt.Errorf("%w: invalid job type %q", ErrValidation, s)
	}
	return jt, nil
}

// JobStatus is the lifecycle state of a bulk job.
type JobStatus string

const (
	JobStatusPending        JobStatus = "PENDING"
	JobStatusProcessing     JobStatus = "PROCESSING"
	JobStatusCompleted      JobStatus = "COMPLETED"
	JobStatusPartialSuccess JobStatus = "PARTIAL_SUCCESS"
	JobStatusFailed         JobStatus = "FAILED"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusPartialSuccess, JobStatusFailed:
		return true
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartialSuccess, JobStatusFailed:
		return true
	}
	return false
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	st := JobStatus(normalized)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid job status %q", ErrValidation, s)
	}
	return st, nil
}

// TerminalStatusFor applies the terminal selection rule to final counters.
func TerminalStatusFor(successCount, failureCount int) JobStatus {
	switch {
	case failureCount == 0:
		return JobStatusCompleted
	case successCount == 0:
		return JobStatusFailed
	default:
		return JobStatusPartialSuccess
	}
}

// RowError is one entry of a job's error summary.
type RowError struct {
	RowNumber    int       `json:"rowNumber"`
	Identifier   string    `json:"identifier"`
	ErrorMessage string    `json:"errorMessage"`
	Timestamp    time.Time `json:"timestamp"`
}

// BulkJob tracks one uploaded batch from submission to its terminal state.
type BulkJob struct {
	ID             string
	OwnerID        string
	JobType        JobType
	Config         JobConfig
	TotalItems     int
	ProcessedItems int
	SuccessCount   int
	FailureCount   int
	Status         JobStatus
	ErrorSummary   []RowError
	ResultFileURL  *string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

func (j *BulkJob) Counters() Counters {
	return Counters{
		JobID:          j.ID,
		OwnerID:        j.OwnerID,
		JobType:        j.JobType,
		Status:         j.Status,
		TotalItems:     j.TotalItems,
		ProcessedItems: j.ProcessedItems,
		SuccessCount:   j.SuccessCount,
		FailureCount:   j.FailureCount,
	}
}

func (j *BulkJob) Validate() error {
	if strings.TrimSpace(j.OwnerID) == "" {
		return fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	if !j.JobType.IsValid() {
		return fmt.Errorf("%w: invalid job type %q", ErrValidation, j.JobType)
	}
	if j.TotalItems < 1 {
		return fmt.Errorf("%w: total items must be at least 1", ErrValidation)
	}
	return j.Config.Validate(j.JobType)
}

// Counters is the post-update view of a job returned by the atomic progress update.
type Counters struct {
	JobID          string
	OwnerID        string
	JobType        JobType
	Status         JobStatus
	TotalItems     int
	ProcessedItems int
	SuccessCount   int
	FailureCount   int
	// Duplicate is set when the row had already been recorded and nothing was incremented.
	Duplicate bool
}

// Done reports whether every row of the job has been recorded.
func (c Counters) Done() bool {
	return c.TotalItems > 0 && c.ProcessedItems == c.TotalItems
}

func (c Counters) TerminalStatus() JobStatus {
	return TerminalStatusFor(c.SuccessCount, c.FailureCount)
}

func (c Counters) Percentage() float64 {
	if c.TotalItems <= 0 {
		return 0
	}
	pct := float64(c.ProcessedItems) / float64(c.TotalItems) * 100
	return math.Round(pct*100) / 100
}

// Consistent checks the counter invariants.
func (c Counters) Consistent() bool {
	return c.ProcessedItems == c.SuccessCount+c.FailureCount &&
		c.ProcessedItems >= 0 &&
		c.ProcessedItems <= c.TotalItems
}
