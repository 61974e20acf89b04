package domain

import (
	"fmt"
	"strings"
)

// RowPayload is one spreadsheet row after decomposition. Which fields matter
// depends on the job type.
type RowPayload struct {
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	CodeCount    int    `json:"codeCount,omitempty"`
	PurchaseID   string `json:"purchaseId,omitempty"`
	TierID       string `json:"tierId,omitempty"`
	DurationDays int    `json:"durationDays,omitempty"`
}

// Identifier is the value reported back for the row in error summaries.
func (r RowPayload) Identifier() string {
	switch {
	case strings.TrimSpace(r.Email) != "":
		return strings.TrimSpace(r.Email)
	case strings.TrimSpace(r.Phone) != "":
		return strings.TrimSpace(r.Phone)
	default:
		return strings.TrimSpace(r.Name)
	}
}

// WorkItem is the unit of work for a single row of a bulk job.
type WorkItem struct {
	JobID         string
	JobType       JobType
	RowNumber     int
	CorrelationID string
	Row           RowPayload
}

func (w WorkItem) Validate() error {
	if strings.TrimSpace(w.JobID) == "" {
		return fmt.Errorf("%w: job id is required", ErrValidation)
	}
	if !w.JobType.IsValid() {
		return fmt.Errorf("%w: invalid job type %q", ErrValidation, w.JobType)
	}
	if w.RowNumber < 1 {
		return fmt.Errorf("%w: row number must be at least 1", ErrValidation)
	}
	return nil
}

// RowOutcome is the business result of processing one row.
type RowOutcome struct {
	Success     bool
	Identifier  string
	ErrorDetail string
}

func RowSucceeded(identifier string) RowOutcome {
	return RowOutcome{Success: true, Identifier: identifier}
}

func RowFailed(identifier, detail string) RowOutcome {
	return RowOutcome{Identifier: identifier, ErrorDetail: detail}
}
