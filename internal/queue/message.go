package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
)

// WorkItemMessage is the broker payload for one row of a bulk job.
type WorkItemMessage struct {
	JobID         string            `json:"jobId"`
	JobType       domain.JobType    `json:"jobType"`
	RowNumber     int               `json:"rowNumber"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Attempt       int               `json:"attempt"`
	Row           domain.RowPayload `json:"row"`
}

func NewWorkItemMessage(item domain.WorkItem) WorkItemMessage {
	return WorkItemMessage{
		JobID:         item.JobID,
		JobType:       item.JobType,
		RowNumber:     item.RowNumber,
		CorrelationID: item.CorrelationID,
		Row:           item.Row,
	}
}

func (m WorkItemMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if !m.JobType.IsValid() {
		return fmt.Errorf("invalid job type %q", m.JobType)
	}
	if m.RowNumber < 1 {
		return fmt.Errorf("rowNumber must be at least 1, got %d", m.RowNumber)
	}
	if m.Attempt < 0 {
		return fmt.Errorf("attempt must not be negative, got %d", m.Attempt)
	}
	return nil
}

func (m WorkItemMessage) WorkItem() domain.WorkItem {
	return domain.WorkItem{
		JobID:         m.JobID,
		JobType:       m.JobType,
		RowNumber:     m.RowNumber,
		CorrelationID: m.CorrelationID,
		Row:           m.Row,
	}
}

func (m WorkItemMessage) messageID() string {
	return fmt.Sprintf("%s:%d", m.JobID, m.RowNumber)
}

// ReportRequestMessage asks the report generator to build a job's result file.
type ReportRequestMessage struct {
	JobID       string           `json:"jobId"`
	OwnerID     string           `json:"ownerId"`
	JobType     domain.JobType   `json:"jobType"`
	Status      domain.JobStatus `json:"status"`
	RequestedAt time.Time        `json:"requestedAt"`
}

func (m ReportRequestMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if !m.Status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", m.Status)
	}
	return nil
}
