package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
)

const (
	ProgressPath   = "/api/internal/bulk-jobs/progress"
	CompletionPath = "/api/internal/bulk-jobs/completed"

	// SecretHeader authenticates calls into the live-client process.
	SecretHeader = "X-Internal-Secret"

	defaultTimeout = 5 * time.Second
)

// ProgressEvent is the snapshot pushed to the owner's live clients.
type ProgressEvent struct {
	JobID          string  `json:"jobId"`
	OwnerID        string  `json:"ownerId"`
	Group          string  `json:"group"`
	JobType        string  `json:"jobType"`
	Status         string  `json:"status"`
	TotalItems     int     `json:"totalItems"`
	ProcessedItems int     `json:"processedItems"`
	SuccessCount   int     `json:"successCount"`
	FailureCount   int     `json:"failureCount"`
	Percentage     float64 `json:"progressPercentage"`
}

// CompletionEvent announces that a job reached its terminal state.
type CompletionEvent struct {
	JobID        string    `json:"jobId"`
	OwnerID      string    `json:"ownerId"`
	Group        string    `json:"group"`
	JobType      string    `json:"jobType"`
	Status       string    `json:"status"`
	SuccessCount int       `json:"successCount"`
	FailureCount int       `json:"failureCount"`
	CompletedAt  time.Time `json:"completedAt"`
}

// OwnerGroup is the live-client group that receives a job owner's events.
func OwnerGroup(ownerID string) string {
	return "owner:" + ownerID
}

func NewProgressEvent(c domain.Counters) ProgressEvent {
	return ProgressEvent{
		JobID:          c.JobID,
		OwnerID:        c.OwnerID,
		Group:          OwnerGroup(c.OwnerID),
		JobType:        c.JobType.String(),
		Status:         c.Status.String(),
		TotalItems:     c.TotalItems,
		ProcessedItems: c.ProcessedItems,
		SuccessCount:   c.SuccessCount,
		FailureCount:   c.FailureCount,
		Percentage:     c.Percentage(),
	}
}

func NewCompletionEvent(c domain.Counters, status domain.JobStatus, at time.Time) CompletionEvent {
	return CompletionEvent{
		JobID:        c.JobID,
		OwnerID:      c.OwnerID,
		Group:        OwnerGroup(c.OwnerID),
		JobType:      c.JobType.String(),
		Status:       status.String(),
		SuccessCount: c.SuccessCount,
		FailureCount: c.FailureCount,
		CompletedAt:  at.UTC(),
	}
}

// Sender delivers relay events to the live-client process.
type Sender interface {
	SendProgress(ctx context.Context, event ProgressEvent) error
	SendCompletion(ctx context.Context, event CompletionEvent) error
}

// Client posts relay events over HTTP.
type Client struct {
	client *resty.Client
	secret string
}

var _ Sender = (*Client)(nil)

func NewClient(baseURL, secret string, timeout time.Duration) (*Client, error) {
	client := resty.New()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client.SetTimeout(timeout)

	return NewClientWithResty(baseURL, secret, client)
}

func NewClientWithResty(baseURL, secret string, client *resty.Client) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("relay base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid relay base url: %w", err)
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("relay secret is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTimeout)
	}
	client.SetRetryCount(0)
	client.SetBaseURL(trimmed)

	return &Client{client: client, secret: secret}, nil
}

func (c *Client) SendProgress(ctx context.Context, event ProgressEvent) error {
	return c.post(ctx, ProgressPath, event)
}

func (c *Client) SendCompletion(ctx context.Context, event CompletionEvent) error {
	return c.post(ctx, CompletionPath, event)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(SecretHeader, c.secret).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("relay request to %s failed: %w", path, err)
	}

	status := response.StatusCode()
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return fmt.Errorf("relay %s returned status %d", path, status)
	}
	return nil
}
