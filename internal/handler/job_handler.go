package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/observability"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"github.com/kursadbilgin/bulkjob-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type JobService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*domain.BulkJob, error)
	GetByID(ctx context.Context, id string) (*domain.BulkJob, error)
	List(ctx context.Context, params repository.JobListParams) ([]domain.BulkJob, int64, error)
	SetResultFileURL(ctx context.Context, id, url string) (*domain.BulkJob, error)
}

type JobHandler struct {
	service JobService
}

func NewJobHandler(service JobService) (*JobHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("job service is required")
	}
	return &JobHandler{service: service}, nil
}

func RegisterJobRoutes(router fiber.Router, service JobService) error {
	h, err := NewJobHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/jobs", h.SubmitJob)
	v1.Get("/jobs/:id", h.GetJob)
	v1.Get("/jobs", h.ListJobs)
	v1.Put("/jobs/:id/result-file", h.SetResultFile)

	return nil
}

type submitJobRequest struct {
	OwnerID string              `json:"ownerId"`
	JobType string              `json:"jobType"`
	Config  jobConfigRequest    `json:"config"`
	Rows    []domain.RowPayload `json:"rows"`
}

type jobConfigRequest struct {
	DeliveryChannel     string `json:"deliveryChannel"`
	SendNotification    bool   `json:"sendNotification"`
	PurchaseID          string `json:"purchaseId"`
	SenderName          string `json:"senderName"`
	DefaultCodeCount    int    `json:"defaultCodeCount"`
	DefaultTierID       string `json:"defaultTierId"`
	DefaultDurationDays int    `json:"defaultDurationDays"`
	AutoActivate        bool   `json:"autoActivate"`
}

type resultFileRequest struct {
	URL string `json:"url"`
}

type jobResponse struct {
	ID                 string            `json:"id"`
	OwnerID            string            `json:"ownerId"`
	JobType            string            `json:"jobType"`
	Status             string            `json:"status"`
	Config             domain.JobConfig  `json:"config"`
	TotalItems         int               `json:"totalItems"`
	ProcessedItems     int               `json:"processedItems"`
	SuccessCount       int               `json:"successCount"`
	FailureCount       int               `json:"failureCount"`
	ProgressPercentage float64           `json:"progressPercentage"`
	ErrorSummary       []domain.RowError `json:"errorSummary"`
	ResultFileURL      *string           `json:"resultFileUrl,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	StartedAt          *time.Time        `json:"startedAt,omitempty"`
	CompletedAt        *time.Time        `json:"completedAt,omitempty"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

type listJobsResponse struct {
	Data []jobResponse `json:"data"`
	Meta listMeta      `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *JobHandler) SubmitJob(c *fiber.Ctx) error {
	var req submitJobRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	submit, err := requestToSubmit(req)
	if err != nil {
		return toHTTPError(err)
	}

	ctx := c.UserContext()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}

	job, err := h.service.Submit(ctx, submit)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toJobResponse(job))
}

func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	job, err := h.service.GetByID(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	jobs, total, err := h.service.List(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		data = append(data, toJobResponse(&jobs[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listJobsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *JobHandler) SetResultFile(c *fiber.Ctx) error {
	var req resultFileRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	id := strings.TrimSpace(c.Params("id"))
	job, err := h.service.SetResultFileURL(c.UserContext(), id, req.URL)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func parseListParams(c *fiber.Ctx) (repository.JobListParams, error) {
	params := repository.JobListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.JobListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.JobListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if ownerID := strings.TrimSpace(c.Query("ownerId")); ownerID != "" {
		params.OwnerID = &ownerID
	}

	if rawType := strings.TrimSpace(c.Query("jobType")); rawType != "" {
		jobType, err := domain.ParseJobTypeFromString(rawType)
		if err != nil {
			return repository.JobListParams{}, err
		}
		params.JobType = &jobType
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseJobStatusFromString(rawStatus)
		if err != nil {
			return repository.JobListParams{}, err
		}
		params.Status = &status
	}

	return params, nil
}

func requestToSubmit(req submitJobRequest) (service.SubmitRequest, error) {
	jobType, err := domain.ParseJobTypeFromString(req.JobType)
	if err != nil {
		return service.SubmitRequest{}, err
	}

	var channel domain.DeliveryChannel
	if strings.TrimSpace(req.Config.DeliveryChannel) != "" {
		channel, err = domain.ParseDeliveryChannelFromString(req.Config.DeliveryChannel)
		if err != nil {
			return service.SubmitRequest{}, err
		}
	}

	return service.SubmitRequest{
		OwnerID: strings.TrimSpace(req.OwnerID),
		JobType: jobType,
		Config: domain.JobConfig{
			DeliveryChannel:     channel,
			SendNotification:    req.Config.SendNotification,
			PurchaseID:          strings.TrimSpace(req.Config.PurchaseID),
			SenderName:          strings.TrimSpace(req.Config.SenderName),
			DefaultCodeCount:    req.Config.DefaultCodeCount,
			DefaultTierID:       strings.TrimSpace(req.Config.DefaultTierID),
			DefaultDurationDays: req.Config.DefaultDurationDays,
			AutoActivate:        req.Config.AutoActivate,
		},
		Rows: req.Rows,
	}, nil
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toJobResponse(j *domain.BulkJob) jobResponse {
	if j == nil {
		return jobResponse{}
	}

	errorSummary := j.ErrorSummary
	if errorSummary == nil {
		errorSummary = []domain.RowError{}
	}

	return jobResponse{
		ID:                 j.ID,
		OwnerID:            j.OwnerID,
		JobType:            j.JobType.String(),
		Status:             j.Status.String(),
		Config:             j.Config,
		TotalItems:         j.TotalItems,
		ProcessedItems:     j.ProcessedItems,
		SuccessCount:       j.SuccessCount,
		FailureCount:       j.FailureCount,
		ProgressPercentage: j.Counters().Percentage(),
		ErrorSummary:       errorSummary,
		ResultFileURL:      j.ResultFileURL,
		CreatedAt:          j.CreatedAt,
		StartedAt:          j.StartedAt,
		CompletedAt:        j.CompletedAt,
		UpdatedAt:          j.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
