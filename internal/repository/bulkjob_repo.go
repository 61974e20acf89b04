package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"gorm.io/gorm"
)

type JobListParams struct {
	OwnerID  *string
	JobType  *domain.JobType
	Status   *domain.JobStatus
	Page     int
	PageSize int
}

// RowResult is what gets recorded for one processed row.
type RowResult struct {
	JobID      string
	RowNumber  int
	Outcome    domain.RowOutcome
	RecordedAt time.Time
}

type BulkJobRepository interface {
	Create(ctx context.Context, j *domain.BulkJob) error
	GetByID(ctx context.Context, id string) (*domain.BulkJob, error)
	List(ctx context.Context, params JobListParams) ([]domain.BulkJob, int64, error)
	// ApplyOutcome records the row and increments the job counters in one
	// statement. A row that was already recorded increments nothing and comes
	// back with Counters.Duplicate set.
	ApplyOutcome(ctx context.Context, result RowResult) (domain.Counters, error)
	// IsRecorded reports whether an outcome for the row already exists.
	IsRecorded(ctx context.Context, jobID string, rowNumber int) (bool, error)
	// MarkTerminal moves a fully processed job out of PROCESSING. It reports
	// true only for the single caller whose update took effect.
	MarkTerminal(ctx context.Context, jobID string, status domain.JobStatus, at time.Time) (bool, error)
	SetResultFileURL(ctx context.Context, jobID, url string) error
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.BulkJob, error)
	// ForceFinalize counts every unrecorded row of a stuck job as failed.
	ForceFinalize(ctx context.Context, jobID string, reason string, at time.Time) (domain.Counters, error)
}

type GormBulkJobRepo struct {
	db *gorm.DB
}

func NewGormBulkJobRepo(db *gorm.DB) *GormBulkJobRepo {
	return &GormBulkJobRepo{db: db}
}

type countersRow struct {
	ID             string           `gorm:"column:id"`
	OwnerID        string           `gorm:"column:owner_id"`
	JobType        domain.JobType   `gorm:"column:job_type"`
	Status         domain.JobStatus `gorm:"column:status"`
	TotalItems     int              `gorm:"column:total_items"`
	ProcessedItems int              `gorm:"column:processed_items"`
	SuccessCount   int              `gorm:"column:success_count"`
	FailureCount   int              `gorm:"column:failure_count"`
}

func (c countersRow) toDomain() domain.Counters {
	return domain.Counters{
		JobID:          c.ID,
		OwnerID:        c.OwnerID,
		JobType:        c.JobType,
		Status:         c.Status,
		TotalItems:     c.TotalItems,
		ProcessedItems: c.ProcessedItems,
		SuccessCount:   c.SuccessCount,
		FailureCount:   c.FailureCount,
	}
}

func (r *GormBulkJobRepo) Create(ctx context.Context, j *domain.BulkJob) error {
	model, err := bulkJobModelFromDomain(j)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if j != nil {
		created, err := bulkJobModelToDomain(model)
		if err != nil {
			return err
		}
		*j = *created
	}
	return nil
}

func (r *GormBulkJobRepo) GetByID(ctx context.Context, id string) (*domain.BulkJob, error) {
	var model BulkJobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return bulkJobModelToDomain(&model)
}

func (r *GormBulkJobRepo) List(ctx context.Context, params JobListParams) ([]domain.BulkJob, int64, error) {
	query := r.db.WithContext(ctx).Model(&BulkJobModel{})

	if params.OwnerID != nil {
		query = query.Where("owner_id = ?", *params.OwnerID)
	}
	if params.JobType != nil {
		query = query.Where("job_type = ?", *params.JobType)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	pageSize = min(pageSize, 100)

	var models []BulkJobModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	jobs := make([]domain.BulkJob, 0, len(models))
	for i := range models {
		job, err := bulkJobModelToDomain(&models[i])
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *job)
	}

	return jobs, total, nil
}

// applyOutcomeSQL inserts the row marker and bumps the counters together. The
// UPDATE joins on the marker CTE, so a row that is already recorded (conflict,
// nothing inserted) leaves the job untouched and returns no row.
//
// Assumes READ COMMITTED. Concurrent rows of the same job serialize on the
// bulk_jobs row lock taken by the UPDATE; the waiter re-reads the committed
// row before applying its SET, so the error_summary append and the counter
// increments build on the latest values instead of the statement snapshot.
// Under REPEATABLE READ the waiter would fail with a serialization error.
const applyOutcomeSQL = `
WITH marker AS (
	INSERT INTO bulk_job_rows (job_id, row_number, success, identifier, error_message, created_at)
	SELECT j.id, CAST(@row AS int), CAST(@success AS boolean), CAST(@identifier AS text),
	       CAST(@error_message AS text), CAST(@now AS timestamptz)
	FROM bulk_jobs j
	WHERE j.id = @job_id
	  AND CAST(@row AS int) BETWEEN 1 AND j.total_items
	  AND j.processed_items < j.total_items
	ON CONFLICT (job_id, row_number) DO NOTHING
	RETURNING job_id
)
UPDATE bulk_jobs AS j SET
	processed_items = j.processed_items + 1,
	success_count = j.success_count + CASE WHEN CAST(@success AS boolean) THEN 1 ELSE 0 END,
	failure_count = j.failure_count + CASE WHEN CAST(@success AS boolean) THEN 0 ELSE 1 END,
	status = CASE WHEN j.status = 'PENDING' THEN 'PROCESSING' ELSE j.status END,
	started_at = COALESCE(j.started_at, CAST(@now AS timestamptz)),
	error_summary = j.error_summary || CAST(@error_entry AS jsonb),
	updated_at = CAST(@now AS timestamptz)
FROM marker
WHERE j.id = marker.job_id
  AND j.processed_items < j.total_items
RETURNING j.id, j.owner_id, j.job_type, j.status, j.total_items, j.processed_items, j.success_count, j.failure_count`

func (r *GormBulkJobRepo) ApplyOutcome(ctx context.Context, result RowResult) (domain.Counters, error) {
	var errorMessage *string
	entry := []domain.RowError{}
	if !result.Outcome.Success {
		msg := result.Outcome.ErrorDetail
		errorMessage = &msg
		entry = append(entry, domain.RowError{
			RowNumber:    result.RowNumber,
			Identifier:   result.Outcome.Identifier,
			ErrorMessage: msg,
			Timestamp:    result.RecordedAt.UTC(),
		})
	}
	rawEntry, err := json.Marshal(entry)
	if err != nil {
		return domain.Counters{}, err
	}

	var rows []countersRow
	err = r.db.WithContext(ctx).Raw(applyOutcomeSQL, map[string]any{
		"job_id":        result.JobID,
		"row":           result.RowNumber,
		"success":       result.Outcome.Success,
		"identifier":    truncate(result.Outcome.Identifier, 255),
		"error_message": errorMessage,
		"error_entry":   string(rawEntry),
		"now":           result.RecordedAt,
	}).Scan(&rows).Error
	if err != nil {
		return domain.Counters{}, err
	}
	if len(rows) == 1 {
		return rows[0].toDomain(), nil
	}

	// Nothing was incremented; find out why.
	job, err := r.GetByID(ctx, result.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Counters{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.Counters{}, err
	}
	if result.RowNumber < 1 || result.RowNumber > job.TotalItems {
		return domain.Counters{}, errRowOutOfRange(result.RowNumber, job.TotalItems)
	}

	counters := job.Counters()
	counters.Duplicate = true
	return counters, nil
}

func (r *GormBulkJobRepo) IsRecorded(ctx context.Context, jobID string, rowNumber int) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&BulkJobRowModel{}).
		Where("job_id = ? AND row_number = ?", jobID, rowNumber).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormBulkJobRepo) MarkTerminal(ctx context.Context, jobID string, status domain.JobStatus, at time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, errNotTerminal(status)
	}

	result := r.db.WithContext(ctx).
		Model(&BulkJobModel{}).
		Where("id = ? AND status = ? AND processed_items = total_items", jobID, domain.JobStatusProcessing).
		Updates(map[string]any{
			"status":       status,
			"completed_at": at,
			"updated_at":   at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormBulkJobRepo) SetResultFileURL(ctx context.Context, jobID, url string) error {
	result := r.db.WithContext(ctx).
		Model(&BulkJobModel{}).
		Where("id = ? AND status IN ?", jobID, terminalStatuses).
		Updates(map[string]any{
			"result_file_url": url,
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrConflict
}

func (r *GormBulkJobRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.BulkJob, error) {
	var models []BulkJobModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing}, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.BulkJob, 0, len(models))
	for i := range models {
		job, err := bulkJobModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// forceFinalizeSQL relies on the same READ COMMITTED re-read as
// applyOutcomeSQL when it races a late row outcome.
const forceFinalizeSQL = `
UPDATE bulk_jobs SET
	failure_count = failure_count + (total_items - processed_items),
	processed_items = total_items,
	status = 'PROCESSING',
	started_at = COALESCE(started_at, CAST(@now AS timestamptz)),
	error_summary = error_summary || CAST(@error_entry AS jsonb),
	updated_at = CAST(@now AS timestamptz)
WHERE id = @job_id
  AND status IN ('PENDING', 'PROCESSING')
  AND processed_items < total_items
RETURNING id, owner_id, job_type, status, total_items, processed_items, success_count, failure_count`

func (r *GormBulkJobRepo) ForceFinalize(ctx context.Context, jobID string, reason string, at time.Time) (domain.Counters, error) {
	rawEntry, err := json.Marshal([]domain.RowError{{
		RowNumber:    0,
		ErrorMessage: reason,
		Timestamp:    at.UTC(),
	}})
	if err != nil {
		return domain.Counters{}, err
	}

	var rows []countersRow
	err = r.db.WithContext(ctx).Raw(forceFinalizeSQL, map[string]any{
		"job_id":      jobID,
		"error_entry": string(rawEntry),
		"now":         at,
	}).Scan(&rows).Error
	if err != nil {
		return domain.Counters{}, err
	}
	if len(rows) == 1 {
		return rows[0].toDomain(), nil
	}

	// Already complete; hand back the current counters so the caller can still
	// attempt the terminal transition.
	job, err := r.GetByID(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Counters{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.Counters{}, err
	}
	return job.Counters(), nil
}

var terminalStatuses = []domain.JobStatus{
	domain.JobStatusCompleted,
	domain.JobStatusPartialSuccess,
	domain.JobStatusFailed,
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
