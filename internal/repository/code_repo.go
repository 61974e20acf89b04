package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"gorm.io/gorm"
)

type CodeRepository interface {
	// FindClaimedByRow returns the code already claimed for (job, row), if any.
	FindClaimedByRow(ctx context.Context, jobID string, rowNumber int) (*domain.SponsorshipCode, error)
	// ClaimNext reserves one available code of the purchase for (job, row).
	// Concurrent callers never receive the same code.
	ClaimNext(ctx context.Context, purchaseID, jobID string, rowNumber int, now time.Time) (*domain.SponsorshipCode, error)
	MarkDistributed(ctx context.Context, codeID string, d domain.CodeDistribution) error
	Release(ctx context.Context, codeID string) error
	CountAvailable(ctx context.Context, purchaseID string, now time.Time) (int64, error)
}

type GormCodeRepo struct {
	db *gorm.DB
}

func NewGormCodeRepo(db *gorm.DB) *GormCodeRepo {
	return &GormCodeRepo{db: db}
}

func (r *GormCodeRepo) FindClaimedByRow(ctx context.Context, jobID string, rowNumber int) (*domain.SponsorshipCode, error) {
	var model SponsorshipCodeModel
	err := r.db.WithContext(ctx).
		Where("claimed_job_id = ? AND claimed_row = ?", jobID, rowNumber).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return codeModelToDomain(&model), nil
}

// claimNextSQL assumes READ COMMITTED. SKIP LOCKED passes over codes another
// claim holds right now. A code whose claim committed after this statement's
// snapshot is re-checked against the WHERE clause on its latest version and
// dropped because claimed_job_id is no longer NULL, so two rows never share a
// code. Under REPEATABLE READ that case raises a serialization error instead.
const claimNextSQL = `
UPDATE sponsorship_codes SET
	claimed_job_id = @job_id,
	claimed_row = @row,
	claimed_at = CAST(@now AS timestamptz),
	updated_at = CAST(@now AS timestamptz)
WHERE id = (
	SELECT id FROM sponsorship_codes
	WHERE purchase_id = @purchase_id
	  AND is_used = false
	  AND is_active = true
	  AND claimed_job_id IS NULL
	  AND distributed_at IS NULL
	  AND expiry_date > CAST(@now AS timestamptz)
	ORDER BY created_at, id
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

func (r *GormCodeRepo) ClaimNext(ctx context.Context, purchaseID, jobID string, rowNumber int, now time.Time) (*domain.SponsorshipCode, error) {
	var models []SponsorshipCodeModel
	err := r.db.WithContext(ctx).Raw(claimNextSQL, map[string]any{
		"job_id":      jobID,
		"row":         rowNumber,
		"purchase_id": purchaseID,
		"now":         now,
	}).Scan(&models).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// A redelivery of the same row won the claim concurrently.
		return r.FindClaimedByRow(ctx, jobID, rowNumber)
	}
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, domain.ErrNoCodesAvailable
	}
	return codeModelToDomain(&models[0]), nil
}

func (r *GormCodeRepo) MarkDistributed(ctx context.Context, codeID string, d domain.CodeDistribution) error {
	result := r.db.WithContext(ctx).
		Model(&SponsorshipCodeModel{}).
		Where("id = ?", codeID).
		Updates(map[string]any{
			"recipient_name":       d.RecipientName,
			"recipient_phone":      d.RecipientPhone,
			"redemption_link":      d.RedemptionLink,
			"distribution_channel": string(d.Channel),
			"distributed_at":       d.DistributedAt,
			"updated_at":           d.DistributedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormCodeRepo) Release(ctx context.Context, codeID string) error {
	result := r.db.WithContext(ctx).
		Model(&SponsorshipCodeModel{}).
		Where("id = ? AND distributed_at IS NULL", codeID).
		Updates(map[string]any{
			"claimed_job_id": nil,
			"claimed_row":    nil,
			"claimed_at":     nil,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormCodeRepo) CountAvailable(ctx context.Context, purchaseID string, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&SponsorshipCodeModel{}).
		Where("purchase_id = ? AND is_used = false AND is_active = true AND claimed_job_id IS NULL AND distributed_at IS NULL AND expiry_date > ?", purchaseID, now).
		Count(&count).Error
	return count, err
}
