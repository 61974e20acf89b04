package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InvitationRepository interface {
	// CreateForRow inserts the invitation for (job, row) unless one exists and
	// returns whichever is stored.
	CreateForRow(ctx context.Context, inv *domain.Invitation) (*domain.Invitation, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
}

type GormInvitationRepo struct {
	db *gorm.DB
}

func NewGormInvitationRepo(db *gorm.DB) *GormInvitationRepo {
	return &GormInvitationRepo{db: db}
}

func (r *GormInvitationRepo) CreateForRow(ctx context.Context, inv *domain.Invitation) (*domain.Invitation, error) {
	model := invitationModelFromDomain(inv)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "row_number"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 1 {
		return invitationModelToDomain(model), nil
	}

	var existing InvitationModel
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND row_number = ?", inv.JobID, inv.RowNumber).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return invitationModelToDomain(&existing), nil
}

func (r *GormInvitationRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&InvitationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       domain.InvitationStatusSent,
			"link_sent_at": at,
			"updated_at":   at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
