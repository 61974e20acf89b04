package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FlagRepository interface {
	Load(ctx context.Context) (domain.MessagingFlags, error)
	Set(ctx context.Context, channel domain.DeliveryChannel, enabled bool) error
}

type GormFlagRepo struct {
	db *gorm.DB
}

func NewGormFlagRepo(db *gorm.DB) *GormFlagRepo {
	return &GormFlagRepo{db: db}
}

// Load reads every channel switch. Channels without a row stay disabled.
func (r *GormFlagRepo) Load(ctx context.Context) (domain.MessagingFlags, error) {
	var models []MessagingFeatureModel
	if err := r.db.WithContext(ctx).Find(&models).Error; err != nil {
		return domain.MessagingFlags{}, err
	}

	flags := domain.MessagingFlags{LoadedAt: time.Now()}
	for _, m := range models {
		switch m.Channel {
		case domain.ChannelSMS:
			flags.SMS = m.Enabled
		case domain.ChannelWhatsApp:
			flags.WhatsApp = m.Enabled
		case domain.ChannelEmail:
			flags.Email = m.Enabled
		}
	}
	return flags, nil
}

func (r *GormFlagRepo) Set(ctx context.Context, channel domain.DeliveryChannel, enabled bool) error {
	model := MessagingFeatureModel{Channel: channel, Enabled: enabled, UpdatedAt: time.Now()}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
		}).
		Create(&model).Error
}
