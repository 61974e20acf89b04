package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"gorm.io/gorm"
)

func createMessagingFeaturesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000006_create_messaging_features",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.MessagingFeatureModel{}); err != nil {
				return err
			}
			return tx.Exec(`INSERT INTO messaging_features (channel, enabled, updated_at)
				VALUES ('SMS', true, now()), ('WHATSAPP', false, now()), ('EMAIL', true, now())
				ON CONFLICT (channel) DO NOTHING`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.MessagingFeatureModel{})
		},
	}
}
