package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"gorm.io/gorm"
)

func createUsersAndSubscriptionsTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_users_and_subscriptions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.UserModel{}, &repository.SubscriptionModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (email) WHERE email IS NOT NULL`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_phone ON users (phone) WHERE phone IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SubscriptionModel{}, &repository.UserModel{})
		},
	}
}
