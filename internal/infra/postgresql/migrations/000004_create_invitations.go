package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"gorm.io/gorm"
)

func createInvitationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_invitations",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.InvitationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_invitations_job_row ON invitations (job_id, row_number)`,
				`CREATE INDEX IF NOT EXISTS idx_invitations_owner ON invitations (owner_id, created_at DESC)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.InvitationModel{})
		},
	}
}
