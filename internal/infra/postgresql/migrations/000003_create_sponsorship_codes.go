package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"gorm.io/gorm"
)

func createSponsorshipCodesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_sponsorship_codes",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SponsorshipCodeModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_sponsorship_codes_claim ON sponsorship_codes (claimed_job_id, claimed_row) WHERE claimed_job_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_sponsorship_codes_available ON sponsorship_codes (purchase_id, created_at) WHERE is_used = false AND claimed_job_id IS NULL AND distributed_at IS NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SponsorshipCodeModel{})
		},
	}
}
