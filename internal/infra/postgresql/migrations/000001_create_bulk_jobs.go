package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"gorm.io/gorm"
)

func createBulkJobsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_bulk_jobs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BulkJobModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE bulk_jobs ADD CONSTRAINT chk_bulk_jobs_counters CHECK (
					processed_items = success_count + failure_count
					AND processed_items >= 0
					AND processed_items <= total_items
					AND total_items >= 1)`,
				`ALTER TABLE bulk_jobs ADD CONSTRAINT chk_bulk_jobs_status CHECK (
					status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'PARTIAL_SUCCESS', 'FAILED'))`,
				`CREATE INDEX IF NOT EXISTS idx_bulk_jobs_owner_created ON bulk_jobs (owner_id, created_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_bulk_jobs_active ON bulk_jobs (updated_at) WHERE status IN ('PENDING', 'PROCESSING')`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BulkJobModel{})
		},
	}
}
