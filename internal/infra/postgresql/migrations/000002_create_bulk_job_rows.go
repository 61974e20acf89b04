package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"gorm.io/gorm"
)

func createBulkJobRowsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_bulk_job_rows",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BulkJobRowModel{}); err != nil {
				return err
			}
			return tx.Exec(`ALTER TABLE bulk_job_rows ADD CONSTRAINT fk_bulk_job_rows_job
				FOREIGN KEY (job_id) REFERENCES bulk_jobs (id) ON DELETE CASCADE`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BulkJobRowModel{})
		},
	}
}
