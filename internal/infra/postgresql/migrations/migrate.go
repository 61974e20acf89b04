package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func all() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createBulkJobsTable(),
		createBulkJobRowsTable(),
		createSponsorshipCodesTable(),
		createInvitationsTable(),
		createUsersAndSubscriptionsTables(),
		createMessagingFeaturesTable(),
	}
}

func Migrate(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, all()).Migrate()
}

// RollbackLast undoes the most recently applied migration.
func RollbackLast(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, all()).RollbackLast()
}

func execAll(tx *gorm.DB, statements []string) error {
	for _, sql := range statements {
		if err := tx.Exec(sql).Error; err != nil {
			return err
		}
	}
	return nil
}
