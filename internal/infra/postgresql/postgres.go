package postgresql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewPostgres opens the job store. maxOpenConns should cover every consumer
// of the process since each row holds a connection while it is recorded.
func NewPostgres(dsn string, maxOpenConns int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns < 5 {
		maxOpenConns = 5
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(max(maxOpenConns/4, 2))
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	var level string
	if err := db.WithContext(ctx).Raw("SHOW transaction_isolation").Scan(&level).Error; err != nil {
		return nil, fmt.Errorf("failed to read transaction isolation: %w", err)
	}
	if err := requireReadCommitted(level); err != nil {
		return nil, err
	}

	return db, nil
}

// requireReadCommitted guards the row-level concurrency of the job store:
// the counter update and the code claim re-read locked rows, which only
// READ COMMITTED does without raising serialization errors.
func requireReadCommitted(level string) error {
	if strings.EqualFold(strings.TrimSpace(level), "read committed") {
		return nil
	}
	return fmt.Errorf("postgres default isolation is %q, job store requires read committed", level)
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
