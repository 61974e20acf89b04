package main

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/bulkjob-engine/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/bulkjob-engine/internal/infra/redis"
	"github.com/kursadbilgin/bulkjob-engine/internal/observability"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ctlConfig is the subset of the service environment the operator tool
// needs. Only the database is mandatory; commands that need more say so.
type ctlConfig struct {
	DatabaseDSN         string `env:"DATABASE_DSN,required=true"`
	RedisURL            string `env:"REDIS_URL"`
	RabbitMQURL         string `env:"RABBITMQ_URL"`
	RelayBaseURL        string `env:"RELAY_BASE_URL"`
	RelayInternalSecret string `env:"RELAY_INTERNAL_SECRET"`
	RelayTimeoutSec     int    `env:"RELAY_TIMEOUT_SEC,default=5"`
	LogLevel            string `env:"LOG_LEVEL,default=warn"`
}

func loadCtlConfig() (*ctlConfig, error) {
	var cfg ctlConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *ctlConfig) relayTimeout() time.Duration {
	return time.Duration(c.RelayTimeoutSec) * time.Second
}

// session holds the connections opened for one command.
type session struct {
	cfg    *ctlConfig
	logger *zap.Logger
	db     *gorm.DB
	rdb    *goredis.Client
}

func openSession(withRedis bool) (*session, error) {
	cfg, err := loadCtlConfig()
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, 2)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, logger: logger, db: db}
	if withRedis {
		if cfg.RedisURL == "" {
			s.close()
			return nil, fmt.Errorf("REDIS_URL is required for this command")
		}
		rdb, err := infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			s.close()
			return nil, err
		}
		s.rdb = rdb
	}
	return s, nil
}

func (s *session) close() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.db != nil {
		_ = postgresql.Close(s.db)
	}
	_ = s.logger.Sync()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bulkctl",
		Short:         "Operator tool for the bulk job engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		newMigrateCmd(),
		newRollbackCmd(),
		newReconcileCmd(),
		newJobCmd(),
		newFlagsCmd(),
	)
	return root
}
