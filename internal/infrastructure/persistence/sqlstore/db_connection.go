// Package sqlstore implements the durable queue and audit log stores on
// gorm. Production runs on PostgreSQL; tests run the same code on an
// in-memory SQLite database.
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/replyflow/replyflow/internal/config"
	"github.com/replyflow/replyflow/internal/domain/models"
	"github.com/replyflow/replyflow/pkg/errors"
	"github.com/replyflow/replyflow/pkg/logger"
)

// DBConnection owns the gorm handle and schema migration.
type DBConnection struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewDBConnection opens the configured database and migrates the subsystem's
// tables.
func NewDBConnection(cfg *config.DatabaseConfig, log logger.Logger) (*DBConnection, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.ErrStoreUnavailable("failed to open database").WithCause(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.ErrStoreUnavailable("failed to access sql handle").WithCause(err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	}

	if err := db.AutoMigrate(&models.QueueItem{}, &models.RateLimitLogEntry{}); err != nil {
		return nil, errors.ErrStoreUnavailable("failed to migrate schema").WithCause(err)
	}

	log.Info(context.Background(), "database connection established",
		logger.String("driver", cfg.Driver))

	return &DBConnection{db: db, logger: log}, nil
}

// NewTestDBConnection opens a private in-memory SQLite database with the
// subsystem schema. Each call gets its own database so tests stay isolated.
func NewTestDBConnection(log logger.Logger) (*DBConnection, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return NewDBConnection(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    dsn,
	}, log)
}

func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		return sqlite.Open(dsn), nil
	}
	return nil, errors.ErrInvalidRequest(fmt.Sprintf("unsupported database driver %q", cfg.Driver))
}

// DB exposes the gorm handle to the repositories in this package.
func (c *DBConnection) DB() *gorm.DB { return c.db }

// Ping reports whether the database is reachable. Used by the readiness
// probe.
func (c *DBConnection) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (c *DBConnection) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
