package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sifan077/PowerPush/config"
	"github.com/sifan077/PowerPush/internal/app/model"
	"github.com/sifan077/PowerPush/internal/infra/postgres"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models lists every table the service owns, in migration order.
var Models = []interface{}{
	&model.User{},
	&model.Push{},
	&model.PushFile{},
	&model.AuditLog{},
}

// NewGorm returns a gorm.DB for the configured driver.
func NewGorm(cfg config.DatabaseConfig, pg config.PostgresConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath)
	case "postgres", "":
		return openPostgres(pg)
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", cfg.Driver)
	}
}

func openPostgres(cfg config.PostgresConfig) (*gorm.DB, error) {
	dsn := postgres.ConnString(cfg)
	db, err := gorm.Open(gormpostgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("database: open postgres connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: retrieve sql db: %w", err)
	}

	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// OpenSQLite opens a SQLite database. A single connection is used so that
// the push row lock degrades to whole-database serialization.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("database: open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: retrieve sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Warn),
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	}
}

// AutoMigrate uses GORM to perform schema migrations for the provided models.
func AutoMigrate(ctx context.Context, db *gorm.DB, models ...interface{}) error {
	if db == nil || len(models) == 0 {
		return nil
	}

	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("database: auto migrate: %w", err)
	}

	return nil
}
