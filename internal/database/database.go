package database

import (
	"context"
	"fmt"

	"crypto-signal-bot-go/internal/config"
	"crypto-signal-bot-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDatabase opens the sqlite database and migrates the schema.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates or updates the tables of every model. Existing rows are kept.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.SignalRecord{}, &models.PricePoint{}, &models.PriceAlarm{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// NewSignalRepository returns the repository selected by cfg.Driver. The
// returned close function releases backend resources.
func NewSignalRepository(ctx context.Context, cfg config.Database, db *gorm.DB, logger *zap.Logger) (SignalRepository, func(), error) {
	switch cfg.Driver {
	case "postgres":
		repo, err := NewPgRepository(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using PostgreSQL signal repository")
		return repo, repo.Close, nil
	case "", "sqlite":
		logger.Info("Using SQLite signal repository", zap.String("dsn", cfg.DSN))
		return NewGormRepository(db), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
