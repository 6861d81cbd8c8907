package pkg

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quizforge/core-service/internal/config"
	"github.com/quizforge/core-service/internal/models"
)

// InitDatabase opens the Postgres connection and migrates the shared
// collection tables. Single-writer state lives in the document store and
// is never migrated here.
func InitDatabase(cfg *config.Config) (*gorm.DB, error) {
	logLevel := gormlogger.Warn
	if cfg.Environment == "development" {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Class{},
		&models.ClassStudent{},
		&models.Assignment{},
		&models.Submission{},
		&models.Notification{},
	); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}
