package database

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gradebook/internal/config"
)

// DocumentRecord is the storage row of one document. Every collection
// shares the table; the document id is unique within its collection.
type DocumentRecord struct {
	Collection string            `gorm:"primaryKey;size:128"`
	ID         string            `gorm:"primaryKey;size:64"`
	Fields     datatypes.JSONMap `gorm:"not null"`
	Version    int64             `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (DocumentRecord) TableName() string {
	return "documents"
}

func InitDB(cfg config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		dialector = postgres.Open(cfg.PostgresDSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}
	if cfg.DBDriver == "sqlite" {
		// sqlite allows one writer; a single connection keeps commits serial
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	glog.Infof("[db]connected driver=%s\n", cfg.DBDriver)
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&DocumentRecord{}); err != nil {
		return fmt.Errorf("failed to auto-migrate the database: %w", err)
	}
	return nil
}

// OpenMemory opens a private in-memory sqlite database, for tests and
// local experiments.
func OpenMemory() (*gorm.DB, error) {
	return InitDB(config.Config{DBDriver: "sqlite", SQLitePath: ":memory:"})
}
