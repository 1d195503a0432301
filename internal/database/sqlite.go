package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/interconnecthub/console/internal/blobstore"
	"github.com/interconnecthub/console/internal/formats"
	"github.com/interconnecthub/console/internal/identity"
	"github.com/interconnecthub/console/internal/mappings"
	"github.com/interconnecthub/console/internal/pipeline"
	"github.com/interconnecthub/console/internal/scripts"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&blobstore.BlobVersion{},
		&formats.DataFormat{},
		&identity.EditorIdentity{},
		&scripts.Script{},
		&scripts.Release{},
		&scripts.Draft{},
		&mappings.Mapping{},
		&pipeline.PipelineRecord{},
		&pipeline.LogDestination{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
