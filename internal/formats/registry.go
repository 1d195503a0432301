// Package formats exposes the registry of data formats a mapping can parse
// from and write to.
package formats

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// RegistryConfig describes the dependencies of the format registry.
type RegistryConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Registry resolves data formats by their upper-cased name.
type Registry struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRegistry constructs the format registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Registry{db: cfg.Database, logger: logger}, nil
}

// GetByName returns the format registered under the case-normalized name,
// or nil when no such format exists.
func (r *Registry) GetByName(ctx context.Context, name string) (*DataFormat, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	if normalized == "" {
		return nil, nil
	}

	var format DataFormat
	err := r.db.WithContext(ctx).
		Where("format_name = ?", normalized).
		Take(&format).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("format registry error",
			zap.String("operation", "formats.get_by_name"),
			zap.String("format_name", normalized),
			zap.Error(err))
		return nil, err
	}
	return &format, nil
}

// List returns all registered data formats.
func (r *Registry) List(ctx context.Context) ([]DataFormat, error) {
	var all []DataFormat
	if err := r.db.WithContext(ctx).Order("format_name ASC").Find(&all).Error; err != nil {
		r.logger.Error("format registry error",
			zap.String("operation", "formats.list"),
			zap.Error(err))
		return nil, err
	}
	return all, nil
}

// Seed registers the provided formats, skipping names already present.
func Seed(db *gorm.DB, entries []DataFormat) error {
	for _, entry := range entries {
		var existing DataFormat
		err := db.Where("format_name = ?", entry.FormatName).Take(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Create(&entry).Error; err != nil {
			return err
		}
	}
	return nil
}
