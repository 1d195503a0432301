package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrPipelineMissing is returned when an update names a handle the engine has
// no record of.
var ErrPipelineMissing = errors.New("pipeline: pipeline does not exist")

// PipelineRecord is one registered pipeline in the SQL-backed engine.
type PipelineRecord struct {
	Handle           string         `gorm:"column:handle;primaryKey;size:64;not null"`
	Name             string         `gorm:"column:name;size:190;not null;uniqueIndex:idx_pipelines_name"`
	Type             string         `gorm:"column:type;size:16;not null"`
	Definition       datatypes.JSON `gorm:"column:definition;not null"`
	LogDestinationID string         `gorm:"column:log_destination_id;size:190"`
	LogLevel         string         `gorm:"column:log_level;size:16"`
	CreatedAtSeconds int64          `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PipelineRecord) TableName() string {
	return "pipelines"
}

// LogDestination is one provisioned execution-log stream.
type LogDestination struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	RetentionDays    int    `gorm:"column:retention_days;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LogDestination) TableName() string {
	return "pipeline_log_destinations"
}

// SQLEngine is the local workflow-engine registry. It records pipeline
// definitions and log destinations in the relational database and hands out
// opaque handles, standing in for an external orchestration service.
type SQLEngine struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewSQLEngine constructs the SQL-backed workflow engine registry.
func NewSQLEngine(db *gorm.DB, clock func() time.Time) (*SQLEngine, error) {
	if db == nil {
		return nil, errors.New("pipeline: database handle is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &SQLEngine{db: db, clock: clock}, nil
}

// Create registers a new pipeline and returns its handle.
func (e *SQLEngine) Create(ctx context.Context, input CreateInput) (string, error) {
	encoded, err := json.Marshal(input.Definition)
	if err != nil {
		return "", err
	}
	now := e.clock().UTC().Unix()
	record := PipelineRecord{
		Handle:           uuid.NewString(),
		Name:             input.Name,
		Type:             input.Type,
		Definition:       encoded,
		LogDestinationID: input.LogDestinationID,
		LogLevel:         input.LogLevel,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := e.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", err
	}
	return record.Handle, nil
}

// Update replaces the definition of an existing pipeline.
func (e *SQLEngine) Update(ctx context.Context, handle string, definition *Definition) error {
	encoded, err := json.Marshal(definition)
	if err != nil {
		return err
	}
	result := e.db.WithContext(ctx).
		Model(&PipelineRecord{}).
		Where("handle = ?", handle).
		Updates(map[string]interface{}{
			"definition":   datatypes.JSON(encoded),
			"updated_at_s": e.clock().UTC().Unix(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPipelineMissing
	}
	return nil
}

// EnsureDestination provisions the named log destination once and returns its
// identifier. Retention is fixed at creation time.
func (e *SQLEngine) EnsureDestination(ctx context.Context, name string, retentionDays int) (string, error) {
	var existing LogDestination
	err := e.db.WithContext(ctx).Where("name = ?", name).Take(&existing).Error
	if err == nil {
		return existing.Name, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}
	destination := LogDestination{
		Name:             name,
		RetentionDays:    retentionDays,
		CreatedAtSeconds: e.clock().UTC().Unix(),
	}
	if err := e.db.WithContext(ctx).Create(&destination).Error; err != nil {
		return "", err
	}
	return destination.Name, nil
}

// GetByHandle returns the stored pipeline record for a handle.
func (e *SQLEngine) GetByHandle(ctx context.Context, handle string) (*PipelineRecord, error) {
	var record PipelineRecord
	err := e.db.WithContext(ctx).Where("handle = ?", handle).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPipelineMissing
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
