package mappings

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrActiveRowChanged is returned by Publish when the previously active row
// was concurrently retired by another publish. The caller lost the race and
// must re-read before retrying.
var ErrActiveRowChanged = errors.New("mappings: active row changed concurrently")

// RecordStore is the persistence contract the mapping engine depends on.
type RecordStore interface {
	GetAll(ctx context.Context, ownerID, mappingID string) ([]Mapping, error)
	GetUserDraft(ctx context.Context, ownerID, mappingID, editorID string) (*Mapping, error)
	GetActivePublished(ctx context.Context, ownerID, mappingID string) (*Mapping, error)
	GetActiveMappings(ctx context.Context, ownerID string) ([]Mapping, error)
	CreateDraft(ctx context.Context, draft Mapping) error
	UpdateDraft(ctx context.Context, ownerID, mappingID, editorID string, updates map[string]interface{}) error
	Publish(ctx context.Context, published Mapping, priorActive *Mapping, draftRevision string) error
	SetPipelineHandle(ctx context.Context, ownerID, mappingID, revision, handle string) error
}

// SQLRecordStore implements RecordStore over a relational database.
type SQLRecordStore struct {
	db *gorm.DB
}

// NewSQLRecordStore constructs the SQL-backed mapping record store.
func NewSQLRecordStore(db *gorm.DB) (*SQLRecordStore, error) {
	if db == nil {
		return nil, errors.New("mappings: database handle is required")
	}
	return &SQLRecordStore{db: db}, nil
}

// GetAll returns every row (drafts and published revisions) for one mapping.
func (s *SQLRecordStore) GetAll(ctx context.Context, ownerID, mappingID string) ([]Mapping, error) {
	var rows []Mapping
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND mapping_id = ?", ownerID, mappingID).
		Order("revision ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetUserDraft returns the editor's draft row, or nil when absent.
func (s *SQLRecordStore) GetUserDraft(ctx context.Context, ownerID, mappingID, editorID string) (*Mapping, error) {
	var row Mapping
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND mapping_id = ? AND revision = ? AND status = ?", ownerID, mappingID, editorID, StatusDraft).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetActivePublished returns the single live published row, or nil before the
// first publish.
func (s *SQLRecordStore) GetActivePublished(ctx context.Context, ownerID, mappingID string) (*Mapping, error) {
	var row Mapping
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND mapping_id = ? AND status = ? AND active = ?", ownerID, mappingID, StatusPublished, true).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetActiveMappings returns every live published mapping for a tenant.
func (s *SQLRecordStore) GetActiveMappings(ctx context.Context, ownerID string) ([]Mapping, error) {
	var rows []Mapping
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND status = ? AND active = ?", ownerID, StatusPublished, true).
		Order("mapping_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateDraft inserts a new draft row.
func (s *SQLRecordStore) CreateDraft(ctx context.Context, draft Mapping) error {
	return s.db.WithContext(ctx).Create(&draft).Error
}

// UpdateDraft applies a partial update to the editor's draft row.
func (s *SQLRecordStore) UpdateDraft(ctx context.Context, ownerID, mappingID, editorID string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&Mapping{}).
		Where("owner_id = ? AND mapping_id = ? AND revision = ? AND status = ?", ownerID, mappingID, editorID, StatusDraft).
		Updates(updates).Error
}

// Publish applies the publish transition as one transaction: retire the
// prior active row with a conditional update, insert the new published row,
// and delete the publishing editor's draft. The conditional update (and the
// new row's revision being part of the primary key) rejects the slower of
// two concurrent publishes instead of letting both claim the same revision.
func (s *SQLRecordStore) Publish(ctx context.Context, published Mapping, priorActive *Mapping, draftRevision string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if priorActive != nil {
			result := tx.Model(&Mapping{}).
				Where("owner_id = ? AND mapping_id = ? AND revision = ? AND active = ?",
					priorActive.OwnerID, priorActive.MappingID, priorActive.Revision, true).
				Update("active", false)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected != 1 {
				return fmt.Errorf("%w: revision %s", ErrActiveRowChanged, priorActive.Revision)
			}
		}
		if err := tx.Create(&published).Error; err != nil {
			return err
		}
		return tx.
			Where("owner_id = ? AND mapping_id = ? AND revision = ? AND status = ?",
				published.OwnerID, published.MappingID, draftRevision, StatusDraft).
			Delete(&Mapping{}).Error
	})
}

// SetPipelineHandle records the workflow-engine handle on a published row.
func (s *SQLRecordStore) SetPipelineHandle(ctx context.Context, ownerID, mappingID, revision, handle string) error {
	return s.db.WithContext(ctx).
		Model(&Mapping{}).
		Where("owner_id = ? AND mapping_id = ? AND revision = ?", ownerID, mappingID, revision).
		Update("pipeline_handle", handle).Error
}
