package scripts

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrScriptMissing is returned by the record store when a script record does
// not exist for the requested (owner, script) pair.
var ErrScriptMissing = errors.New("scripts: script record not found")

// RecordStore is the persistence contract the engine depends on.
type RecordStore interface {
	GetScript(ctx context.Context, ownerID, scriptID string) (*Script, error)
	CreateScript(ctx context.Context, script Script) error
	QueryByOwner(ctx context.Context, ownerID string) ([]Script, error)
	ListReleases(ctx context.Context, ownerID, scriptID string) ([]Release, error)
	GetDraft(ctx context.Context, ownerID, scriptID, editorID string) (*Draft, error)
	ListEditorDrafts(ctx context.Context, ownerID, editorID string) ([]Draft, error)
	UpsertDraft(ctx context.Context, draft Draft) error
	DeleteDraft(ctx context.Context, ownerID, scriptID, editorID string) error
	AppendReleaseClearingDraft(ctx context.Context, release Release, editorID string) error
}

// SQLRecordStore implements RecordStore over a relational database.
type SQLRecordStore struct {
	db *gorm.DB
}

// NewSQLRecordStore constructs the SQL-backed script record store.
func NewSQLRecordStore(db *gorm.DB) (*SQLRecordStore, error) {
	if db == nil {
		return nil, errors.New("scripts: database handle is required")
	}
	return &SQLRecordStore{db: db}, nil
}

// GetScript loads one script record or ErrScriptMissing.
func (s *SQLRecordStore) GetScript(ctx context.Context, ownerID, scriptID string) (*Script, error) {
	var script Script
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND script_id = ?", ownerID, scriptID).
		Take(&script).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrScriptMissing
	}
	if err != nil {
		return nil, err
	}
	return &script, nil
}

// CreateScript persists a newly minted script record.
func (s *SQLRecordStore) CreateScript(ctx context.Context, script Script) error {
	return s.db.WithContext(ctx).Create(&script).Error
}

// QueryByOwner returns every script record owned by the tenant.
func (s *SQLRecordStore) QueryByOwner(ctx context.Context, ownerID string) ([]Script, error) {
	var all []Script
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at_s ASC, script_id ASC").
		Find(&all).Error
	if err != nil {
		return nil, err
	}
	return all, nil
}

// ListReleases returns the append-only release history for a script, oldest first.
func (s *SQLRecordStore) ListReleases(ctx context.Context, ownerID, scriptID string) ([]Release, error) {
	var releases []Release
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND script_id = ?", ownerID, scriptID).
		Order("seq ASC").
		Find(&releases).Error
	if err != nil {
		return nil, err
	}
	return releases, nil
}

// GetDraft returns the editor's draft for a script, or nil when absent.
func (s *SQLRecordStore) GetDraft(ctx context.Context, ownerID, scriptID, editorID string) (*Draft, error) {
	var draft Draft
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND script_id = ? AND edited_by = ?", ownerID, scriptID, editorID).
		Take(&draft).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

// ListEditorDrafts returns all drafts one editor holds across an owner's scripts.
func (s *SQLRecordStore) ListEditorDrafts(ctx context.Context, ownerID, editorID string) ([]Draft, error) {
	var drafts []Draft
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND edited_by = ?", ownerID, editorID).
		Find(&drafts).Error
	if err != nil {
		return nil, err
	}
	return drafts, nil
}

// UpsertDraft inserts or replaces the editor's draft row. Rows for other
// editors are untouched because the editor id is part of the key.
func (s *SQLRecordStore) UpsertDraft(ctx context.Context, draft Draft) error {
	return s.db.WithContext(ctx).Save(&draft).Error
}

// DeleteDraft removes the editor's draft row. Deleting an absent draft is a no-op.
func (s *SQLRecordStore) DeleteDraft(ctx context.Context, ownerID, scriptID, editorID string) error {
	return s.db.WithContext(ctx).
		Where("owner_id = ? AND script_id = ? AND edited_by = ?", ownerID, scriptID, editorID).
		Delete(&Draft{}).Error
}

// AppendReleaseClearingDraft appends the release row and removes the
// releasing editor's draft in one transaction, so a crash between the two
// steps can never surface a release alongside a still-live draft.
func (s *SQLRecordStore) AppendReleaseClearingDraft(ctx context.Context, release Release, editorID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&release).Error; err != nil {
			return err
		}
		return tx.
			Where("owner_id = ? AND script_id = ? AND edited_by = ?", release.OwnerID, release.ScriptID, editorID).
			Delete(&Draft{}).Error
	})
}
