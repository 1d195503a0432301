package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
)

// BlobVersion is one immutable version of a stored blob.
type BlobVersion struct {
	Seq              int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	Key              string `gorm:"column:blob_key;size:512;not null;index:idx_blob_versions_key,priority:1;uniqueIndex:idx_blob_key_version,priority:1"`
	VersionID        string `gorm:"column:version_id;size:64;not null;uniqueIndex:idx_blob_key_version,priority:2"`
	Data             []byte `gorm:"column:data;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (BlobVersion) TableName() string {
	return "blob_versions"
}

// SQLStoreConfig describes the dependencies of the SQL-backed store.
type SQLStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// SQLStore keeps blob version history in a relational table.
type SQLStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewSQLStore constructs the SQL-backed versioned blob store.
func NewSQLStore(cfg SQLStoreConfig) (*SQLStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SQLStore{db: cfg.Database, clock: clock}, nil
}

// Put appends a new version of the blob at key and returns its version id.
func (s *SQLStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blobstore: key is required")
	}
	versionID := uuid.NewString()
	record := BlobVersion{
		Key:              key,
		VersionID:        versionID,
		Data:             data,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", err
	}
	return versionID, nil
}

// Get returns the bytes stored at key. An empty versionID resolves the
// latest version.
func (s *SQLStore) Get(ctx context.Context, key string, versionID string) ([]byte, error) {
	query := s.db.WithContext(ctx).Where("blob_key = ?", key)
	if versionID != "" {
		query = query.Where("version_id = ?", versionID)
	}

	var record BlobVersion
	err := query.Order("seq DESC").Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record.Data, nil
}
