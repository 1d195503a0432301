package mappings

import "gorm.io/datatypes"

// Status enumerates the lifecycle states of a mapping row.
type Status string

const (
	// StatusDraft marks an editor's in-progress working copy.
	StatusDraft Status = "DRAFT"
	// StatusPublished marks an immutable published revision.
	StatusPublished Status = "PUBLISHED"
)

// Mapping is one row of a data mapping: either an editor's draft (revision ==
// editor id) or a published revision ("1", "2", ...). For a given mapping id
// at most one row is PUBLISHED and active.
type Mapping struct {
	OwnerID            string         `gorm:"column:owner_id;primaryKey;size:190;not null"`
	MappingID          string         `gorm:"column:mapping_id;primaryKey;size:64;not null"`
	Revision           string         `gorm:"column:revision;primaryKey;size:190;not null"`
	Status             Status         `gorm:"column:status;size:16;not null"`
	Active             bool           `gorm:"column:active;not null;default:false;index:idx_mappings_owner_active,priority:2"`
	CreatedBy          string         `gorm:"column:created_by;size:190;not null;index:idx_mappings_owner_active,priority:1"`
	CreatedAtSeconds   int64          `gorm:"column:created_at_s;not null"`
	Name               string         `gorm:"column:name;size:190;not null"`
	Description        string         `gorm:"column:description;size:512"`
	Sources            datatypes.JSON `gorm:"column:sources"`
	Output             datatypes.JSON `gorm:"column:output"`
	MappingSchema      datatypes.JSON `gorm:"column:mapping_schema"`
	Tags               datatypes.JSON `gorm:"column:tags"`
	PublishedBy        string         `gorm:"column:published_by;size:190"`
	PublishedAtSeconds int64          `gorm:"column:published_at_s"`
	Version            string         `gorm:"column:version;size:16"`
	PipelineHandle     string         `gorm:"column:pipeline_handle;size:256"`
}

// TableName provides the explicit table binding for GORM.
func (Mapping) TableName() string {
	return "mappings"
}

// Details is the engine's view of one mapping: the caller's own draft (nil
// when they have none) and the published revision history. Other editors'
// drafts are never surfaced.
type Details struct {
	Draft     *Mapping
	Revisions []Mapping
}

// SavePatch carries the subset of draft fields a save request touches. Nil
// fields are left unchanged.
type SavePatch struct {
	Name          *string
	Description   *string
	Sources       datatypes.JSON
	Output        datatypes.JSON
	MappingSchema datatypes.JSON
	Tags          datatypes.JSON
}
