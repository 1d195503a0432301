package scripts

import "fmt"

// Script is the record for one custom script owned by a tenant. Releases and
// drafts live in their own tables keyed back to (owner_id, script_id).
type Script struct {
	OwnerID          string `gorm:"column:owner_id;primaryKey;size:190;not null"`
	ScriptID         string `gorm:"column:script_id;primaryKey;size:64;not null"`
	Language         string `gorm:"column:language;size:64;not null"`
	Extension        string `gorm:"column:extension;size:16;not null"`
	Name             string `gorm:"column:name;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Script) TableName() string {
	return "scripts"
}

// Release is one immutable published snapshot of a script. Rows are
// append-only: never mutated, never removed.
type Release struct {
	Seq               int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	OwnerID           string `gorm:"column:owner_id;size:190;not null;index:idx_script_releases,priority:1"`
	ScriptID          string `gorm:"column:script_id;size:64;not null;index:idx_script_releases,priority:2"`
	VersionID         string `gorm:"column:version_id;size:64;not null"`
	EditedBy          string `gorm:"column:edited_by;size:190;not null"`
	SourceVersionID   string `gorm:"column:source_version_id;size:64;not null"`
	ReleasedAtSeconds int64  `gorm:"column:released_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Release) TableName() string {
	return "script_releases"
}

// Draft is the single in-progress unpublished change an editor holds for a
// script. Keying by (owner, script, editor) makes at-most-one-per-editor a
// schema invariant rather than a merge discipline.
type Draft struct {
	OwnerID         string  `gorm:"column:owner_id;primaryKey;size:190;not null"`
	ScriptID        string  `gorm:"column:script_id;primaryKey;size:64;not null"`
	EditedBy        string  `gorm:"column:edited_by;primaryKey;size:190;not null"`
	VersionID       string  `gorm:"column:version_id;size:64;not null"`
	SourceVersionID *string `gorm:"column:source_version_id;size:64"`
	EditedAtSeconds int64   `gorm:"column:edited_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Draft) TableName() string {
	return "script_drafts"
}

// Listing pairs a script with its release history and the caller's own draft,
// if any. Other editors' drafts are never part of a listing.
type Listing struct {
	Script   Script
	Releases []Release
	Draft    *Draft
}

// Metadata carries the attributes needed to create a new script.
type Metadata struct {
	Language  string
	Extension string
	Name      string
}

// SaveRequest is the input to Save. Exactly one of ScriptID or Metadata must
// be set: metadata creates a new script, a script id edits an existing one.
type SaveRequest struct {
	ScriptID        string
	Metadata        *Metadata
	Script          string
	SourceVersionID string
}

// draftKey is the content-store key for an editor's private working copy.
// The owner-prefixed filename keeps draft lineage separate from releases.
func draftKey(ownerID, scriptID, extension string) string {
	return fmt.Sprintf("%s/%s_%s.%s", scriptID, ownerID, scriptID, extension)
}

// releaseKey is the content-store key for the published lineage of a script.
// Script ids are globally unique, so the key carries no owner prefix.
func releaseKey(scriptID, extension string) string {
	return fmt.Sprintf("%s/%s.%s", scriptID, scriptID, extension)
}
