package identity

import (
	"strings"
	"time"
)

// EditorIdentity maps a provider-qualified login subject to the canonical
// editor id used across script drafts and mapping revisions.
type EditorIdentity struct {
	Provider   string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject    string    `gorm:"column:subject;primaryKey;size:190;not null"`
	OwnerID    string    `gorm:"column:owner_id;size:190;not null;index"`
	EditorID   string    `gorm:"column:editor_id;size:190;not null;index"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing editor identities.
func (EditorIdentity) TableName() string {
	return "editor_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
