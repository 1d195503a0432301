package identity

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidOwnerID indicates that a tenant identifier is empty or exceeds storage bounds.
	ErrInvalidOwnerID = errors.New("identity: invalid owner id")
	// ErrInvalidEditorID indicates that an editor identifier is empty or exceeds storage bounds.
	ErrInvalidEditorID = errors.New("identity: invalid editor id")
)

// OwnerID identifies the tenant/organization partitioning all data.
type OwnerID string

// NewOwnerID validates raw input and returns an OwnerID.
func NewOwnerID(rawInput string) (OwnerID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOwnerID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOwnerID, maxIdentifierLength)
	}
	return OwnerID(trimmed), nil
}

// String returns the underlying string identifier.
func (id OwnerID) String() string {
	return string(id)
}

// EditorID identifies the individual user performing an edit or publish.
type EditorID string

// NewEditorID validates raw input and returns an EditorID.
func NewEditorID(rawInput string) (EditorID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEditorID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEditorID, maxIdentifierLength)
	}
	return EditorID(trimmed), nil
}

// String returns the underlying string identifier.
func (id EditorID) String() string {
	return string(id)
}

// Principal is the resolved caller of a management API request: the tenant
// whose data is in scope and the individual editor acting within it.
type Principal struct {
	Owner  OwnerID
	Editor EditorID
}
