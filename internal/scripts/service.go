// Package scripts implements the custom-script versioning engine: per-editor
// unpublished drafts over a versioned content store, promoted to immutable
// releases on demand.
package scripts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/interconnecthub/console/internal/blobstore"
	"github.com/interconnecthub/console/internal/identity"
)

var (
	// ErrNotFound categorizes failures where a script, release or draft is absent.
	ErrNotFound = errors.New("scripts: not found")
	// ErrInvalidInput categorizes malformed save requests.
	ErrInvalidInput = errors.New("scripts: invalid input")

	errMissingRecordStore  = errors.New("record store is required")
	errMissingContentStore = errors.New("content store is required")
	errMissingIDProvider   = errors.New("id provider is required")
	noOpLogger             = zap.NewNop()
)

const (
	opServiceNew = "scripts.service.new"
	opSave       = "scripts.save"
	opList       = "scripts.list"
	opContent    = "scripts.content"
	opRelease    = "scripts.release"
	opDiscard    = "scripts.discard"
)

// ServiceError carries a stable machine code and a user-safe message for one
// failed engine operation. The original cause is preserved for logging.
type ServiceError struct {
	code    string
	message string
	err     error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code, e.g. "scripts.save.release_source_not_found".
func (e *ServiceError) Code() string {
	return e.code
}

// Message returns the user-safe failure message.
func (e *ServiceError) Message() string {
	return e.message
}

func newServiceError(operation, reason, message string, cause error) error {
	return &ServiceError{
		code:    fmt.Sprintf("%s.%s", operation, reason),
		message: message,
		err:     cause,
	}
}

// ServiceConfig describes the dependencies of the script engine.
type ServiceConfig struct {
	Records    RecordStore
	Content    blobstore.Store
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service mediates concurrent per-editor script editing with copy-on-write
// semantics against the versioned content store.
type Service struct {
	records    RecordStore
	content    blobstore.Store
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the script engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Records == nil {
		return nil, newServiceError(opServiceNew, "missing_record_store", "Service unavailable", errMissingRecordStore)
	}
	if cfg.Content == nil {
		return nil, newServiceError(opServiceNew, "missing_content_store", "Service unavailable", errMissingContentStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", "Service unavailable", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		records:    cfg.Records,
		content:    cfg.Content,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Save writes the editor's script content as a new draft version. A request
// carrying metadata creates a new script; a request carrying a script id
// edits an existing one. Re-saves replace the editor's draft in place and
// keep its original source version.
func (s *Service) Save(ctx context.Context, principal identity.Principal, request SaveRequest) (*Draft, error) {
	ownerID := principal.Owner.String()
	editorID := principal.Editor.String()

	script, err := s.resolveOrCreateScript(ctx, ownerID, request)
	if err != nil {
		return nil, err
	}

	existing, err := s.records.GetDraft(ctx, ownerID, script.ScriptID, editorID)
	if err != nil {
		s.logError(opSave, "draft_lookup_failed", err, zap.String("owner_id", ownerID), zap.String("script_id", script.ScriptID))
		return nil, newServiceError(opSave, "draft_lookup_failed", "Failed to save custom script", err)
	}

	sourceVersionID, err := s.determineSourceVersion(ctx, ownerID, script.ScriptID, existing, request)
	if err != nil {
		return nil, err
	}

	versionID, err := s.content.Put(ctx, draftKey(ownerID, script.ScriptID, script.Extension), []byte(request.Script))
	if err != nil {
		s.logError(opSave, "content_write_failed", err, zap.String("owner_id", ownerID), zap.String("script_id", script.ScriptID))
		return nil, newServiceError(opSave, "content_write_failed", "Failed to save custom script", err)
	}

	draft := Draft{
		OwnerID:         ownerID,
		ScriptID:        script.ScriptID,
		EditedBy:        editorID,
		VersionID:       versionID,
		SourceVersionID: sourceVersionID,
		EditedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.records.UpsertDraft(ctx, draft); err != nil {
		s.logError(opSave, "draft_upsert_failed", err, zap.String("owner_id", ownerID), zap.String("script_id", script.ScriptID))
		return nil, newServiceError(opSave, "draft_upsert_failed", "Failed to save custom script", err)
	}

	s.logger.Info("custom script saved",
		zap.String("owner_id", ownerID),
		zap.String("script_id", script.ScriptID),
		zap.String("version_id", versionID))
	return &draft, nil
}

// List returns every script owned by the tenant, each carrying its release
// history and only the caller's own draft.
func (s *Service) List(ctx context.Context, principal identity.Principal) ([]Listing, error) {
	ownerID := principal.Owner.String()
	editorID := principal.Editor.String()

	all, err := s.records.QueryByOwner(ctx, ownerID)
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("owner_id", ownerID))
		return nil, newServiceError(opList, "query_failed", "Failed to retrieve custom scripts", err)
	}

	drafts, err := s.records.ListEditorDrafts(ctx, ownerID, editorID)
	if err != nil {
		s.logError(opList, "draft_query_failed", err, zap.String("owner_id", ownerID))
		return nil, newServiceError(opList, "draft_query_failed", "Failed to retrieve custom scripts", err)
	}
	draftByScript := make(map[string]Draft, len(drafts))
	for _, draft := range drafts {
		draftByScript[draft.ScriptID] = draft
	}

	listings := make([]Listing, 0, len(all))
	for _, script := range all {
		releases, err := s.records.ListReleases(ctx, ownerID, script.ScriptID)
		if err != nil {
			s.logError(opList, "release_query_failed", err, zap.String("owner_id", ownerID), zap.String("script_id", script.ScriptID))
			return nil, newServiceError(opList, "release_query_failed", "Failed to retrieve custom scripts", err)
		}
		listing := Listing{Script: script, Releases: releases}
		if draft, ok := draftByScript[script.ScriptID]; ok {
			draftCopy := draft
			listing.Draft = &draftCopy
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

// Content returns the bytes of a script version. Release reads resolve the
// published lineage; draft reads require the caller to hold a draft.
func (s *Service) Content(ctx context.Context, principal identity.Principal, scriptID string, fromRelease bool, versionID string) ([]byte, error) {
	ownerID := principal.Owner.String()
	editorID := principal.Editor.String()

	script, err := s.getScript(ctx, opContent, ownerID, scriptID)
	if err != nil {
		return nil, err
	}

	if fromRelease {
		releases, err := s.records.ListReleases(ctx, ownerID, scriptID)
		if err != nil {
			s.logError(opContent, "release_query_failed", err, zap.String("owner_id", ownerID), zap.String("script_id", scriptID))
			return nil, newServiceError(opContent, "release_query_failed", "Failed to retrieve custom script content", err)
		}
		if len(releases) == 0 {
			s.logError(opContent, "no_releases", ErrNotFound, zap.String("owner_id", ownerID), zap.String("script_id", scriptID))
			return nil, newServiceError(opContent, "no_releases", "No releases found", ErrNotFound)
		}
		if versionID != "" && findReleaseByVersion(releases, versionID) == nil {
			s.logError(opContent, "release_version_not_found", ErrNotFound, zap.String("owner_id", ownerID), zap.String("script_id", scriptID), zap.String("version_id", versionID))
			return nil, newServiceError(opContent, "release_version_not_found", "Release not found for provided version id", ErrNotFound)
		}
		return s.readContent(ctx, opContent, releaseKey(scriptID, script.Extension), versionID)
	}

	draft, err := s.records.GetDraft(ctx, ownerID, scriptID, editorID)
	if err != nil {
		s.logError(opContent, "draft_lookup_failed", err, zap.String("owner_id", ownerID), zap.String("script_id", scriptID))
		return nil, newServiceError(opContent, "draft_lookup_failed", "Failed to retrieve custom script content", err)
	}
	if draft == nil {
		s.logError(opContent, "draft_not_available", ErrNotFound, zap.String("owner_id", ownerID), zap.String("script_id", scriptID))
		return nil, newServiceError(opContent, "draft_not_available", "Unpublished changes not available", ErrNotFound)
	}
	return s.readContent(ctx, opContent, draftKey(ownerID, scriptID, script.Extension), versionID)
}

// Release promotes the caller's draft to a new immutable release. The draft
// bytes are re-written to the release lineage, producing a release-owned
// content version, and the caller's draft is cleared. Other editors' drafts
// survive untouched.
func (s *Service) Release(ctx context.Context, principal identity.Principal, scriptID string) (*Release, error) {
	ownerID := principal.Owner.String()
	editorID := principal.Editor.String()

	script, err := s.getScript(ctx, opRelease, ownerID, scriptID)
	if err != nil {
		return nil, err
	}

	draft, err := s.records.GetDraft(ctx, ownerID, scriptID, editorID)
	if err != nil {
		s.logError(opRelease, "draft_lookup_failed", err, zap.String("owner_id", ownerID), zap.String("script_id", scriptID))
		return nil, newServiceError(opRelease, "draft_lookup_failed", "Failed to release custom script", err)
	}
	if draft == nil {
		s.logError(opRelease, "draft_not_found", ErrNotFound, zap.String("owner_id", ownerID), zap.String("script_id", scriptID))
		return nil, newServiceError(opRelease, "draft_not_found", "Unpublished change not found", ErrNotFound)
	}

	content, err := s.readContent(ctx, opRelease, draftKey(ownerID, scriptID, script.Extension), draft.VersionID)
	if err != nil {
		return nil, err
	}

	versionID, err := s.content.Put(ctx, releaseKey(scriptID, script.Extension), content)
	if err != nil {
		s.logError(opRelease, "content_write_failed", err, zap.String("owner_id", ownerID), zap.String("script_id", scriptID))
		return nil, newServiceError(opRelease, "content_write_failed", "Failed to release custom script", err)
	}

	release := Release{
		OwnerID:           ownerID,
		ScriptID:          scriptID,
		VersionID:         versionID,
		EditedBy:          editorID,
		SourceVersionID:   draft.VersionID,
		ReleasedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.records.AppendReleaseClearingDraft(ctx, release, editorID); err != nil {
		s.logError(opRelease, "release_append_failed", err, zap.String("owner_id", ownerID), zap.String("script_id", scriptID))
		return nil, newServiceError(opRelease, "release_append_failed", "Failed to release custom script", err)
	}

	s.logger.Info("custom script released",
		zap.String("owner_id", ownerID),
		zap.String("script_id", scriptID),
		zap.String("version_id", versionID))
	return &release, nil
}

// Discard removes the caller's draft record. The orphaned content version is
// left in place; content-store retention is out of scope here.
func (s *Service) Discard(ctx context.Context, principal identity.Principal, scriptID string) error {
	ownerID := principal.Owner.String()
	editorID := principal.Editor.String()

	if _, err := s.getScript(ctx, opDiscard, ownerID, scriptID); err != nil {
		return err
	}
	if err := s.records.DeleteDraft(ctx, ownerID, scriptID, editorID); err != nil {
		s.logError(opDiscard, "draft_delete_failed", err, zap.String("owner_id", ownerID), zap.String("script_id", scriptID))
		return newServiceError(opDiscard, "draft_delete_failed", "Failed to discard unpublished change", err)
	}
	return nil
}

func (s *Service) resolveOrCreateScript(ctx context.Context, ownerID string, request SaveRequest) (*Script, error) {
	if request.Metadata != nil {
		scriptID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opSave, "id_generation_failed", err, zap.String("owner_id", ownerID))
			return nil, newServiceError(opSave, "id_generation_failed", "Failed to save custom script", err)
		}
		script := Script{
			OwnerID:          ownerID,
			ScriptID:         scriptID,
			Language:         request.Metadata.Language,
			Extension:        request.Metadata.Extension,
			Name:             request.Metadata.Name,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := s.records.CreateScript(ctx, script); err != nil {
			s.logError(opSave, "script_create_failed", err, zap.String("owner_id", ownerID))
			return nil, newServiceError(opSave, "script_create_failed", "Failed to save custom script", err)
		}
		return &script, nil
	}

	if request.ScriptID == "" {
		s.logError(opSave, "missing_metadata", ErrInvalidInput, zap.String("owner_id", ownerID))
		return nil, newServiceError(opSave, "missing_metadata", "Missing script metadata", ErrInvalidInput)
	}
	return s.getScript(ctx, opSave, ownerID, request.ScriptID)
}

// determineSourceVersion keeps the edit chain stable: a re-save reuses the
// existing draft's source instead of rebasing onto whatever the payload names.
func (s *Service) determineSourceVersion(ctx context.Context, ownerID, scriptID string, existing *Draft, request SaveRequest) (*string, error) {
	if existing != nil {
		return existing.SourceVersionID, nil
	}
	if request.SourceVersionID == "" {
		return nil, nil
	}

	releases, err := s.records.ListReleases(ctx, ownerID, scriptID)
	if err != nil {
		s.logError(opSave, "release_query_failed", err, zap.String("owner_id", ownerID), zap.String("script_id", scriptID))
		return nil, newServiceError(opSave, "release_query_failed", "Failed to save custom script", err)
	}
	release := findReleaseByVersion(releases, request.SourceVersionID)
	if release == nil {
		s.logError(opSave, "release_source_not_found", ErrNotFound, zap.String("owner_id", ownerID), zap.String("script_id", scriptID), zap.String("source_version_id", request.SourceVersionID))
		return nil, newServiceError(opSave, "release_source_not_found", "Release source not found", ErrNotFound)
	}
	source := release.VersionID
	return &source, nil
}

func (s *Service) getScript(ctx context.Context, operation, ownerID, scriptID string) (*Script, error) {
	script, err := s.records.GetScript(ctx, ownerID, scriptID)
	if errors.Is(err, ErrScriptMissing) {
		s.logError(operation, "script_not_found", err, zap.String("owner_id", ownerID), zap.String("script_id", scriptID))
		return nil, newServiceError(operation, "script_not_found", "Custom script does not exist", ErrNotFound)
	}
	if err != nil {
		s.logError(operation, "script_lookup_failed", err, zap.String("owner_id", ownerID), zap.String("script_id", scriptID))
		return nil, newServiceError(operation, "script_lookup_failed", "Failed to retrieve custom script", err)
	}
	return script, nil
}

func (s *Service) readContent(ctx context.Context, operation, key, versionID string) ([]byte, error) {
	data, err := s.content.Get(ctx, key, versionID)
	if errors.Is(err, blobstore.ErrNotFound) {
		s.logError(operation, "content_not_found", err, zap.String("key", key), zap.String("version_id", versionID))
		return nil, newServiceError(operation, "content_not_found", "Script content not found", ErrNotFound)
	}
	if err != nil {
		s.logError(operation, "content_read_failed", err, zap.String("key", key), zap.String("version_id", versionID))
		return nil, newServiceError(operation, "content_read_failed", "Failed to retrieve script content", err)
	}
	return data, nil
}

func findReleaseByVersion(releases []Release, versionID string) *Release {
	for index := range releases {
		if releases[index].VersionID == versionID {
			return &releases[index]
		}
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("script service error", attrs...)
}
