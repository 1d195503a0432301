// Package mappings implements the data-mapping engine: per-editor drafts
// published into an immutable revision history with a single live revision
// per mapping, each publish deploying the compiled pipeline.
package mappings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/interconnecthub/console/internal/identity"
	"github.com/interconnecthub/console/internal/pipeline"
)

var (
	// ErrNotFound categorizes failures where a mapping or draft is absent.
	ErrNotFound = errors.New("mappings: not found")
	// ErrInvalidInput categorizes malformed mapping requests.
	ErrInvalidInput = errors.New("mappings: invalid input")

	errMissingRecordStore = errors.New("record store is required")
	errMissingDeployer    = errors.New("pipeline deployer is required")
	noOpLogger            = zap.NewNop()
)

const (
	opServiceNew = "mappings.service.new"
	opCreate     = "mappings.create"
	opGet        = "mappings.get"
	opSave       = "mappings.save"
	opPublish    = "mappings.publish"
	opListActive = "mappings.list_active"

	defaultMappingName = "Untitled"
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

// Code returns the dotted operation code, e.g. "mappings.publish.draft_not_found".
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

// Deployer installs a published mapping on the workflow engine and returns
// the pipeline handle.
type Deployer interface {
	Deploy(ctx context.Context, spec pipeline.MappingSpec, priorHandle string) (string, error)
}

// IDProvider mints mapping identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidIDProvider struct{}

func (uuidIDProvider) NewID() (string, error) {
	return uuid.NewString(), nil
}

// NewUUIDIDProvider returns the default mapping id generator.
func NewUUIDIDProvider() IDProvider {
	return uuidIDProvider{}
}

// ServiceConfig describes the dependencies of the mapping engine.
type ServiceConfig struct {
	Records    RecordStore
	Deployer   Deployer
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service mediates draft editing and the publish transition for data
// mappings.
type Service struct {
	records    RecordStore
	deployer   Deployer
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the mapping engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Records == nil {
		return nil, newServiceError(opServiceNew, "missing_record_store", "Service unavailable", errMissingRecordStore)
	}
	if cfg.Deployer == nil {
		return nil, newServiceError(opServiceNew, "missing_deployer", "Service unavailable", errMissingDeployer)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		records:    cfg.Records,
		deployer:   cfg.Deployer,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Create mints a new mapping and opens the caller's draft for it.
func (s *Service) Create(ctx context.Context, principal identity.Principal) (*Mapping, error) {
	ownerID := principal.Owner.String()
	editorID := principal.Editor.String()

	mappingID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, ownerID, "")
		return nil, newServiceError(opCreate, "id_generation_failed", "Failed to create data mapping", err)
	}

	draft := Mapping{
		OwnerID:          ownerID,
		MappingID:        mappingID,
		Revision:         editorID,
		Status:           StatusDraft,
		Active:           false,
		CreatedBy:        editorID,
		CreatedAtSeconds: s.clock().UTC().Unix(),
		Name:             defaultMappingName,
	}
	if err := s.records.CreateDraft(ctx, draft); err != nil {
		s.logError(opCreate, "draft_create_failed", err, ownerID, mappingID)
		return nil, newServiceError(opCreate, "draft_create_failed", "Failed to create data mapping", err)
	}

	s.logger.Info("data mapping created",
		zap.String("owner_id", ownerID),
		zap.String("mapping_id", mappingID))
	return &draft, nil
}

// Get returns the caller's view of one mapping: their own draft, when they
// hold one, and the published revision history. Other editors' drafts are
// never surfaced.
func (s *Service) Get(ctx context.Context, principal identity.Principal, mappingID string) (*Details, error) {
	ownerID := principal.Owner.String()
	editorID := principal.Editor.String()

	rows, err := s.records.GetAll(ctx, ownerID, mappingID)
	if err != nil {
		s.logError(opGet, "query_failed", err, ownerID, mappingID)
		return nil, newServiceError(opGet, "query_failed", "Failed to retrieve data mapping", err)
	}
	if len(rows) == 0 {
		s.logError(opGet, "mapping_not_found", ErrNotFound, ownerID, mappingID)
		return nil, newServiceError(opGet, "mapping_not_found", "Data mapping does not exist", ErrNotFound)
	}

	details := Details{}
	for index := range rows {
		row := rows[index]
		switch {
		case row.Status == StatusDraft && row.Revision == editorID:
			draftCopy := row
			details.Draft = &draftCopy
		case row.Status == StatusPublished:
			details.Revisions = append(details.Revisions, row)
		}
	}
	return &details, nil
}

// Save upserts the caller's draft: a partial update when one exists, a fresh
// draft row seeded from the patch otherwise. Re-editing after a publish goes
// through here.
func (s *Service) Save(ctx context.Context, principal identity.Principal, mappingID string, patch SavePatch) (*Mapping, error) {
	ownerID := principal.Owner.String()
	editorID := principal.Editor.String()

	draft, err := s.records.GetUserDraft(ctx, ownerID, mappingID, editorID)
	if err != nil {
		s.logError(opSave, "draft_lookup_failed", err, ownerID, mappingID)
		return nil, newServiceError(opSave, "draft_lookup_failed", "Failed to save data mapping", err)
	}
	if draft == nil {
		return s.openDraft(ctx, ownerID, mappingID, editorID, patch)
	}

	updates := patch.updates()
	if len(updates) == 0 {
		return draft, nil
	}
	if err := s.records.UpdateDraft(ctx, ownerID, mappingID, editorID, updates); err != nil {
		s.logError(opSave, "draft_update_failed", err, ownerID, mappingID)
		return nil, newServiceError(opSave, "draft_update_failed", "Failed to save data mapping", err)
	}

	updated, err := s.records.GetUserDraft(ctx, ownerID, mappingID, editorID)
	if err != nil || updated == nil {
		s.logError(opSave, "draft_reload_failed", err, ownerID, mappingID)
		return nil, newServiceError(opSave, "draft_reload_failed", "Failed to save data mapping", err)
	}
	s.logger.Info("data mapping draft saved",
		zap.String("owner_id", ownerID),
		zap.String("mapping_id", mappingID))
	return updated, nil
}

// openDraft creates the caller's draft row from a save against a mapping they
// hold no draft for.
func (s *Service) openDraft(ctx context.Context, ownerID, mappingID, editorID string, patch SavePatch) (*Mapping, error) {
	draft := Mapping{
		OwnerID:          ownerID,
		MappingID:        mappingID,
		Revision:         editorID,
		Status:           StatusDraft,
		Active:           false,
		CreatedBy:        editorID,
		CreatedAtSeconds: s.clock().UTC().Unix(),
		Name:             defaultMappingName,
	}
	if patch.Name != nil {
		draft.Name = *patch.Name
	}
	if patch.Description != nil {
		draft.Description = *patch.Description
	}
	draft.Sources = patch.Sources
	draft.Output = patch.Output
	draft.MappingSchema = patch.MappingSchema
	draft.Tags = patch.Tags

	if err := s.records.CreateDraft(ctx, draft); err != nil {
		s.logError(opSave, "draft_create_failed", err, ownerID, mappingID)
		return nil, newServiceError(opSave, "draft_create_failed", "Failed to save data mapping", err)
	}
	s.logger.Info("data mapping draft opened",
		zap.String("owner_id", ownerID),
		zap.String("mapping_id", mappingID))
	return &draft, nil
}

// Publish promotes the caller's draft to the next published revision, retires
// the prior live revision and deploys the compiled pipeline. The pipeline
// handle survives across publishes: the first publish creates the pipeline,
// later publishes redefine it in place.
func (s *Service) Publish(ctx context.Context, principal identity.Principal, mappingID string) (*Mapping, error) {
	ownerID := principal.Owner.String()
	editorID := principal.Editor.String()

	draft, err := s.getDraft(ctx, opPublish, ownerID, mappingID, editorID)
	if err != nil {
		return nil, err
	}

	active, err := s.records.GetActivePublished(ctx, ownerID, mappingID)
	if err != nil {
		s.logError(opPublish, "active_lookup_failed", err, ownerID, mappingID)
		return nil, newServiceError(opPublish, "active_lookup_failed", "Failed to publish data mapping", err)
	}

	revision := nextRevision(active)
	now := s.clock().UTC().Unix()
	published := Mapping{
		OwnerID:            ownerID,
		MappingID:          mappingID,
		Revision:           revision,
		Status:             StatusPublished,
		Active:             true,
		CreatedBy:          draft.CreatedBy,
		CreatedAtSeconds:   draft.CreatedAtSeconds,
		Name:               draft.Name,
		Description:        draft.Description,
		Sources:            draft.Sources,
		Output:             draft.Output,
		MappingSchema:      draft.MappingSchema,
		Tags:               draft.Tags,
		PublishedBy:        editorID,
		PublishedAtSeconds: now,
		Version:            "v" + revision,
	}

	if err := s.records.Publish(ctx, published, active, editorID); err != nil {
		if errors.Is(err, ErrActiveRowChanged) {
			s.logError(opPublish, "publish_conflict", err, ownerID, mappingID)
			return nil, newServiceError(opPublish, "publish_conflict", "Data mapping was published concurrently", err)
		}
		s.logError(opPublish, "publish_failed", err, ownerID, mappingID)
		return nil, newServiceError(opPublish, "publish_failed", "Failed to publish data mapping", err)
	}

	spec, err := s.mappingSpec(published)
	if err != nil {
		s.logError(opPublish, "content_decode_failed", err, ownerID, mappingID)
		return nil, newServiceError(opPublish, "content_decode_failed", "Failed to publish data mapping", err)
	}
	priorHandle := ""
	if active != nil {
		priorHandle = active.PipelineHandle
	}
	handle, err := s.deployer.Deploy(ctx, spec, priorHandle)
	if err != nil {
		s.logError(opPublish, "deploy_failed", err, ownerID, mappingID)
		return nil, err
	}

	if err := s.records.SetPipelineHandle(ctx, ownerID, mappingID, revision, handle); err != nil {
		s.logError(opPublish, "handle_record_failed", err, ownerID, mappingID)
		return nil, newServiceError(opPublish, "handle_record_failed", "Failed to publish data mapping", err)
	}
	published.PipelineHandle = handle

	s.logger.Info("data mapping published",
		zap.String("owner_id", ownerID),
		zap.String("mapping_id", mappingID),
		zap.String("revision", revision),
		zap.String("pipeline_handle", handle))
	return &published, nil
}

// ListActive returns every live published mapping for the tenant.
func (s *Service) ListActive(ctx context.Context, principal identity.Principal) ([]Mapping, error) {
	ownerID := principal.Owner.String()

	rows, err := s.records.GetActiveMappings(ctx, ownerID)
	if err != nil {
		s.logError(opListActive, "query_failed", err, ownerID, "")
		return nil, newServiceError(opListActive, "query_failed", "Failed to retrieve data mappings", err)
	}
	return rows, nil
}

func (s *Service) getDraft(ctx context.Context, operation, ownerID, mappingID, editorID string) (*Mapping, error) {
	draft, err := s.records.GetUserDraft(ctx, ownerID, mappingID, editorID)
	if err != nil {
		s.logError(operation, "draft_lookup_failed", err, ownerID, mappingID)
		return nil, newServiceError(operation, "draft_lookup_failed", "Failed to retrieve data mapping draft", err)
	}
	if draft == nil {
		s.logError(operation, "draft_not_found", ErrNotFound, ownerID, mappingID)
		return nil, newServiceError(operation, "draft_not_found", "Unable to find draft", ErrNotFound)
	}
	return draft, nil
}

// nextRevision numbers published revisions monotonically from the live row.
func nextRevision(active *Mapping) string {
	if active == nil {
		return "1"
	}
	current, err := strconv.Atoi(active.Revision)
	if err != nil {
		return "1"
	}
	return strconv.Itoa(current + 1)
}

func (s *Service) mappingSpec(published Mapping) (pipeline.MappingSpec, error) {
	sources, err := decodeJSONObject(published.Sources)
	if err != nil {
		return pipeline.MappingSpec{}, err
	}
	output, err := decodeJSONObject(published.Output)
	if err != nil {
		return pipeline.MappingSpec{}, err
	}
	schema, err := decodeJSONObject(published.MappingSchema)
	if err != nil {
		return pipeline.MappingSpec{}, err
	}
	return pipeline.MappingSpec{
		OwnerID:       published.OwnerID,
		MappingID:     published.MappingID,
		Description:   published.Description,
		Sources:       sources,
		Output:        output,
		MappingSchema: schema,
	}, nil
}

func decodeJSONObject(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

// updates translates the patch into the column map applied to the draft row.
func (p SavePatch) updates() map[string]interface{} {
	updates := make(map[string]interface{})
	if p.Name != nil {
		updates["name"] = *p.Name
	}
	if p.Description != nil {
		updates["description"] = *p.Description
	}
	if p.Sources != nil {
		updates["sources"] = p.Sources
	}
	if p.Output != nil {
		updates["output"] = p.Output
	}
	if p.MappingSchema != nil {
		updates["mapping_schema"] = p.MappingSchema
	}
	if p.Tags != nil {
		updates["tags"] = p.Tags
	}
	return updates
}

func (s *Service) logError(operation, reason string, err error, ownerID, mappingID string) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("owner_id", ownerID),
	}
	if mappingID != "" {
		fields = append(fields, zap.String("mapping_id", mappingID))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.logger.Error("mapping service error", fields...)
}
