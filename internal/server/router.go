// Package server exposes the management API over HTTP: bearer-token
// authentication resolving the caller's principal, and thin handlers over the
// script, mapping and format engines.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/interconnecthub/console/internal/auth"
	"github.com/interconnecthub/console/internal/formats"
	"github.com/interconnecthub/console/internal/identity"
	"github.com/interconnecthub/console/internal/mappings"
	"github.com/interconnecthub/console/internal/pipeline"
	"github.com/interconnecthub/console/internal/scripts"
)

const principalContextKey = "hub_principal"

var (
	errMissingTokenValidator  = errors.New("token validator dependency required")
	errMissingIdentityService = errors.New("identity service dependency required")
	errMissingScriptService   = errors.New("script service dependency required")
	errMissingMappingService  = errors.New("mapping service dependency required")
	errMissingFormatRegistry  = errors.New("format registry dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// TokenValidator checks a bearer token and returns its session claims.
type TokenValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
}

// PrincipalResolver maps session claims to the owner/editor principal.
type PrincipalResolver interface {
	ResolvePrincipal(claims auth.SessionClaims) (identity.Principal, error)
}

// Dependencies wires the HTTP layer to the engines behind it.
type Dependencies struct {
	Tokens   TokenValidator
	Identity PrincipalResolver
	Scripts  *scripts.Service
	Mappings *mappings.Service
	Formats  *formats.Registry
	Logger   *zap.Logger
}

// NewHTTPHandler builds the management API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Identity == nil {
		return nil, errMissingIdentityService
	}
	if deps.Scripts == nil {
		return nil, errMissingScriptService
	}
	if deps.Mappings == nil {
		return nil, errMissingMappingService
	}
	if deps.Formats == nil {
		return nil, errMissingFormatRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.Tokens,
		identity: deps.Identity,
		scripts:  deps.Scripts,
		mappings: deps.Mappings,
		formats:  deps.Formats,
		logger:   logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/scripts", handler.handleScriptSave)
	protected.GET("/scripts", handler.handleScriptList)
	protected.GET("/scripts/:script_id/content", handler.handleScriptContent)
	protected.POST("/scripts/:script_id/release", handler.handleScriptRelease)
	protected.DELETE("/scripts/:script_id/draft", handler.handleScriptDiscard)

	protected.POST("/mappings", handler.handleMappingCreate)
	protected.GET("/mappings", handler.handleMappingList)
	protected.GET("/mappings/:mapping_id", handler.handleMappingGet)
	protected.PUT("/mappings/:mapping_id", handler.handleMappingSave)
	protected.POST("/mappings/:mapping_id/publish", handler.handleMappingPublish)

	protected.GET("/formats", handler.handleFormatList)

	return router, nil
}

type httpHandler struct {
	tokens   TokenValidator
	identity PrincipalResolver
	scripts  *scripts.Service
	mappings *mappings.Service
	formats  *formats.Registry
	logger   *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	principal, err := h.identity.ResolvePrincipal(claims)
	if err != nil {
		h.logger.Warn("principal resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(principalContextKey, principal)
	c.Next()
}

func (h *httpHandler) principal(c *gin.Context) (identity.Principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return identity.Principal{}, false
	}
	principal, ok := value.(identity.Principal)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return identity.Principal{}, false
	}
	return principal, true
}

type scriptMetadataPayload struct {
	Language  string `json:"language"`
	Extension string `json:"extension"`
	Name      string `json:"name"`
}

type scriptSavePayload struct {
	ScriptID        string                 `json:"script_id"`
	Metadata        *scriptMetadataPayload `json:"metadata"`
	Script          string                 `json:"script"`
	SourceVersionID string                 `json:"source_version_id"`
}

type scriptDraftPayload struct {
	VersionID       string  `json:"version_id"`
	SourceVersionID *string `json:"source_version_id"`
	EditedBy        string  `json:"edited_by"`
	EditedAtSeconds int64   `json:"edited_at_s"`
}

type scriptReleasePayload struct {
	VersionID         string `json:"version_id"`
	SourceVersionID   string `json:"source_version_id"`
	EditedBy          string `json:"edited_by"`
	ReleasedAtSeconds int64  `json:"released_at_s"`
}

type scriptListingPayload struct {
	ScriptID         string                 `json:"script_id"`
	Language         string                 `json:"language"`
	Extension        string                 `json:"extension"`
	Name             string                 `json:"name"`
	CreatedAtSeconds int64                  `json:"created_at_s"`
	Releases         []scriptReleasePayload `json:"releases"`
	Draft            *scriptDraftPayload    `json:"draft,omitempty"`
}

func (h *httpHandler) handleScriptSave(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	var payload scriptSavePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	request := scripts.SaveRequest{
		ScriptID:        payload.ScriptID,
		Script:          payload.Script,
		SourceVersionID: payload.SourceVersionID,
	}
	if payload.Metadata != nil {
		request.Metadata = &scripts.Metadata{
			Language:  payload.Metadata.Language,
			Extension: payload.Metadata.Extension,
			Name:      payload.Metadata.Name,
		}
	}

	draft, err := h.scripts.Save(c.Request.Context(), principal, request)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"script_id": draft.ScriptID,
		"draft":     toDraftPayload(draft),
	})
}

func (h *httpHandler) handleScriptList(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	listings, err := h.scripts.List(c.Request.Context(), principal)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	response := make([]scriptListingPayload, 0, len(listings))
	for _, listing := range listings {
		entry := scriptListingPayload{
			ScriptID:         listing.Script.ScriptID,
			Language:         listing.Script.Language,
			Extension:        listing.Script.Extension,
			Name:             listing.Script.Name,
			CreatedAtSeconds: listing.Script.CreatedAtSeconds,
			Releases:         make([]scriptReleasePayload, 0, len(listing.Releases)),
			Draft:            toDraftPayload(listing.Draft),
		}
		for _, release := range listing.Releases {
			entry.Releases = append(entry.Releases, scriptReleasePayload{
				VersionID:         release.VersionID,
				SourceVersionID:   release.SourceVersionID,
				EditedBy:          release.EditedBy,
				ReleasedAtSeconds: release.ReleasedAtSeconds,
			})
		}
		response = append(response, entry)
	}
	c.JSON(http.StatusOK, gin.H{"scripts": response})
}

func (h *httpHandler) handleScriptContent(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	fromRelease := false
	if raw := c.Query("from_release"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		fromRelease = parsed
	}

	content, err := h.scripts.Content(c.Request.Context(), principal, c.Param("script_id"), fromRelease, c.Query("version_id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", content)
}

func (h *httpHandler) handleScriptRelease(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	release, err := h.scripts.Release(c.Request.Context(), principal, c.Param("script_id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"script_id": release.ScriptID,
		"release": scriptReleasePayload{
			VersionID:         release.VersionID,
			SourceVersionID:   release.SourceVersionID,
			EditedBy:          release.EditedBy,
			ReleasedAtSeconds: release.ReleasedAtSeconds,
		},
	})
}

func (h *httpHandler) handleScriptDiscard(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	if err := h.scripts.Discard(c.Request.Context(), principal, c.Param("script_id")); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type mappingSavePayload struct {
	Name          *string         `json:"name"`
	Description   *string         `json:"description"`
	Sources       json.RawMessage `json:"sources"`
	Output        json.RawMessage `json:"output"`
	MappingSchema json.RawMessage `json:"mapping"`
	Tags          json.RawMessage `json:"tags"`
}

type mappingPayload struct {
	MappingID          string          `json:"mapping_id"`
	Revision           string          `json:"revision"`
	Status             string          `json:"status"`
	Active             bool            `json:"active"`
	CreatedBy          string          `json:"created_by"`
	CreatedAtSeconds   int64           `json:"created_at_s"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	Sources            json.RawMessage `json:"sources,omitempty"`
	Output             json.RawMessage `json:"output,omitempty"`
	MappingSchema      json.RawMessage `json:"mapping,omitempty"`
	Tags               json.RawMessage `json:"tags,omitempty"`
	PublishedBy        string          `json:"published_by,omitempty"`
	PublishedAtSeconds int64           `json:"published_at_s,omitempty"`
	Version            string          `json:"version,omitempty"`
}

func (h *httpHandler) handleMappingCreate(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	draft, err := h.mappings.Create(c.Request.Context(), principal)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMappingPayload(*draft))
}

func (h *httpHandler) handleMappingList(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	active, err := h.mappings.ListActive(c.Request.Context(), principal)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	response := make([]mappingPayload, 0, len(active))
	for _, mapping := range active {
		response = append(response, toMappingPayload(mapping))
	}
	c.JSON(http.StatusOK, gin.H{"mappings": response})
}

func (h *httpHandler) handleMappingGet(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	details, err := h.mappings.Get(c.Request.Context(), principal, c.Param("mapping_id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	revisions := make([]mappingPayload, 0, len(details.Revisions))
	for _, revision := range details.Revisions {
		revisions = append(revisions, toMappingPayload(revision))
	}
	response := gin.H{"revisions": revisions}
	if details.Draft != nil {
		response["draft"] = toMappingPayload(*details.Draft)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleMappingSave(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	var payload mappingSavePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	patch := mappings.SavePatch{
		Name:          payload.Name,
		Description:   payload.Description,
		Sources:       datatypes.JSON(payload.Sources),
		Output:        datatypes.JSON(payload.Output),
		MappingSchema: datatypes.JSON(payload.MappingSchema),
		Tags:          datatypes.JSON(payload.Tags),
	}
	draft, err := h.mappings.Save(c.Request.Context(), principal, c.Param("mapping_id"), patch)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toMappingPayload(*draft))
}

func (h *httpHandler) handleMappingPublish(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	published, err := h.mappings.Publish(c.Request.Context(), principal, c.Param("mapping_id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toMappingPayload(*published))
}

type formatPayload struct {
	FormatName  string `json:"format_name"`
	DisplayName string `json:"display_name"`
}

func (h *httpHandler) handleFormatList(c *gin.Context) {
	if _, ok := h.principal(c); !ok {
		return
	}

	all, err := h.formats.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list data formats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	response := make([]formatPayload, 0, len(all))
	for _, format := range all {
		response = append(response, formatPayload{
			FormatName:  format.FormatName,
			DisplayName: format.DisplayName,
		})
	}
	c.JSON(http.StatusOK, gin.H{"formats": response})
}

// respondServiceError maps engine failures to HTTP statuses: absent records
// and bad input are client errors, a lost publish race is a conflict, and
// everything else is an infrastructure failure.
func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	message := "internal_error"
	if withMessage, ok := err.(interface{ Message() string }); ok {
		message = withMessage.Message()
	}

	switch {
	case errors.Is(err, scripts.ErrNotFound),
		errors.Is(err, mappings.ErrNotFound),
		errors.Is(err, pipeline.ErrNotFound),
		errors.Is(err, scripts.ErrInvalidInput),
		errors.Is(err, mappings.ErrInvalidInput),
		errors.Is(err, pipeline.ErrInvalidMapping):
		c.JSON(http.StatusBadRequest, gin.H{"error": message})
	case errors.Is(err, mappings.ErrActiveRowChanged):
		c.JSON(http.StatusConflict, gin.H{"error": message})
	default:
		h.logger.Error("management API request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

func toDraftPayload(draft *scripts.Draft) *scriptDraftPayload {
	if draft == nil {
		return nil
	}
	return &scriptDraftPayload{
		VersionID:       draft.VersionID,
		SourceVersionID: draft.SourceVersionID,
		EditedBy:        draft.EditedBy,
		EditedAtSeconds: draft.EditedAtSeconds,
	}
}

func toMappingPayload(mapping mappings.Mapping) mappingPayload {
	return mappingPayload{
		MappingID:          mapping.MappingID,
		Revision:           mapping.Revision,
		Status:             string(mapping.Status),
		Active:             mapping.Active,
		CreatedBy:          mapping.CreatedBy,
		CreatedAtSeconds:   mapping.CreatedAtSeconds,
		Name:               mapping.Name,
		Description:        mapping.Description,
		Sources:            json.RawMessage(mapping.Sources),
		Output:             json.RawMessage(mapping.Output),
		MappingSchema:      json.RawMessage(mapping.MappingSchema),
		Tags:               json.RawMessage(mapping.Tags),
		PublishedBy:        mapping.PublishedBy,
		PublishedAtSeconds: mapping.PublishedAtSeconds,
		Version:            mapping.Version,
	}
}
