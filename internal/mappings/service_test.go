package mappings

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/interconnecthub/console/internal/identity"
	"github.com/interconnecthub/console/internal/pipeline"
)

type staticIDGenerator struct {
	id string
}

func (g *staticIDGenerator) NewID() (string, error) {
	return g.id, nil
}

// recordingDeployer captures deploy calls and hands out deterministic
// handles, keeping the prior handle stable across republishes.
type recordingDeployer struct {
	calls        []string
	priorHandles []string
	nextHandle   string
	err          error
}

func (d *recordingDeployer) Deploy(_ context.Context, spec pipeline.MappingSpec, priorHandle string) (string, error) {
	d.calls = append(d.calls, spec.MappingID)
	d.priorHandles = append(d.priorHandles, priorHandle)
	if d.err != nil {
		return "", d.err
	}
	if priorHandle != "" {
		return priorHandle, nil
	}
	return d.nextHandle, nil
}

func newTestService(t *testing.T) (*Service, *recordingDeployer, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:mappings_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Mapping{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	records, err := NewSQLRecordStore(db)
	if err != nil {
		t.Fatalf("failed to construct record store: %v", err)
	}
	deployer := &recordingDeployer{nextHandle: "handle-1"}
	service, err := NewService(ServiceConfig{
		Records:    records,
		Deployer:   deployer,
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
		IDProvider: &staticIDGenerator{id: "map-1"},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, deployer, db
}

func mustPrincipal(t *testing.T, owner, editor string) identity.Principal {
	t.Helper()

	ownerID, err := identity.NewOwnerID(owner)
	if err != nil {
		t.Fatalf("invalid owner id: %v", err)
	}
	editorID, err := identity.NewEditorID(editor)
	if err != nil {
		t.Fatalf("invalid editor id: %v", err)
	}
	return identity.Principal{Owner: ownerID, Editor: editorID}
}

func draftContent(t *testing.T, service *Service, principal identity.Principal, mappingID string) {
	t.Helper()

	name := "Order Sync"
	_, err := service.Save(context.Background(), principal, mappingID, SavePatch{
		Name:          &name,
		Sources:       datatypes.JSON(`{"input": {"format": "CSV", "parameters": {}}}`),
		Output:        datatypes.JSON(`{"format": "JSON", "parameters": {}}`),
		MappingSchema: datatypes.JSON(`{"orderId": "$.id"}`),
	})
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
}

func TestCreateOpensDraftForCaller(t *testing.T) {
	service, _, _ := newTestService(t)
	principal := mustPrincipal(t, "org-1", "alice")

	draft, err := service.Create(context.Background(), principal)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if draft.MappingID != "map-1" {
		t.Fatalf("expected minted mapping id, got %q", draft.MappingID)
	}
	if draft.Status != StatusDraft || draft.Active {
		t.Fatalf("expected inactive draft row, got %+v", draft)
	}
	if draft.Revision != "alice" {
		t.Fatalf("expected draft revision keyed by editor, got %q", draft.Revision)
	}
	if draft.Name != "Untitled" {
		t.Fatalf("expected default name, got %q", draft.Name)
	}
}

func TestGetPartitionsDraftAndRevisions(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	alice := mustPrincipal(t, "org-1", "alice")

	if _, err := service.Create(ctx, alice); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	draftContent(t, service, alice, "map-1")
	if _, err := service.Publish(ctx, alice, "map-1"); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	details, err := service.Get(ctx, alice, "map-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if details.Draft != nil {
		t.Fatalf("expected publish to consume alice's draft, got %+v", details.Draft)
	}
	if len(details.Revisions) != 1 || details.Revisions[0].Revision != "1" {
		t.Fatalf("expected a single published revision, got %+v", details.Revisions)
	}
}

func TestGetHidesOtherEditorsDrafts(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	alice := mustPrincipal(t, "org-1", "alice")
	bob := mustPrincipal(t, "org-1", "bob")

	if _, err := service.Create(ctx, alice); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	details, err := service.Get(ctx, bob, "map-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if details.Draft != nil {
		t.Fatalf("expected alice's draft hidden from bob, got %+v", details.Draft)
	}
}

func TestGetUnknownMappingFails(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Get(context.Background(), mustPrincipal(t, "org-1", "alice"), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestSavePatchesDraftSubset(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	alice := mustPrincipal(t, "org-1", "alice")

	if _, err := service.Create(ctx, alice); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	description := "order feed mapping"
	updated, err := service.Save(ctx, alice, "map-1", SavePatch{Description: &description})
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if updated.Description != description {
		t.Fatalf("expected description updated, got %q", updated.Description)
	}
	if updated.Name != "Untitled" {
		t.Fatalf("expected untouched fields preserved, got %q", updated.Name)
	}
}

func TestSaveOpensDraftWhenAbsent(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	alice := mustPrincipal(t, "org-1", "alice")
	bob := mustPrincipal(t, "org-1", "bob")

	if _, err := service.Create(ctx, alice); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	name := "bob's copy"
	draft, err := service.Save(ctx, bob, "map-1", SavePatch{Name: &name})
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if draft.Revision != "bob" || draft.Status != StatusDraft {
		t.Fatalf("expected a fresh draft for bob, got %+v", draft)
	}
	if draft.Name != name {
		t.Fatalf("expected patch applied to the new draft, got %q", draft.Name)
	}

	details, err := service.Get(ctx, alice, "map-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if details.Draft == nil || details.Draft.Name != "Untitled" {
		t.Fatalf("expected alice's draft untouched, got %+v", details.Draft)
	}
}

func TestPublishFirstRevision(t *testing.T) {
	service, deployer, _ := newTestService(t)
	ctx := context.Background()
	alice := mustPrincipal(t, "org-1", "alice")

	if _, err := service.Create(ctx, alice); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	draftContent(t, service, alice, "map-1")

	published, err := service.Publish(ctx, alice, "map-1")
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if published.Revision != "1" || published.Version != "v1" {
		t.Fatalf("expected first revision, got %q %q", published.Revision, published.Version)
	}
	if !published.Active || published.Status != StatusPublished {
		t.Fatalf("expected active published row, got %+v", published)
	}
	if published.PublishedBy != "alice" {
		t.Fatalf("expected publisher recorded, got %q", published.PublishedBy)
	}
	if published.PipelineHandle != "handle-1" {
		t.Fatalf("expected pipeline handle recorded, got %q", published.PipelineHandle)
	}
	if len(deployer.priorHandles) != 1 || deployer.priorHandles[0] != "" {
		t.Fatalf("expected first publish to deploy without a prior handle, got %v", deployer.priorHandles)
	}
}

func TestPublishAdvancesRevisionAndRetiresPrior(t *testing.T) {
	service, deployer, db := newTestService(t)
	ctx := context.Background()
	alice := mustPrincipal(t, "org-1", "alice")

	if _, err := service.Create(ctx, alice); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	draftContent(t, service, alice, "map-1")
	if _, err := service.Publish(ctx, alice, "map-1"); err != nil {
		t.Fatalf("unexpected first publish error: %v", err)
	}

	draftContent(t, service, alice, "map-1")
	second, err := service.Publish(ctx, alice, "map-1")
	if err != nil {
		t.Fatalf("unexpected second publish error: %v", err)
	}
	if second.Revision != "2" || second.Version != "v2" {
		t.Fatalf("expected second revision, got %q %q", second.Revision, second.Version)
	}
	if second.PipelineHandle != "handle-1" {
		t.Fatalf("expected pipeline handle to survive republish, got %q", second.PipelineHandle)
	}
	if deployer.priorHandles[1] != "handle-1" {
		t.Fatalf("expected redeploy against prior handle, got %v", deployer.priorHandles)
	}

	var activeCount int64
	err = db.Model(&Mapping{}).
		Where("owner_id = ? AND mapping_id = ? AND active = ?", "org-1", "map-1", true).
		Count(&activeCount).Error
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly one active row, got %d", activeCount)
	}

	details, err := service.Get(ctx, alice, "map-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if len(details.Revisions) != 2 {
		t.Fatalf("expected two published revisions, got %d", len(details.Revisions))
	}
}

func TestPublishWithoutDraftFails(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	alice := mustPrincipal(t, "org-1", "alice")

	if _, err := service.Create(ctx, alice); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	draftContent(t, service, alice, "map-1")
	if _, err := service.Publish(ctx, alice, "map-1"); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	_, err := service.Publish(ctx, alice, "map-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected publish without a draft to fail, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Message() != "Unable to find draft" {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestPublishConcurrentLoserGetsConflict(t *testing.T) {
	service, _, db := newTestService(t)
	ctx := context.Background()
	alice := mustPrincipal(t, "org-1", "alice")

	if _, err := service.Create(ctx, alice); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	draftContent(t, service, alice, "map-1")
	if _, err := service.Publish(ctx, alice, "map-1"); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	draftContent(t, service, alice, "map-1")

	// Simulate a concurrent publish retiring the live row between the
	// active lookup and the publish transaction.
	records, err := NewSQLRecordStore(db)
	if err != nil {
		t.Fatalf("failed to construct record store: %v", err)
	}
	active, err := records.GetActivePublished(ctx, "org-1", "map-1")
	if err != nil || active == nil {
		t.Fatalf("expected an active row: %v", err)
	}
	stale := *active
	winner := stale
	winner.Revision = "2"
	winner.Version = "v2"
	if err := records.Publish(ctx, winner, &stale, "someone-else"); err != nil {
		t.Fatalf("unexpected winner publish error: %v", err)
	}

	err = records.Publish(ctx, Mapping{
		OwnerID:   "org-1",
		MappingID: "map-1",
		Revision:  "3",
		Status:    StatusPublished,
		Active:    true,
	}, &stale, "alice")
	if !errors.Is(err, ErrActiveRowChanged) {
		t.Fatalf("expected concurrent publish conflict, got %v", err)
	}
}

func TestPublishDeployFailureSurfaces(t *testing.T) {
	service, deployer, _ := newTestService(t)
	ctx := context.Background()
	alice := mustPrincipal(t, "org-1", "alice")

	if _, err := service.Create(ctx, alice); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	draftContent(t, service, alice, "map-1")

	deployer.err = errors.New("engine unavailable")
	if _, err := service.Publish(ctx, alice, "map-1"); err == nil {
		t.Fatal("expected deploy failure to surface")
	}
}

func TestListActiveReturnsLiveRevisionsOnly(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	alice := mustPrincipal(t, "org-1", "alice")

	if _, err := service.Create(ctx, alice); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	draftContent(t, service, alice, "map-1")
	if _, err := service.Publish(ctx, alice, "map-1"); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	draftContent(t, service, alice, "map-1")
	if _, err := service.Publish(ctx, alice, "map-1"); err != nil {
		t.Fatalf("unexpected second publish error: %v", err)
	}

	active, err := service.ListActive(ctx, alice)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected one live mapping, got %d", len(active))
	}
	if active[0].Revision != "2" {
		t.Fatalf("expected the latest revision live, got %q", active[0].Revision)
	}

	other, err := service.ListActive(ctx, mustPrincipal(t, "org-2", "carol"))
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no mappings for another tenant, got %d", len(other))
	}
}
