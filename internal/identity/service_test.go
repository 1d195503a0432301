package identity

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/interconnecthub/console/internal/auth"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:identity_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&EditorIdentity{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func TestResolvePrincipalCreatesMapping(t *testing.T) {
	service := newTestService(t)

	principal, err := service.ResolvePrincipal(auth.SessionClaims{
		Subject: "google:editor-1",
		OwnerID: "owner-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if principal.Owner.String() != "owner-1" {
		t.Fatalf("unexpected owner %q", principal.Owner)
	}
	if principal.Editor.String() != "editor-1" {
		t.Fatalf("unexpected editor %q", principal.Editor)
	}
}

func TestResolvePrincipalIsStableAcrossCalls(t *testing.T) {
	service := newTestService(t)
	claims := auth.SessionClaims{Subject: "editor-2", OwnerID: "owner-1"}

	first, err := service.ResolvePrincipal(claims)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := service.ResolvePrincipal(claims)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable principal, got %+v then %+v", first, second)
	}
}

func TestResolvePrincipalRejectsEmptyClaims(t *testing.T) {
	service := newTestService(t)

	if _, err := service.ResolvePrincipal(auth.SessionClaims{Subject: "", OwnerID: "owner-1"}); err == nil {
		t.Fatalf("expected error for empty subject")
	}
	if _, err := service.ResolvePrincipal(auth.SessionClaims{Subject: "editor-1", OwnerID: " "}); err == nil {
		t.Fatalf("expected error for empty owner")
	}
}
