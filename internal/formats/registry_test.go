package formats

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestRegistry(t *testing.T) (*Registry, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:formats_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&DataFormat{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	registry, err := NewRegistry(RegistryConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct registry: %v", err)
	}
	return registry, db
}

func seedFormat(t *testing.T, db *gorm.DB, name, display string) {
	t.Helper()
	entry := DataFormat{
		FormatName:  name,
		DisplayName: display,
		Parser:      datatypes.JSON([]byte(`{"function":"fn:` + display + `-parser"}`)),
		Writer:      datatypes.JSON([]byte(`{"function":"fn:` + display + `-writer"}`)),
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("failed to seed format: %v", err)
	}
}

func TestGetByNameNormalizesCase(t *testing.T) {
	registry, db := newTestRegistry(t)
	seedFormat(t, db, "CSV", "Csv")

	format, err := registry.GetByName(context.Background(), "csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if format == nil {
		t.Fatalf("expected format for lower-cased lookup")
	}
	if format.DisplayName != "Csv" {
		t.Fatalf("unexpected display name %q", format.DisplayName)
	}
}

func TestGetByNameUnknownReturnsNil(t *testing.T) {
	registry, _ := newTestRegistry(t)

	format, err := registry.GetByName(context.Background(), "parquet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if format != nil {
		t.Fatalf("expected nil for unknown format, got %+v", format)
	}
}

func TestSeedSkipsExistingEntries(t *testing.T) {
	registry, db := newTestRegistry(t)
	seedFormat(t, db, "JSON", "Json")

	err := Seed(db, []DataFormat{
		{FormatName: "JSON", DisplayName: "Overwritten", Parser: datatypes.JSON([]byte(`{}`)), Writer: datatypes.JSON([]byte(`{}`))},
		{FormatName: "XML", DisplayName: "Xml", Parser: datatypes.JSON([]byte(`{"function":"fn:xml-parser"}`)), Writer: datatypes.JSON([]byte(`{"function":"fn:xml-writer"}`))},
	})
	if err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}

	existing, err := registry.GetByName(context.Background(), "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if existing.DisplayName != "Json" {
		t.Fatalf("seed should not overwrite existing format, got %q", existing.DisplayName)
	}

	all, err := registry.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 formats, got %d", len(all))
	}
}
