package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/interconnecthub/console/internal/formats"
)

const migrationSeedBuiltinDataFormats = "2026-08-10_seed_builtin_data_formats"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedBuiltinDataFormats, apply: seedBuiltinDataFormats},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func seedBuiltinDataFormats(db *gorm.DB) error {
	return formats.Seed(db, []formats.DataFormat{
		{
			FormatName:  "CSV",
			DisplayName: "CSV",
			Parser:      datatypes.JSON(`{"function": "fn:csv-parser"}`),
			Writer:      datatypes.JSON(`{"function": "fn:csv-writer"}`),
		},
		{
			FormatName:  "JSON",
			DisplayName: "JSON",
			Parser:      datatypes.JSON(`{"function": "fn:json-parser"}`),
			Writer:      datatypes.JSON(`{"function": "fn:json-writer"}`),
		},
		{
			FormatName:  "XML",
			DisplayName: "XML",
			Parser:      datatypes.JSON(`{"function": "fn:xml-parser"}`),
			Writer:      datatypes.JSON(`{"function": "fn:xml-writer"}`),
		},
	})
}
