package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillRowPointers = "2026-04-18_backfill_row_pointers"

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

// ApplyMigrations runs one-off repairs that AutoMigrate cannot express,
// recording each applied migration in a ledger table.
func ApplyMigrations(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&migrationRecord{}); err != nil {
		return err
	}

	migrations := []migrationDefinition{
		{name: migrationBackfillRowPointers, apply: backfillRowPointers},
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

// backfillRowPointers assigns row pointers to rows created before the pointer
// column existed. Pointers are append-only: max observed + 1, never reused.
func backfillRowPointers(db *gorm.DB) error {
	for _, table := range []string{"users", "user_dates"} {
		if !db.Migrator().HasTable(table) {
			continue
		}
		stmt := "UPDATE " + table + " AS t SET row_pointer = " +
			"(SELECT COALESCE(MAX(row_pointer), 1) FROM " + table + ") + " +
			"(SELECT COUNT(*) FROM " + table + " o WHERE o.row_pointer = 0 AND o.id <= t.id) " +
			"WHERE row_pointer = 0"
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
