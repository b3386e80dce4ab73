package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeListNames = "2026-05-01_normalize_vocab_list_names"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeListNames, apply: normalizeListNames},
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
		if err := migration.apply(db, logger); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// normalizeListNames rewrites list names stored before normalization was enforced.
// Rows whose normalized (list, word) already exists are dropped in favour of the normalized row.
func normalizeListNames(db *gorm.DB, logger *zap.Logger) error {
	var rawNames []string
	if err := db.Model(&vocab.WordRecord{}).Distinct("list_name").Pluck("list_name", &rawNames).Error; err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for _, rawName := range rawNames {
			normalized, err := vocab.NormalizeListName(rawName)
			if err != nil {
				logger.Warn("dropping words with unusable list name", zap.String("list", rawName), zap.Error(err))
				if err := tx.Where("list_name = ?", rawName).Delete(&vocab.WordRecord{}).Error; err != nil {
					return err
				}
				continue
			}
			if normalized.String() == rawName {
				continue
			}
			duplicates := tx.Model(&vocab.WordRecord{}).
				Select("word").
				Where("list_name = ?", normalized.String())
			if err := tx.Where("list_name = ? AND word IN (?)", rawName, duplicates).Delete(&vocab.WordRecord{}).Error; err != nil {
				return err
			}
			if err := tx.Model(&vocab.WordRecord{}).
				Where("list_name = ?", rawName).
				Update("list_name", normalized.String()).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
