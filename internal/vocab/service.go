package vocab

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew       = "vocab.service.new"
	opStoreVocabulary  = "vocab.store_vocabulary"
	opSelectBatch      = "vocab.select_batch"
	opListStats        = "vocab.list_stats"
	reasonMissingDB    = "missing_database"
	reasonQueryFailed  = "query_failed"
	reasonUpsertFailed = "upsert_failed"
	reasonMarkFailed   = "mark_failed"
	reasonMarkConflict = "mark_conflict"
	reasonInvalidLimit = "invalid_limit"

	// DefaultBatchLimit is the number of words in one daily batch.
	DefaultBatchLimit = 10
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errInvalidLimit    = errors.New("batch limit must be positive")
	// ErrSelectionConflict reports that another invocation marked the selected words first.
	ErrSelectionConflict = errors.New("vocab: words were marked by a concurrent selection")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
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

// Code returns the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the word store.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns vocab_words: it stores extracted words and selects daily batches.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the word store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDB, errMissingDatabase)
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
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

// StoreVocabulary upserts entries into the list; an existing word gets its meaning replaced.
func (s *Service) StoreVocabulary(ctx context.Context, list ListName, entries []Entry) (int, error) {
	if s.db == nil {
		return 0, newServiceError(opStoreVocabulary, reasonMissingDB, errMissingDatabase)
	}
	records := make([]WordRecord, 0, len(entries))
	positions := make(map[string]int, len(entries))
	for _, entry := range entries {
		word := strings.TrimSpace(entry.Word)
		if word == "" {
			continue
		}
		meaning := strings.TrimSpace(entry.Meaning)
		if index, seen := positions[word]; seen {
			records[index].Meaning = meaning
			continue
		}
		positions[word] = len(records)
		records = append(records, WordRecord{
			ListName: list.String(),
			Word:     word,
			Meaning:  meaning,
		})
	}
	if len(records) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "list_name"}, {Name: "word"}},
			DoUpdates: clause.AssignmentColumns([]string{"meaning"}),
		}).
		Create(&records).Error
	if err != nil {
		s.logError(opStoreVocabulary, reasonUpsertFailed, err, zap.String("list", list.String()))
		return 0, newServiceError(opStoreVocabulary, reasonUpsertFailed, err)
	}

	s.logger.Info("vocabulary stored", zap.String("list", list.String()), zap.Int("count", len(records)))
	return len(records), nil
}

// ListStats summarizes the state of one list.
type ListStats struct {
	List       ListName
	Total      int64
	Unsent     int64
	SentToday  int64
	LastSentOn string
}

// Stats counts total, unsent and sent-today words for the list.
func (s *Service) Stats(ctx context.Context, list ListName) (ListStats, error) {
	if s.db == nil {
		return ListStats{}, newServiceError(opListStats, reasonMissingDB, errMissingDatabase)
	}
	stats := ListStats{List: list}
	today := Day(s.clock())
	base := s.db.WithContext(ctx).Model(&WordRecord{}).Where("list_name = ?", list.String()).Session(&gorm.Session{})

	if err := base.Count(&stats.Total).Error; err != nil {
		return ListStats{}, newServiceError(opListStats, reasonQueryFailed, err)
	}
	if err := base.Where("sent_at IS NULL").Count(&stats.Unsent).Error; err != nil {
		return ListStats{}, newServiceError(opListStats, reasonQueryFailed, err)
	}
	if err := base.Where("sent_on = ?", today).Count(&stats.SentToday).Error; err != nil {
		return ListStats{}, newServiceError(opListStats, reasonQueryFailed, err)
	}
	var lastSentOn sql.NullString
	if err := base.Select("MAX(sent_on)").Row().Scan(&lastSentOn); err != nil {
		return ListStats{}, newServiceError(opListStats, reasonQueryFailed, err)
	}
	stats.LastSentOn = lastSentOn.String
	return stats, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
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
	s.loggerOrDefault().Error("vocab service error", attrs...)
}
