package batches

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew       = "batches.service.new"
	opFindForDay       = "batches.find_for_day"
	opCreate           = "batches.create"
	reasonMissingDB    = "missing_database"
	reasonQueryFailed  = "query_failed"
	reasonEncodeFailed = "encode_failed"
	reasonInsertFailed = "insert_failed"
	reasonDuplicate    = "duplicate"
	reasonInvalidDay   = "invalid_day"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
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

// ServiceConfig describes the dependencies of the batch record store.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns daily_vocab_batches.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the batch record store.
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
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// FindToday looks up the record for the list on the current calendar day.
func (s *Service) FindToday(ctx context.Context, list vocab.ListName) (Record, bool, error) {
	return s.FindForDay(ctx, list, vocab.Day(s.clock()))
}

// FindForDay looks up the record for the list on the given YYYY-MM-DD day.
func (s *Service) FindForDay(ctx context.Context, list vocab.ListName, day string) (Record, bool, error) {
	if s.db == nil {
		return Record{}, false, newServiceError(opFindForDay, reasonMissingDB, errMissingDatabase)
	}
	if _, err := time.Parse(vocab.DateLayout, day); err != nil {
		return Record{}, false, newServiceError(opFindForDay, reasonInvalidDay, err)
	}

	var record Record
	err := s.db.WithContext(ctx).
		Where("list_name = ? AND run_date = ?", list.String(), day).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		s.logError(opFindForDay, reasonQueryFailed, err, zap.String("list", list.String()), zap.String("day", day))
		return Record{}, false, newServiceError(opFindForDay, reasonQueryFailed, err)
	}
	return record, true, nil
}

// Create persists the batch for the given day (today when day is empty).
// A second record for the same list and day fails with ErrBatchExists.
func (s *Service) Create(ctx context.Context, day string, request NewRecord) (Record, error) {
	if s.db == nil {
		return Record{}, newServiceError(opCreate, reasonMissingDB, errMissingDatabase)
	}
	if day == "" {
		day = vocab.Day(s.clock())
	}
	if _, err := time.Parse(vocab.DateLayout, day); err != nil {
		return Record{}, newServiceError(opCreate, reasonInvalidDay, err)
	}
	wordsJSON, err := EncodeWords(request.Words)
	if err != nil {
		return Record{}, newServiceError(opCreate, reasonEncodeFailed, err)
	}

	record := Record{
		RunDate:   day,
		ListName:  request.List.String(),
		PDFURL:    request.PDFURL,
		AudioURL:  request.AudioURL,
		WordsJSON: wordsJSON,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			s.logger.Warn("batch already recorded",
				zap.String("list", request.List.String()),
				zap.String("day", day))
			return Record{}, newServiceError(opCreate, reasonDuplicate, ErrBatchExists)
		}
		s.logError(opCreate, reasonInsertFailed, err, zap.String("list", request.List.String()), zap.String("day", day))
		return Record{}, newServiceError(opCreate, reasonInsertFailed, err)
	}

	s.logger.Info("batch record saved",
		zap.String("list", record.ListName),
		zap.String("day", record.RunDate),
		zap.Int64("id", record.ID))
	return record, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT FAILED")
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	logger := noOpLogger
	if s != nil && s.logger != nil {
		logger = s.logger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("batches service error", attrs...)
}
