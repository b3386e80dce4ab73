package vocab

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Selection is the outcome of SelectBatch. Reused is true when the words had
// already been marked as sent today and nothing was mutated.
type Selection struct {
	Words  []Entry
	Reused bool
}

// SelectBatch picks today's batch for the list using the service clock.
func (s *Service) SelectBatch(ctx context.Context, list ListName, limit int) (Selection, error) {
	return s.SelectBatchAt(ctx, list, s.clock(), limit)
}

// SelectBatchAt picks the batch for the calendar day of now.
//
// Words already sent that day are returned unchanged, ordered by id. Otherwise up to
// limit unsent words are selected and marked sent at now in the same transaction, so
// a failure never leaves part of a batch marked.
func (s *Service) SelectBatchAt(ctx context.Context, list ListName, now time.Time, limit int) (Selection, error) {
	if s.db == nil {
		s.logError(opSelectBatch, reasonMissingDB, errMissingDatabase)
		return Selection{}, newServiceError(opSelectBatch, reasonMissingDB, errMissingDatabase)
	}
	if limit <= 0 {
		return Selection{}, newServiceError(opSelectBatch, reasonInvalidLimit, errInvalidLimit)
	}

	today := Day(now)
	var selection Selection

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sentToday []WordRecord
		if err := tx.
			Where("list_name = ? AND sent_on = ?", list.String(), today).
			Order("id ASC").
			Limit(limit).
			Find(&sentToday).Error; err != nil {
			s.logError(opSelectBatch, reasonQueryFailed, err, zap.String("list", list.String()))
			return newServiceError(opSelectBatch, reasonQueryFailed, err)
		}
		if len(sentToday) > 0 {
			selection = Selection{Words: toEntries(sentToday), Reused: true}
			return nil
		}

		var unsent []WordRecord
		if err := tx.
			Where("list_name = ? AND sent_at IS NULL", list.String()).
			Order("id ASC").
			Limit(limit).
			Find(&unsent).Error; err != nil {
			s.logError(opSelectBatch, reasonQueryFailed, err, zap.String("list", list.String()))
			return newServiceError(opSelectBatch, reasonQueryFailed, err)
		}
		if len(unsent) == 0 {
			selection = Selection{}
			return nil
		}

		ids := make([]int64, 0, len(unsent))
		for _, record := range unsent {
			ids = append(ids, record.ID)
		}
		update := tx.Model(&WordRecord{}).
			Where("id IN ? AND sent_at IS NULL", ids).
			Updates(map[string]interface{}{
				"sent_at": now,
				"sent_on": today,
			})
		if update.Error != nil {
			s.logError(opSelectBatch, reasonMarkFailed, update.Error, zap.String("list", list.String()))
			return newServiceError(opSelectBatch, reasonMarkFailed, update.Error)
		}
		if update.RowsAffected != int64(len(ids)) {
			s.logError(opSelectBatch, reasonMarkConflict, ErrSelectionConflict,
				zap.String("list", list.String()),
				zap.Int64("marked", update.RowsAffected),
				zap.Int("selected", len(ids)))
			return newServiceError(opSelectBatch, reasonMarkConflict, ErrSelectionConflict)
		}

		selection = Selection{Words: toEntries(unsent), Reused: false}
		return nil
	})
	if txErr != nil {
		var serviceErr *ServiceError
		if errors.As(txErr, &serviceErr) {
			return Selection{}, txErr
		}
		s.logError(opSelectBatch, reasonQueryFailed, txErr, zap.String("list", list.String()))
		return Selection{}, newServiceError(opSelectBatch, reasonQueryFailed, txErr)
	}

	if selection.Reused {
		s.logger.Info("words already sent today", zap.String("list", list.String()), zap.Int("count", len(selection.Words)))
	} else if len(selection.Words) > 0 {
		s.logger.Info("marked new words as sent", zap.String("list", list.String()), zap.Int("count", len(selection.Words)))
	} else {
		s.logger.Info("no unsent words left", zap.String("list", list.String()))
	}
	return selection, nil
}

func toEntries(records []WordRecord) []Entry {
	entries := make([]Entry, 0, len(records))
	for _, record := range records {
		entries = append(entries, record.Entry())
	}
	return entries
}
