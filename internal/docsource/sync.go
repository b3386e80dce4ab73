package docsource

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/metrics"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// WordStore persists extracted entries for a list.
type WordStore interface {
	StoreVocabulary(ctx context.Context, list vocab.ListName, entries []vocab.Entry) (int, error)
}

// SyncerConfig wires a Syncer.
type SyncerConfig struct {
	Source      Source
	Store       WordStore
	Concurrency int
	Logger      *zap.Logger
}

// Syncer copies every source document into the word store.
type Syncer struct {
	source      Source
	store       WordStore
	concurrency int
	logger      *zap.Logger
}

// SyncReport summarizes one sync run.
type SyncReport struct {
	Documents int            `json:"documents"`
	Stored    map[string]int `json:"stored"`
	Skipped   []string       `json:"skipped"`
	Failed    []string       `json:"failed"`
}

// Summary is a one-line status message.
func (r SyncReport) Summary() string {
	if r.Documents == 0 {
		return "No documents found in the source."
	}
	words := 0
	for _, count := range r.Stored {
		words += count
	}
	return fmt.Sprintf("Vocab sync completed: %d documents, %d lists updated, %d words stored, %d skipped, %d failed.",
		r.Documents, len(r.Stored), words, len(r.Skipped), len(r.Failed))
}

// NewSyncer validates cfg.
func NewSyncer(cfg SyncerConfig) (*Syncer, error) {
	if cfg.Source == nil || cfg.Store == nil {
		return nil, errors.New("docsource: syncer requires a source and a store")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{source: cfg.Source, store: cfg.Store, concurrency: concurrency, logger: logger}, nil
}

// Sync downloads documents concurrently and stores each one's entries under the
// list named after the document. A failing document is logged and recorded in
// the report; only a failure to list documents fails the run.
func (s *Syncer) Sync(ctx context.Context) (SyncReport, error) {
	documents, err := s.source.ListDocuments(ctx)
	if err != nil {
		s.logger.Error("sync failed to list documents", zap.Error(err))
		return SyncReport{}, fmt.Errorf("docsource: list documents: %w", err)
	}

	report := SyncReport{Documents: len(documents), Stored: map[string]int{}, Skipped: []string{}, Failed: []string{}}
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for _, document := range documents {
		document := document
		group.Go(func() error {
			list, stored, err := s.syncDocument(groupCtx, document)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed = append(report.Failed, document.Name)
				metrics.SyncedDocuments.WithLabelValues("failed").Inc()
				s.logger.Error("sync document failed", zap.String("document", document.Name), zap.Error(err))
			case stored == 0:
				report.Skipped = append(report.Skipped, document.Name)
				metrics.SyncedDocuments.WithLabelValues("skipped").Inc()
			default:
				report.Stored[list.String()] += stored
				metrics.SyncedDocuments.WithLabelValues("stored").Inc()
			}
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}
	s.logger.Info("vocabulary sync completed",
		zap.Int("documents", report.Documents),
		zap.Int("lists", len(report.Stored)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

func (s *Syncer) syncDocument(ctx context.Context, document Document) (vocab.ListName, int, error) {
	list, err := vocab.NormalizeListName(document.Name)
	if err != nil {
		return "", 0, err
	}
	content, err := s.source.Download(ctx, document.ID)
	if err != nil {
		return list, 0, err
	}
	if len(content) == 0 {
		s.logger.Warn("sync skipped empty document", zap.String("document", document.Name))
		return list, 0, nil
	}
	entries, err := ExtractWordMeanings(content)
	if err != nil {
		return list, 0, err
	}
	if len(entries) == 0 {
		s.logger.Warn("sync found no vocabulary", zap.String("document", document.Name))
		return list, 0, nil
	}
	stored, err := s.store.StoreVocabulary(ctx, list, entries)
	if err != nil {
		return list, 0, err
	}
	s.logger.Info("sync stored document",
		zap.String("document", document.Name),
		zap.String("list", list.String()),
		zap.Int("entries", stored))
	return list, stored, nil
}
