// Package dispatch produces and delivers the daily vocabulary batch for a list,
// at most once per list and calendar day.
//
// A dispatch checks for today's record first. When one exists its stored words
// and URLs are delivered again and nothing is regenerated. Otherwise words are
// selected and marked, stories, the document and the audio are produced and
// uploaded, the batch is delivered, and the record is created. Only the check,
// the selection and the record creation abort a dispatch; every other
// collaborator failure becomes a PartialDeliveryWarning on the result.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/batches"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/delivery"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/metrics"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/narrative"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/objectstore"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
	"go.uber.org/zap"
)

const (
	stepCheck   = "check"
	stepSelect  = "select"
	stepPersist = "persist"
)

var errMissingDependency = errors.New("dispatch: missing dependency")

// WordSelector picks today's words for a list.
type WordSelector interface {
	SelectBatchAt(ctx context.Context, list vocab.ListName, now time.Time, limit int) (vocab.Selection, error)
}

// RecordStore persists one batch record per list and day.
type RecordStore interface {
	FindForDay(ctx context.Context, list vocab.ListName, day string) (batches.Record, bool, error)
	Create(ctx context.Context, day string, request batches.NewRecord) (batches.Record, error)
}

// StoryGenerator writes one story per category.
type StoryGenerator interface {
	Generate(ctx context.Context, words []vocab.Entry, category string) (narrative.Story, error)
}

// SpeechSynthesizer turns the script into audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// DocumentRenderer produces the batch document.
type DocumentRenderer interface {
	Render(list vocab.ListName, words []vocab.Entry, stories []narrative.Story) ([]byte, error)
}

// Config wires a Dispatcher. Mailer, Voice and Events are optional.
type Config struct {
	Selector   WordSelector
	Records    RecordStore
	Stories    StoryGenerator
	Speech     SpeechSynthesizer
	Renderer   DocumentRenderer
	Uploader   objectstore.Uploader
	Mailer     delivery.Mailer
	Voice      delivery.VoiceNotifier
	Events     EventPublisher
	Categories []string
	Limit      int
	// FailOpen treats an unreachable record store during the check as "no record".
	FailOpen bool
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Dispatcher runs the batch state machine.
type Dispatcher struct {
	selector   WordSelector
	records    RecordStore
	stories    StoryGenerator
	speech     SpeechSynthesizer
	renderer   DocumentRenderer
	uploader   objectstore.Uploader
	mailer     delivery.Mailer
	voice      delivery.VoiceNotifier
	events     EventPublisher
	categories []string
	limit      int
	failOpen   bool
	clock      func() time.Time
	logger     *zap.Logger
	locks      *keyedLocks
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Selector == nil:
		return nil, fmt.Errorf("%w: selector", errMissingDependency)
	case cfg.Records == nil:
		return nil, fmt.Errorf("%w: record store", errMissingDependency)
	case cfg.Stories == nil:
		return nil, fmt.Errorf("%w: story generator", errMissingDependency)
	case cfg.Speech == nil:
		return nil, fmt.Errorf("%w: speech synthesizer", errMissingDependency)
	case cfg.Renderer == nil:
		return nil, fmt.Errorf("%w: document renderer", errMissingDependency)
	case cfg.Uploader == nil:
		return nil, fmt.Errorf("%w: uploader", errMissingDependency)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mailer := cfg.Mailer
	if mailer == nil {
		mailer = delivery.DisabledMailer{Logger: logger}
	}
	voice := cfg.Voice
	if voice == nil {
		voice = delivery.DisabledVoiceNotifier{Logger: logger}
	}
	categories := cfg.Categories
	if len(categories) == 0 {
		categories = narrative.DefaultCategories()
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = vocab.DefaultBatchLimit
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{
		selector:   cfg.Selector,
		records:    cfg.Records,
		stories:    cfg.Stories,
		speech:     cfg.Speech,
		renderer:   cfg.Renderer,
		uploader:   cfg.Uploader,
		mailer:     mailer,
		voice:      voice,
		events:     cfg.Events,
		categories: append([]string(nil), categories...),
		limit:      limit,
		failOpen:   cfg.FailOpen,
		clock:      clock,
		logger:     logger,
		locks:      newKeyedLocks(),
	}, nil
}

// Dispatch processes today's batch for rawList. Invocations for the same list and
// day are serialized. The returned Result is always usable for a status line,
// including when err is non-nil.
func (d *Dispatcher) Dispatch(ctx context.Context, rawList string) (Result, error) {
	started := d.clock()
	list, err := vocab.NormalizeListName(rawList)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, err
	}
	day := vocab.Day(started)

	unlock := d.locks.lock(list.String() + "|" + day)
	result, err := d.run(ctx, list, started)
	unlock()

	result.List = list
	result.Day = day
	if err != nil {
		result.Outcome = OutcomeFailed
	}
	result.Duration = d.clock().Sub(started)

	metrics.RecordDispatch(list.String(), result.Status(), result.Duration)
	fields := []zap.Field{
		zap.String("list", list.String()),
		zap.String("day", day),
		zap.String("status", result.Status()),
		zap.Int("words", len(result.Words)),
		zap.Strings("warnings", result.WarningTexts()),
		zap.Duration("duration", result.Duration),
	}
	if err != nil {
		d.logger.Error("batch dispatch failed", append(fields, zap.Error(err))...)
	} else {
		d.logger.Info("batch dispatch finished", fields...)
	}
	if d.events != nil {
		d.events.Publish(eventFor(result, d.clock()))
	}
	return result, err
}

func (d *Dispatcher) run(ctx context.Context, list vocab.ListName, started time.Time) (Result, error) {
	day := vocab.Day(started)
	record, found, err := d.records.FindForDay(ctx, list, day)
	if err != nil {
		if !d.failOpen {
			return Result{}, &InfrastructureError{Step: stepCheck, Err: err}
		}
		d.logger.Warn("record check failed, continuing as if no record exists",
			zap.String("list", list.String()),
			zap.Error(err))
		found = false
	}
	if found {
		return d.reuse(ctx, record)
	}
	return d.generate(ctx, list, started)
}

func (d *Dispatcher) reuse(ctx context.Context, record batches.Record) (Result, error) {
	words, err := record.Words()
	if err != nil {
		return Result{}, &InfrastructureError{Step: stepCheck, Err: err}
	}
	result := Result{
		Outcome:  OutcomeReused,
		Words:    words,
		PDFURL:   record.PDFURL,
		AudioURL: record.AudioURL,
	}
	d.deliver(ctx, &result)
	return result, nil
}

// generate selects, produces and records the batch for the day of started. The
// same instant stamps the selected words and keys the record.
func (d *Dispatcher) generate(ctx context.Context, list vocab.ListName, started time.Time) (Result, error) {
	day := vocab.Day(started)
	selection, err := d.selector.SelectBatchAt(ctx, list, started, d.limit)
	if err != nil {
		return Result{}, &InfrastructureError{Step: stepSelect, Err: err}
	}
	if len(selection.Words) == 0 {
		return Result{Outcome: OutcomeEmpty}, nil
	}

	result := Result{Outcome: OutcomeGenerated, Words: selection.Words, Resumed: selection.Reused}
	if selection.Reused {
		d.logger.Warn("words already marked today without a record, producing artifacts again",
			zap.String("list", list.String()))
	}

	stories := d.generateStories(ctx, &result)
	result.PDFURL = d.produceDocument(ctx, list, day, stories, &result)
	result.AudioURL = d.produceAudio(ctx, list, day, stories, &result)
	d.deliver(ctx, &result)

	_, err = d.records.Create(ctx, day, batches.NewRecord{
		List:     list,
		PDFURL:   result.PDFURL,
		AudioURL: result.AudioURL,
		Words:    result.Words,
	})
	if errors.Is(err, batches.ErrBatchExists) {
		return d.adoptWinner(ctx, list, day, result)
	}
	if err != nil {
		return result, &InfrastructureError{Step: stepPersist, Err: err}
	}
	return result, nil
}

// adoptWinner downgrades a lost creation race to the record that won it.
// Delivery already happened for this invocation and is not repeated.
func (d *Dispatcher) adoptWinner(ctx context.Context, list vocab.ListName, day string, ours Result) (Result, error) {
	winner, found, err := d.records.FindForDay(ctx, list, day)
	if err != nil {
		return ours, &InfrastructureError{Step: stepPersist, Err: err}
	}
	if !found {
		return ours, &InfrastructureError{Step: stepPersist, Err: batches.ErrBatchExists}
	}
	words, err := winner.Words()
	if err != nil {
		return ours, &InfrastructureError{Step: stepPersist, Err: err}
	}
	d.logger.Warn("lost the race to record today's batch, using the stored record",
		zap.String("list", list.String()),
		zap.String("day", day),
		zap.Int64("record_id", winner.ID))
	return Result{
		Outcome:  OutcomeReused,
		Words:    words,
		PDFURL:   winner.PDFURL,
		AudioURL: winner.AudioURL,
		Warnings: ours.Warnings,
		RaceLost: true,
	}, nil
}

func (d *Dispatcher) generateStories(ctx context.Context, result *Result) []narrative.Story {
	stories := make([]narrative.Story, 0, len(d.categories))
	for _, category := range d.categories {
		story, err := d.stories.Generate(ctx, result.Words, category)
		if err == nil && story.Text == "" {
			err = narrative.ErrEmptyCompletion
		}
		if err != nil {
			d.warn(result, CollaboratorStory, fmt.Errorf("%s: %w", category, err))
			continue
		}
		stories = append(stories, story)
	}
	return stories
}

func (d *Dispatcher) produceDocument(ctx context.Context, list vocab.ListName, day string, stories []narrative.Story, result *Result) string {
	pdf, err := d.renderer.Render(list, result.Words, stories)
	if err != nil {
		d.warn(result, CollaboratorDocument, err)
		return ""
	}
	return d.upload(ctx, objectstore.KindPDF, list, day, pdf, objectstore.ContentTypePDF, result)
}

func (d *Dispatcher) produceAudio(ctx context.Context, list vocab.ListName, day string, stories []narrative.Story, result *Result) string {
	audio, err := d.speech.Synthesize(ctx, narrative.CombinedScript(result.Words, stories))
	if err == nil && len(audio) == 0 {
		err = narrative.ErrEmptyAudio
	}
	if err != nil {
		d.warn(result, CollaboratorSpeech, err)
		return ""
	}
	return d.upload(ctx, objectstore.KindAudio, list, day, audio, objectstore.ContentTypeMP3, result)
}

func (d *Dispatcher) upload(ctx context.Context, kind string, list vocab.ListName, day string, data []byte, contentType string, result *Result) string {
	name, err := objectstore.ObjectName(kind, list, day)
	if err != nil {
		d.warn(result, CollaboratorUpload, err)
		return ""
	}
	url, err := d.uploader.Upload(ctx, data, name, contentType)
	if err != nil {
		d.warn(result, CollaboratorUpload, fmt.Errorf("%s: %w", kind, err))
		return ""
	}
	return url
}

func (d *Dispatcher) deliver(ctx context.Context, result *Result) {
	if err := d.mailer.Deliver(ctx, result.Words, result.PDFURL, delivery.Subject(d.clock())); err != nil {
		d.warn(result, CollaboratorMail, err)
	}
	if err := d.voice.Notify(ctx, result.AudioURL); err != nil {
		d.warn(result, CollaboratorVoice, err)
	}
}

func (d *Dispatcher) warn(result *Result, collaborator string, err error) {
	result.Warnings = append(result.Warnings, PartialDeliveryWarning{Collaborator: collaborator, Err: err})
	if errors.Is(err, delivery.ErrDisabled) {
		return
	}
	metrics.RecordCollaboratorFailure(collaborator)
	d.logger.Warn("collaborator failed, continuing",
		zap.String("collaborator", collaborator),
		zap.Error(err))
}
