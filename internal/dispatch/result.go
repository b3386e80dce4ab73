package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
)

// Outcome is the terminal state of one dispatch.
type Outcome string

const (
	OutcomeReused    Outcome = "reused"
	OutcomeGenerated Outcome = "generated"
	OutcomeEmpty     Outcome = "empty"
	OutcomeFailed    Outcome = "failed"
)

// Collaborator names used in warnings and metrics.
const (
	CollaboratorStory    = "story"
	CollaboratorDocument = "document"
	CollaboratorSpeech   = "speech"
	CollaboratorUpload   = "upload"
	CollaboratorMail     = "mail"
	CollaboratorVoice    = "voice"
)

// InfrastructureError reports a failed check, selection or persistence step.
// The whole dispatch is safe to retry.
type InfrastructureError struct {
	Step string
	Err  error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("dispatch: %s step failed: %v", e.Step, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// PartialDeliveryWarning records a best-effort collaborator that failed while the
// rest of the pipeline carried on.
type PartialDeliveryWarning struct {
	Collaborator string
	Err          error
}

func (w PartialDeliveryWarning) String() string {
	return fmt.Sprintf("%s: %v", w.Collaborator, w.Err)
}

// Result describes one finished dispatch.
type Result struct {
	List     vocab.ListName
	Day      string
	Outcome  Outcome
	Words    []vocab.Entry
	PDFURL   string
	AudioURL string
	Warnings []PartialDeliveryWarning
	// RaceLost is set when another writer persisted the day's record first and
	// the result was downgraded to that record.
	RaceLost bool
	// Resumed is set when the words were already marked for today but no record
	// existed, so artifacts were produced again for the same words.
	Resumed  bool
	Duration time.Duration
}

// Status is the short outcome name.
func (r Result) Status() string {
	if r.Outcome == "" {
		return string(OutcomeFailed)
	}
	return string(r.Outcome)
}

// Message is the human-readable status line returned to callers.
func (r Result) Message() string {
	var message string
	switch r.Outcome {
	case OutcomeReused:
		message = fmt.Sprintf("reused: today's batch for %s (%d words) was delivered again", r.List, len(r.Words))
	case OutcomeGenerated:
		message = fmt.Sprintf("generated: new batch for %s with %d words", r.List, len(r.Words))
	case OutcomeEmpty:
		message = fmt.Sprintf("empty: no unsent words left in %s", r.List)
	default:
		if r.List == "" {
			return "failed: the batch could not be processed"
		}
		return fmt.Sprintf("failed: the batch for %s could not be processed, try again later", r.List)
	}
	if len(r.Warnings) > 0 {
		names := make([]string, 0, len(r.Warnings))
		for _, warning := range r.Warnings {
			names = append(names, warning.Collaborator)
		}
		message += fmt.Sprintf(" (with warnings: %s)", strings.Join(names, ", "))
	}
	return message
}

// WarningTexts renders every warning as "collaborator: error".
func (r Result) WarningTexts() []string {
	texts := make([]string, 0, len(r.Warnings))
	for _, warning := range r.Warnings {
		texts = append(texts, warning.String())
	}
	return texts
}

// BatchEvent is published after every dispatch.
type BatchEvent struct {
	List       string    `json:"list"`
	Day        string    `json:"day"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	WordCount  int       `json:"wordCount"`
	PDFURL     string    `json:"pdfUrl,omitempty"`
	AudioURL   string    `json:"audioUrl,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventPublisher receives batch events.
type EventPublisher interface {
	Publish(event BatchEvent)
}

func eventFor(result Result, at time.Time) BatchEvent {
	return BatchEvent{
		List:       result.List.String(),
		Day:        result.Day,
		Status:     result.Status(),
		Message:    result.Message(),
		WordCount:  len(result.Words),
		PDFURL:     result.PDFURL,
		AudioURL:   result.AudioURL,
		Warnings:   result.WarningTexts(),
		OccurredAt: at,
	}
}
