package vocab

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	maxListNameLength = 190
	// DateLayout is the calendar-day representation used for sent_on and run_date columns.
	DateLayout = "2006-01-02"
)

var (
	// ErrInvalidListName indicates that a list name normalizes to nothing or exceeds storage bounds.
	ErrInvalidListName = errors.New("vocab: invalid list name")

	nonWordRun = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
)

// ListName represents a normalized vocabulary list name.
type ListName string

// NormalizeListName lowercases raw input, collapses every run of non-word characters
// into a single underscore and trims leading and trailing underscores.
func NormalizeListName(rawInput string) (ListName, error) {
	collapsed := nonWordRun.ReplaceAllString(rawInput, "_")
	normalized := strings.ToLower(strings.Trim(collapsed, "_"))
	if normalized == "" {
		return "", fmt.Errorf("%w: %q normalizes to empty", ErrInvalidListName, rawInput)
	}
	if len(normalized) > maxListNameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidListName, maxListNameLength)
	}
	return ListName(normalized), nil
}

// String returns the underlying list name.
func (name ListName) String() string {
	return string(name)
}

// Entry is a single word and its meaning.
type Entry struct {
	Word    string `json:"word"`
	Meaning string `json:"meaning"`
}

// WordRecord is a stored vocabulary word. SentAt stays nil until the word is part of a dispatched batch.
type WordRecord struct {
	ID        int64      `gorm:"column:id;primaryKey;autoIncrement"`
	ListName  string     `gorm:"column:list_name;size:190;not null;uniqueIndex:ux_vocab_list_word,priority:1;index:idx_vocab_list_sent_on,priority:1"`
	Word      string     `gorm:"column:word;size:512;not null;uniqueIndex:ux_vocab_list_word,priority:2"`
	Meaning   string     `gorm:"column:meaning;type:text;not null;default:''"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	SentAt    *time.Time `gorm:"column:sent_at"`
	SentOn    *string    `gorm:"column:sent_on;size:10;index:idx_vocab_list_sent_on,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (WordRecord) TableName() string {
	return "vocab_words"
}

// Entry converts the record into its word/meaning pair.
func (record WordRecord) Entry() Entry {
	return Entry{Word: record.Word, Meaning: record.Meaning}
}

// Day formats the calendar day of t in t's own location.
func Day(t time.Time) string {
	return t.Format(DateLayout)
}
