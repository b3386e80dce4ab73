package batches

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
	json "github.com/goccy/go-json"
)

var (
	// ErrBatchExists indicates a record for the (list, day) pair was already created.
	ErrBatchExists = errors.New("batches: batch already recorded for this list and day")
	// ErrInvalidWordsJSON indicates a stored word list could not be decoded.
	ErrInvalidWordsJSON = errors.New("batches: invalid words json")
)

// Record is the persisted daily batch. It is created once and never updated.
type Record struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunDate   string    `gorm:"column:run_date;size:10;not null;uniqueIndex:ux_batches_list_day,priority:2"`
	ListName  string    `gorm:"column:list_name;size:190;not null;uniqueIndex:ux_batches_list_day,priority:1"`
	PDFURL    string    `gorm:"column:pdf_url;size:1024;not null;default:''"`
	AudioURL  string    `gorm:"column:audio_url;size:1024;not null;default:''"`
	WordsJSON string    `gorm:"column:words_json;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "daily_vocab_batches"
}

// Words decodes the stored word list.
func (r Record) Words() ([]vocab.Entry, error) {
	return DecodeWords(r.WordsJSON)
}

// NewRecord describes the batch to persist.
type NewRecord struct {
	List     vocab.ListName
	PDFURL   string
	AudioURL string
	Words    []vocab.Entry
}

// EncodeWords serializes the ordered word list for the words_json column.
func EncodeWords(words []vocab.Entry) (string, error) {
	if words == nil {
		words = []vocab.Entry{}
	}
	encoded, err := json.Marshal(words)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// DecodeWords restores the ordered word list written by EncodeWords.
func DecodeWords(raw string) ([]vocab.Entry, error) {
	if raw == "" {
		return []vocab.Entry{}, nil
	}
	var words []vocab.Entry
	if err := json.Unmarshal([]byte(raw), &words); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWordsJSON, err)
	}
	if words == nil {
		words = []vocab.Entry{}
	}
	return words, nil
}
