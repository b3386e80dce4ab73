package narrative

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
)

const (
	CategoryGeneral  = "general"
	CategorySoftware = "software"
)

// ErrUnknownCategory reports a category without a prompt template.
var ErrUnknownCategory = errors.New("narrative: unknown category")

var promptTemplates = map[string]string{
	CategoryGeneral:  "Write a simple and creative story using the following words: %s. Keep it under 150 words.",
	CategorySoftware: "Write a short software architecture story using the following vocabulary words: %s. Keep it under 150 words.",
}

// DefaultCategories lists the categories generated for every batch, in order.
func DefaultCategories() []string {
	return []string{CategoryGeneral, CategorySoftware}
}

// Story is the generated narrative for one category.
type Story struct {
	Category string
	Text     string
}

// Heading is the section title used in documents and scripts, e.g. "General Story".
func (s Story) Heading() string {
	category := strings.TrimSpace(s.Category)
	if category == "" {
		return "Story"
	}
	return strings.ToUpper(category[:1]) + category[1:] + " Story"
}

// Prompt builds the chat prompt for a category.
func Prompt(category string, words []vocab.Entry) (string, error) {
	template, ok := promptTemplates[category]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	list := make([]string, 0, len(words))
	for _, entry := range words {
		list = append(list, entry.Word)
	}
	return fmt.Sprintf(template, strings.Join(list, ", ")), nil
}

// CombinedScript is the text read aloud by speech synthesis: the word list with
// meanings followed by each story.
func CombinedScript(words []vocab.Entry, stories []Story) string {
	var builder strings.Builder
	builder.WriteString("Here are today's vocabulary words and meanings:\n")
	for _, entry := range words {
		builder.WriteString(entry.Word)
		builder.WriteString(": ")
		builder.WriteString(entry.Meaning)
		builder.WriteString("\n")
	}
	for _, story := range stories {
		if strings.TrimSpace(story.Text) == "" {
			continue
		}
		builder.WriteString("\n\nHere's a ")
		builder.WriteString(strings.ToLower(strings.TrimSpace(story.Category)))
		builder.WriteString(" story:\n")
		builder.WriteString(story.Text)
	}
	return builder.String()
}
