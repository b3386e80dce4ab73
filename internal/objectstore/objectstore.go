// Package objectstore uploads rendered artifacts and returns their public URLs.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
	"github.com/google/uuid"
)

const (
	KindPDF   = "pdf"
	KindAudio = "audio"

	ContentTypePDF  = "application/pdf"
	ContentTypeMP3  = "audio/mpeg"
	extensionPDF    = "pdf"
	extensionMP3    = "mp3"
	fallbackKindDir = "misc"
)

var (
	// ErrEmptyObject reports an upload without content.
	ErrEmptyObject = errors.New("objectstore: object content is empty")
	// ErrInvalidName reports an object name that is empty or escapes its root.
	ErrInvalidName = errors.New("objectstore: invalid object name")
)

// Uploader stores bytes under a name and returns the URL the object is served from.
type Uploader interface {
	Upload(ctx context.Context, data []byte, name string, contentType string) (string, error)
}

// ObjectName builds a collision-free key: <kind>/<list>/<day>_<uuidv7>.<ext>.
func ObjectName(kind string, list vocab.ListName, day string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("objectstore: generate object id: %w", err)
	}
	directory := kind
	extension := kind
	switch kind {
	case KindPDF:
		extension = extensionPDF
	case KindAudio:
		extension = extensionMP3
	default:
		directory = fallbackKindDir
	}
	return fmt.Sprintf("%s/%s/%s_%s.%s", directory, list.String(), day, id.String(), extension), nil
}

// KindOf returns the artifact kind encoded in an object name.
func KindOf(name string) string {
	kind, _, found := strings.Cut(name, "/")
	if !found {
		return ""
	}
	return kind
}

func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || strings.HasPrefix(trimmed, "/") {
		return ErrInvalidName
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." || segment == "" {
			return ErrInvalidName
		}
	}
	return nil
}
