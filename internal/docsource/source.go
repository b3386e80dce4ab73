// Package docsource fetches vocabulary documents and loads their entries into the word store.
package docsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const docxExtension = ".docx"

// ErrDocumentNotFound reports an unknown document id.
var ErrDocumentNotFound = errors.New("docsource: document not found")

// Document identifies one source file. Name becomes the list name.
type Document struct {
	ID   string
	Name string
}

// Source lists vocabulary documents and downloads them as DOCX bytes.
type Source interface {
	ListDocuments(ctx context.Context) ([]Document, error)
	Download(ctx context.Context, id string) ([]byte, error)
}

// DirectorySource reads .docx files from a local directory.
type DirectorySource struct {
	root string
}

// NewDirectorySource returns a source rooted at dir.
func NewDirectorySource(dir string) *DirectorySource {
	return &DirectorySource{root: dir}
}

// ListDocuments returns every .docx file in the directory, sorted by name.
func (s *DirectorySource) ListDocuments(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("docsource: read directory %s: %w", s.root, err)
	}
	documents := make([]Document, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), docxExtension) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		documents = append(documents, Document{ID: entry.Name(), Name: name})
	}
	sort.Slice(documents, func(i, j int) bool { return documents[i].ID < documents[j].ID })
	return documents, nil
}

// Download reads one file. The id must be a bare file name from ListDocuments.
func (s *DirectorySource) Download(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" || id != filepath.Base(id) {
		return nil, fmt.Errorf("%w: %q", ErrDocumentNotFound, id)
	}
	content, err := os.ReadFile(filepath.Join(s.root, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("docsource: read %s: %w", id, err)
	}
	return content, nil
}
