package docsource

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
)

const (
	documentPart       = "word/document.xml"
	wordprocessingNS   = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	maxDashesPerLine   = 5
	maxDocumentXMLSize = 32 << 20
)

var (
	// ErrNotDocx reports bytes that are not a Word document package.
	ErrNotDocx = errors.New("docsource: not a docx package")
)

// ExtractWordMeanings reads "word: meaning" lines from a DOCX file.
//
// Every paragraph is one candidate line. Lines without a colon or with more than
// five dashes are skipped, the line is split at its first colon, and both sides
// must be non-empty. Words are deduplicated case-insensitively: the entry stays at
// the position of its first occurrence and takes the meaning of its last.
func ExtractWordMeanings(docx []byte) ([]vocab.Entry, error) {
	paragraphs, err := Paragraphs(docx)
	if err != nil {
		return nil, err
	}
	return ParseLines(paragraphs), nil
}

// ParseLines applies the "word: meaning" rules to plain text lines.
func ParseLines(lines []string) []vocab.Entry {
	entries := make([]vocab.Entry, 0, len(lines))
	positions := make(map[string]int)
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || !strings.Contains(line, ":") {
			continue
		}
		if strings.Count(line, "-") > maxDashesPerLine {
			continue
		}
		word, meaning, _ := strings.Cut(line, ":")
		word = strings.TrimSpace(word)
		meaning = strings.TrimSpace(meaning)
		if word == "" || meaning == "" {
			continue
		}
		key := strings.ToLower(word)
		if index, seen := positions[key]; seen {
			entries[index] = vocab.Entry{Word: word, Meaning: meaning}
			continue
		}
		positions[key] = len(entries)
		entries = append(entries, vocab.Entry{Word: word, Meaning: meaning})
	}
	return entries
}

// Paragraphs returns the text of every w:p element in the main document part.
func Paragraphs(docx []byte) ([]string, error) {
	archive, err := zip.NewReader(bytes.NewReader(docx), int64(len(docx)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDocx, err)
	}
	var part *zip.File
	for _, file := range archive.File {
		if file.Name == documentPart {
			part = file
			break
		}
	}
	if part == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrNotDocx, documentPart)
	}
	reader, err := part.Open()
	if err != nil {
		return nil, fmt.Errorf("docsource: open %s: %w", documentPart, err)
	}
	defer reader.Close()

	decoder := xml.NewDecoder(io.LimitReader(reader, maxDocumentXMLSize))
	var paragraphs []string
	var current strings.Builder
	inParagraph := false
	inText := false
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("docsource: parse %s: %w", documentPart, err)
		}
		switch element := token.(type) {
		case xml.StartElement:
			if element.Name.Space != wordprocessingNS {
				continue
			}
			switch element.Name.Local {
			case "p":
				inParagraph = true
				current.Reset()
			case "t":
				inText = inParagraph
			}
		case xml.EndElement:
			if element.Name.Space != wordprocessingNS {
				continue
			}
			switch element.Name.Local {
			case "t":
				inText = false
			case "p":
				if inParagraph {
					paragraphs = append(paragraphs, strings.TrimSpace(current.String()))
				}
				inParagraph = false
			}
		case xml.CharData:
			if inText {
				current.Write(element)
			}
		}
	}
	return paragraphs, nil
}
