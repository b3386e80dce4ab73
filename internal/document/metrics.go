package document

import (
	"sync"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/layout"
	"github.com/go-pdf/fpdf"
)

// PDFMetrics measures text with the core PDF font tables, in points.
type PDFMetrics struct {
	mu        sync.Mutex
	pdf       *fpdf.Fpdf
	translate func(string) string
}

// NewPDFMetrics returns metrics backed by a scratch fpdf document.
func NewPDFMetrics() *PDFMetrics {
	pdf := fpdf.New("P", unitPoints, pageSizeA4, "")
	return &PDFMetrics{
		pdf:       pdf,
		translate: pdf.UnicodeTranslatorFromDescriptor(""),
	}
}

// Measure implements layout.FontMetrics.
func (m *PDFMetrics) Measure(text string, style layout.Style) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	family := style.FontFamily
	if family == "" {
		family = defaultFont
	}
	m.pdf.SetFont(family, style.FontStyle, style.FontSize)
	return m.pdf.GetStringWidth(m.translate(text))
}
