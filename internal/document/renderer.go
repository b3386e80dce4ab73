package document

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/layout"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/narrative"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
	"github.com/go-pdf/fpdf"
)

const (
	pageSizeA4      = "A4"
	unitPoints      = "pt"
	defaultFont     = "Helvetica"
	defaultTitle    = "Daily Vocabulary Batch"
	footerFontSize  = 9
	wordSeparator   = " — "
	paragraphMarker = "\n\n"
)

var errNoWords = errors.New("document: at least one word is required")

// Config controls page geometry and typography. Zero values fall back to A4 defaults.
type Config struct {
	Title      string
	Margins    layout.Margins
	LineHeight float64
	Styles     map[layout.Role]layout.Style
	Clock      func() time.Time
}

// Renderer turns a batch into a paginated PDF.
type Renderer struct {
	title    string
	geometry layout.Geometry
	styles   map[layout.Role]layout.Style
	clock    func() time.Time
}

// NewRenderer builds a renderer for A4 portrait pages measured in points.
func NewRenderer(cfg Config) *Renderer {
	probe := fpdf.New("P", unitPoints, pageSizeA4, "")
	width, height := probe.GetPageSize()

	margins := cfg.Margins
	if margins == (layout.Margins{}) {
		margins = layout.Margins{Top: 50, Right: 50, Bottom: 60, Left: 50}
	}
	lineHeight := cfg.LineHeight
	if lineHeight <= 0 {
		lineHeight = 18
	}
	styles := cfg.Styles
	if len(styles) == 0 {
		styles = DefaultStyles()
	}
	title := strings.TrimSpace(cfg.Title)
	if title == "" {
		title = defaultTitle
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Renderer{
		title: title,
		geometry: layout.Geometry{
			PageWidth:  width,
			PageHeight: height,
			Margins:    margins,
			LineHeight: lineHeight,
		},
		styles: styles,
		clock:  clock,
	}
}

// DefaultStyles returns the built-in role styles.
func DefaultStyles() map[layout.Role]layout.Style {
	return map[layout.Role]layout.Style{
		layout.RoleTitle:   {FontFamily: defaultFont, FontStyle: "B", FontSize: 18, LineHeight: 28, SpaceAfter: 12},
		layout.RoleHeading: {FontFamily: defaultFont, FontStyle: "B", FontSize: 13, LineHeight: 22, SpaceBefore: 14, SpaceAfter: 4},
		layout.RoleBody:    {FontFamily: defaultFont, FontSize: 11, SpaceAfter: 4},
	}
}

// Geometry exposes the page geometry used for layout.
func (r *Renderer) Geometry() layout.Geometry {
	return r.geometry
}

// BuildRequest arranges the batch into content blocks: the title, the word list,
// then one section per story with one block per paragraph.
func (r *Renderer) BuildRequest(list vocab.ListName, words []vocab.Entry, stories []narrative.Story, metrics layout.FontMetrics) layout.Request {
	blocks := []layout.Block{
		{Role: layout.RoleTitle, Text: r.title},
		{Role: layout.RoleBody, Text: fmt.Sprintf("%s · %s", displayName(list), r.clock().Format("January 2, 2006"))},
		{Role: layout.RoleHeading, Text: "Vocabulary Words"},
	}
	for _, entry := range words {
		blocks = append(blocks, layout.Block{Role: layout.RoleBody, Text: entry.Word + wordSeparator + entry.Meaning})
	}
	for _, story := range stories {
		blocks = append(blocks, layout.Block{Role: layout.RoleHeading, Text: story.Heading()})
		for _, paragraph := range strings.Split(story.Text, paragraphMarker) {
			if strings.TrimSpace(paragraph) == "" {
				continue
			}
			blocks = append(blocks, layout.Block{Role: layout.RoleBody, Text: paragraph})
		}
	}
	return layout.Request{
		Blocks:   blocks,
		Geometry: r.geometry,
		Styles:   r.styles,
		Metrics:  metrics,
	}
}

// Render lays out and draws the batch document.
func (r *Renderer) Render(list vocab.ListName, words []vocab.Entry, stories []narrative.Story) ([]byte, error) {
	if len(words) == 0 {
		return nil, errNoWords
	}
	metrics := NewPDFMetrics()
	pages, err := layout.Layout(r.BuildRequest(list, words, stories, metrics))
	if err != nil {
		return nil, fmt.Errorf("document: layout failed: %w", err)
	}
	return r.draw(pages)
}

func (r *Renderer) draw(pages []layout.Page) ([]byte, error) {
	pdf := fpdf.New("P", unitPoints, pageSizeA4, "")
	pdf.SetMargins(r.geometry.Margins.Left, r.geometry.Margins.Top, r.geometry.Margins.Right)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(r.title, true)
	pdf.SetCreator("vocabcast", false)
	pdf.SetCreationDate(r.clock())
	translate := pdf.UnicodeTranslatorFromDescriptor("")

	for _, page := range pages {
		pdf.AddPage()
		for _, line := range page.Lines {
			style := r.styleFor(line.Role)
			pdf.SetFont(style.FontFamily, style.FontStyle, style.FontSize)
			if line.Role == layout.RoleHeading {
				pdf.SetTextColor(25, 55, 130)
			} else {
				pdf.SetTextColor(0, 0, 0)
			}
			pdf.Text(r.geometry.Margins.Left, baseline(line, style), translate(line.Text))
		}

		pdf.SetFont(defaultFont, "", footerFontSize)
		pdf.SetTextColor(110, 110, 110)
		footer := translate(page.Footer)
		footerX := (r.geometry.PageWidth - pdf.GetStringWidth(footer)) / 2
		footerY := r.geometry.PageHeight - r.geometry.Margins.Bottom/2
		pdf.Text(footerX, footerY, footer)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("document: pdf generation failed: %w", err)
	}
	var buffer bytes.Buffer
	if err := pdf.Output(&buffer); err != nil {
		return nil, fmt.Errorf("document: pdf output failed: %w", err)
	}
	return buffer.Bytes(), nil
}

func (r *Renderer) styleFor(role layout.Role) layout.Style {
	if style, ok := r.styles[role]; ok {
		return style
	}
	return r.styles[layout.RoleBody]
}

// baseline centers the glyphs vertically in the line box.
func baseline(line layout.Line, style layout.Style) float64 {
	return line.Y + line.Height/2 + style.FontSize*0.35
}

func displayName(list vocab.ListName) string {
	words := strings.Fields(strings.ReplaceAll(list.String(), "_", " "))
	for index, word := range words {
		first, size := utf8.DecodeRuneInString(word)
		words[index] = string(unicode.ToUpper(first)) + word[size:]
	}
	return strings.Join(words, " ")
}
