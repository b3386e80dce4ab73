// Package layout word-wraps and paginates content blocks onto fixed-size pages.
//
// Layout is a pure function of its Request: text is measured only through the
// supplied FontMetrics, so identical requests always produce identical pages and
// no drawing surface is needed to compute them.
package layout

import (
	"errors"
	"fmt"
	"strings"
)

// Role classifies a content block. It selects the block's Style; it never
// changes how text is wrapped.
type Role int

const (
	RoleBody Role = iota
	RoleHeading
	RoleTitle
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleTitle:
		return "title"
	case RoleHeading:
		return "heading"
	default:
		return "body"
	}
}

// Block is one paragraph of content.
type Block struct {
	Role Role
	Text string
}

// Style describes how a role is set. LineHeight overrides Geometry.LineHeight when positive.
type Style struct {
	FontFamily  string
	FontStyle   string
	FontSize    float64
	LineHeight  float64
	SpaceBefore float64
	SpaceAfter  float64
}

// Margins are the non-printable borders of a page.
type Margins struct {
	Top    float64
	Right  float64
	Bottom float64
	Left   float64
}

// Geometry is the page size, margins and default line height, all in the same unit.
type Geometry struct {
	PageWidth  float64
	PageHeight float64
	Margins    Margins
	LineHeight float64
}

// UsableWidth is the page width minus the left and right margins.
func (g Geometry) UsableWidth() float64 {
	return g.PageWidth - g.Margins.Left - g.Margins.Right
}

// UsableHeight is the page height minus the top and bottom margins.
func (g Geometry) UsableHeight() float64 {
	return g.PageHeight - g.Margins.Top - g.Margins.Bottom
}

// FontMetrics measures the rendered width of text set in a style.
type FontMetrics interface {
	Measure(text string, style Style) float64
}

// MetricsFunc adapts a function to FontMetrics.
type MetricsFunc func(text string, style Style) float64

// Measure calls f.
func (f MetricsFunc) Measure(text string, style Style) float64 {
	return f(text, style)
}

// Request is the input of Layout. Roles missing from Styles fall back to the body style.
type Request struct {
	Blocks   []Block
	Geometry Geometry
	Styles   map[Role]Style
	Metrics  FontMetrics
}

// Line is a laid-out line; Y is the top of the line box measured from the top of the page.
type Line struct {
	Text   string
	Role   Role
	Y      float64
	Height float64
	Width  float64
}

// Page is one finished page. Index is zero-based; Footer reads "Page i of N".
type Page struct {
	Index  int
	Lines  []Line
	Footer string
}

// Texts returns the text of every line on the page in order.
func (p Page) Texts() []string {
	texts := make([]string, 0, len(p.Lines))
	for _, line := range p.Lines {
		texts = append(texts, line.Text)
	}
	return texts
}

// ContentHeight is the distance from the top margin to the bottom of the last line.
func (p Page) ContentHeight(g Geometry) float64 {
	if len(p.Lines) == 0 {
		return 0
	}
	last := p.Lines[len(p.Lines)-1]
	return last.Y + last.Height - g.Margins.Top
}

var (
	// ErrInvalidGeometry reports a page that cannot hold a single line.
	ErrInvalidGeometry = errors.New("layout: invalid page geometry")
	// ErrMissingMetrics reports a request without font metrics.
	ErrMissingMetrics = errors.New("layout: font metrics are required")
)

// Layout wraps every block to the usable width and distributes the lines over pages.
// A token wider than the usable width is placed alone on its own line, unbroken.
// Footers are assigned only after the last page is closed.
func Layout(request Request) ([]Page, error) {
	if request.Metrics == nil {
		return nil, ErrMissingMetrics
	}
	geometry := request.Geometry
	if err := validateGeometry(geometry, request.Styles); err != nil {
		return nil, err
	}

	pages := []Page{{Index: 0}}
	position := newCursor(geometry)
	usableWidth := geometry.UsableWidth()

	for _, block := range request.Blocks {
		style := styleFor(request.Styles, block.Role)
		lineHeight := lineHeightFor(style, geometry)
		lines := wrap(block.Text, style, usableWidth, request.Metrics)
		if len(lines) == 0 {
			continue
		}

		position = position.space(style.SpaceBefore)
		for _, text := range lines {
			var placedAt float64
			var opened bool
			position, placedAt, opened = position.place(lineHeight)
			if opened {
				pages = append(pages, Page{Index: position.page})
			}
			current := &pages[position.page]
			current.Lines = append(current.Lines, Line{
				Text:   text,
				Role:   block.Role,
				Y:      placedAt,
				Height: lineHeight,
				Width:  request.Metrics.Measure(text, style),
			})
		}
		position = position.space(style.SpaceAfter)
	}

	return numberPages(pages), nil
}

func numberPages(pages []Page) []Page {
	total := len(pages)
	for index := range pages {
		pages[index].Footer = fmt.Sprintf("Page %d of %d", index+1, total)
	}
	return pages
}

func validateGeometry(geometry Geometry, styles map[Role]Style) error {
	if geometry.UsableWidth() <= 0 {
		return fmt.Errorf("%w: usable width %.2f", ErrInvalidGeometry, geometry.UsableWidth())
	}
	for _, role := range []Role{RoleBody, RoleHeading, RoleTitle} {
		height := lineHeightFor(styleFor(styles, role), geometry)
		if height <= 0 {
			return fmt.Errorf("%w: %s line height %.2f", ErrInvalidGeometry, role, height)
		}
		if height > geometry.UsableHeight() {
			return fmt.Errorf("%w: %s line height %.2f exceeds usable height %.2f", ErrInvalidGeometry, role, height, geometry.UsableHeight())
		}
	}
	return nil
}

func styleFor(styles map[Role]Style, role Role) Style {
	if style, ok := styles[role]; ok {
		return style
	}
	return styles[RoleBody]
}

func lineHeightFor(style Style, geometry Geometry) float64 {
	if style.LineHeight > 0 {
		return style.LineHeight
	}
	return geometry.LineHeight
}

// wrap greedily fills lines up to maxWidth.
func wrap(text string, style Style, maxWidth float64, metrics FontMetrics) []string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}

	var lines []string
	buffer := ""
	for _, token := range tokens {
		candidate := token
		if buffer != "" {
			candidate = buffer + " " + token
		}
		if metrics.Measure(candidate, style) <= maxWidth {
			buffer = candidate
			continue
		}
		if buffer != "" {
			lines = append(lines, buffer)
			buffer = ""
		}
		if metrics.Measure(token, style) > maxWidth {
			lines = append(lines, token)
			continue
		}
		buffer = token
	}
	if buffer != "" {
		lines = append(lines, buffer)
	}
	return lines
}
