package layout

// cursor is the write position. Its methods return a new cursor instead of
// mutating the receiver.
type cursor struct {
	page   int
	y      float64
	top    float64
	bottom float64
}

func newCursor(geometry Geometry) cursor {
	return cursor{
		page:   0,
		y:      geometry.Margins.Top,
		top:    geometry.Margins.Top,
		bottom: geometry.PageHeight - geometry.Margins.Bottom,
	}
}

// atTop reports whether nothing has been placed on the current page yet.
func (c cursor) atTop() bool {
	return c.y == c.top
}

// space adds vertical spacing. Spacing at the top of a page is dropped.
func (c cursor) space(amount float64) cursor {
	if amount <= 0 || c.atTop() {
		return c
	}
	c.y += amount
	return c
}

// place reserves height for one line. When the line would cross the bottom
// margin the cursor moves to the top of a new page first; opened reports that.
func (c cursor) place(height float64) (next cursor, placedAt float64, opened bool) {
	if c.y+height > c.bottom && !c.atTop() {
		c.page++
		c.y = c.top
		opened = true
	}
	placedAt = c.y
	c.y += height
	return c, placedAt, opened
}
