package core

import (
	"strings"
	"time"

	"pkt.systems/vtgrid/schema"
)

// Snapshot is a deep copy of the visible state of a Grid. Mutating a
// snapshot never affects the grid it came from.
type Snapshot struct {
	Size          schema.Size
	Cells         [][]Cell
	CursorX       int
	CursorY       int
	CursorVisible bool
	ScrollTop     int
	ScrollBottom  int
	AltActive     bool
	Title         string
	Seq           uint64
	TakenAt       time.Time
}

// Snapshot copies the active cell array and cursor state.
func (g *Grid) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	buf := g.active()
	cells := make([][]Cell, g.rows)
	for y := range cells {
		cells[y] = make([]Cell, g.cols)
		copy(cells[y], buf[y])
	}
	return Snapshot{
		Size:          schema.Size{Cols: g.cols, Rows: g.rows},
		Cells:         cells,
		CursorX:       g.cursorX,
		CursorY:       g.cursorY,
		CursorVisible: g.cursorVisible,
		ScrollTop:     g.scrollTop,
		ScrollBottom:  g.scrollBottom,
		AltActive:     g.altActive,
		Title:         g.title,
		Seq:           g.seq,
		TakenAt:       g.now(),
	}
}

// Line returns the text of one row with trailing blanks trimmed.
// Spacer cells behind wide characters contribute nothing.
func (s Snapshot) Line(y int) string {
	if y < 0 || y >= len(s.Cells) {
		return ""
	}
	var b strings.Builder
	row := s.Cells[y]
	for x := 0; x < len(row); x++ {
		c := row[x]
		if c.Blank() {
			b.WriteByte(' ')
			continue
		}
		b.WriteString(c.Char)
		if c.Width == 2 {
			x++
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// String renders the snapshot as plain text, one line per row, with
// trailing blank lines omitted. Implements fmt.Stringer.
func (s Snapshot) String() string {
	lines := make([]string, len(s.Cells))
	last := -1
	for y := range s.Cells {
		lines[y] = s.Line(y)
		if lines[y] != "" {
			last = y
		}
	}
	if last < 0 {
		return ""
	}
	return strings.Join(lines[:last+1], "\n")
}
