package core

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
	"github.com/rivo/uniseg"

	"pkt.systems/vtgrid/schema"
)

// Grid is a versioned terminal screen. It holds a primary and an
// alternate cell array sharing one geometry, one pen and one monotonic
// write counter, so sequence numbers stay comparable across buffer
// switches. All methods are safe for concurrent use.
type Grid struct {
	mu sync.Mutex

	cols int
	rows int

	primary   [][]Cell
	alt       [][]Cell
	altActive bool

	cursorX       int
	cursorY       int
	cursorVisible bool
	savedX        int
	savedY        int

	// scrollTop and scrollBottom are inclusive row indexes.
	scrollTop    int
	scrollBottom int

	// wrapPending defers the wrap after writing in the last column
	// until the next printable character, keeping the cursor in bounds.
	wrapPending bool

	pen   pen
	title string

	// lastX/lastY locate the most recently written cell so combining
	// marks arriving in a later chunk can attach to it.
	lastX     int
	lastY     int
	lastWrote bool

	seq uint64
	now func() time.Time
}

// GridOption configures a Grid.
type GridOption func(*Grid)

// WithClock sets the time source used to stamp cell writes.
func WithClock(now func() time.Time) GridOption {
	return func(g *Grid) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGrid returns a grid with the given geometry. Dimensions below one
// column or row are raised to one.
func NewGrid(cols, rows int, opts ...GridOption) *Grid {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	g := &Grid{
		cols:          cols,
		rows:          rows,
		primary:       newCells(cols, rows),
		alt:           newCells(cols, rows),
		cursorVisible: true,
		scrollBottom:  rows - 1,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func newCells(cols, rows int) [][]Cell {
	out := make([][]Cell, rows)
	for y := range out {
		out[y] = make([]Cell, cols)
	}
	return out
}

// Size returns the current geometry.
func (g *Grid) Size() schema.Size {
	g.mu.Lock()
	defer g.mu.Unlock()
	return schema.Size{Cols: g.cols, Rows: g.rows}
}

// LastSeq returns the most recently issued write counter value.
func (g *Grid) LastSeq() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// CellAt returns a copy of the cell at (x, y) in the active buffer.
func (g *Grid) CellAt(x, y int) (Cell, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if x < 0 || x >= g.cols || y < 0 || y >= g.rows {
		return Cell{}, false
	}
	return g.active()[y][x], true
}

// Apply folds one token into the grid. Tokens that carry no screen
// semantics are ignored.
func (g *Grid) Apply(t Token) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch t.Kind {
	case KindText:
		g.writeText(t.Text)
	case KindControl:
		g.control(t.Byte)
	case KindCsi:
		g.csi(t)
	case KindOsc:
		g.osc(t)
	}
}

// Resize changes the geometry of both cell arrays, keeping the
// top-left overlap. A resize to the current geometry is a strict no-op.
// The scroll region resets to the full screen and the cursor is clamped.
// Existing cells keep their stamps; nothing is restamped.
func (g *Grid) Resize(cols, rows int) error {
	if cols < 1 || rows < 1 {
		return schema.ErrInvalidResize
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if cols == g.cols && rows == g.rows {
		return nil
	}
	g.primary = resizeCells(g.primary, cols, rows)
	g.alt = resizeCells(g.alt, cols, rows)
	g.cols, g.rows = cols, rows
	g.scrollTop, g.scrollBottom = 0, rows-1
	g.lastWrote = false
	g.clampCursor()
	if g.savedX >= cols {
		g.savedX = cols - 1
	}
	if g.savedY >= rows {
		g.savedY = rows - 1
	}
	return nil
}

func resizeCells(buf [][]Cell, cols, rows int) [][]Cell {
	out := make([][]Cell, rows)
	for y := range out {
		out[y] = make([]Cell, cols)
		if y >= len(buf) {
			continue
		}
		n := len(buf[y])
		if n > cols {
			n = cols
		}
		copy(out[y], buf[y][:n])
	}
	return out
}

func (g *Grid) active() [][]Cell {
	if g.altActive {
		return g.alt
	}
	return g.primary
}

func (g *Grid) stamp(c *Cell) {
	g.seq++
	c.Seq = g.seq
	c.WrittenAt = g.now()
}

func (g *Grid) clampCursor() {
	g.wrapPending = false
	if g.cursorX < 0 {
		g.cursorX = 0
	}
	if g.cursorX >= g.cols {
		g.cursorX = g.cols - 1
	}
	if g.cursorY < 0 {
		g.cursorY = 0
	}
	if g.cursorY >= g.rows {
		g.cursorY = g.rows - 1
	}
}

func (g *Grid) writeText(s string) {
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		cluster := gr.Str()
		r, _ := utf8.DecodeRuneInString(cluster)
		if r < 0x20 || r == 0x7F {
			continue
		}
		w := runewidth.StringWidth(cluster)
		if w == 0 {
			g.appendCombining(cluster)
			continue
		}
		if w > g.cols {
			continue
		}
		if g.wrapPending || g.cursorX+w > g.cols {
			g.wrapPending = false
			g.cursorX = 0
			g.advanceLine()
		}
		row := g.active()[g.cursorY]
		cell := &row[g.cursorX]
		cell.Char = cluster
		cell.Width = w
		cell.FG, cell.BG, cell.Attrs = g.pen.fg, g.pen.bg, g.pen.attrs
		g.stamp(cell)
		g.lastX, g.lastY, g.lastWrote = g.cursorX, g.cursorY, true
		if w == 2 && g.cursorX+1 < g.cols {
			spacer := &row[g.cursorX+1]
			*spacer = Cell{FG: g.pen.fg, BG: g.pen.bg, Attrs: g.pen.attrs}
			g.stamp(spacer)
		}
		g.cursorX += w
		if g.cursorX >= g.cols {
			g.cursorX = g.cols - 1
			g.wrapPending = true
		}
	}
}

// appendCombining attaches a zero-width cluster to the last written
// cell. With nothing written yet the mark has no base and is dropped.
func (g *Grid) appendCombining(cluster string) {
	if !g.lastWrote {
		return
	}
	cell := &g.active()[g.lastY][g.lastX]
	if cell.Blank() {
		return
	}
	cell.Char += cluster
	g.stamp(cell)
}

func (g *Grid) control(b byte) {
	switch b {
	case '\r':
		g.cursorX = 0
		g.wrapPending = false
	case '\n', 0x0B, 0x0C:
		g.wrapPending = false
		g.advanceLine()
	case '\b':
		g.wrapPending = false
		if g.cursorX > 0 {
			g.cursorX--
		}
	case '\t':
		g.wrapPending = false
		g.cursorX = (g.cursorX/8 + 1) * 8
		if g.cursorX >= g.cols {
			g.cursorX = g.cols - 1
		}
	}
}

func (g *Grid) advanceLine() {
	if g.cursorY == g.scrollBottom {
		g.shiftUp(g.scrollTop, g.scrollBottom, 1)
		return
	}
	if g.cursorY < g.rows-1 {
		g.cursorY++
	}
}

// shiftUp moves rows top+n..bot up by n, blanks the vacated bottom rows
// and restamps every cell in the range, displaced and blanked alike.
func (g *Grid) shiftUp(top, bot, n int) {
	if n <= 0 || top > bot {
		return
	}
	if n > bot-top+1 {
		n = bot - top + 1
	}
	buf := g.active()
	for y := top; y+n <= bot; y++ {
		copy(buf[y], buf[y+n])
	}
	for y := bot - n + 1; y <= bot; y++ {
		clearRow(buf[y])
	}
	for y := top; y <= bot; y++ {
		row := buf[y]
		for x := range row {
			g.stamp(&row[x])
		}
	}
	g.lastWrote = false
}

// shiftDown moves rows top..bot-n down by n, blanks the vacated top rows
// and restamps every cell in the range.
func (g *Grid) shiftDown(top, bot, n int) {
	if n <= 0 || top > bot {
		return
	}
	if n > bot-top+1 {
		n = bot - top + 1
	}
	buf := g.active()
	for y := bot; y-n >= top; y-- {
		copy(buf[y], buf[y-n])
	}
	for y := top; y < top+n; y++ {
		clearRow(buf[y])
	}
	for y := top; y <= bot; y++ {
		row := buf[y]
		for x := range row {
			g.stamp(&row[x])
		}
	}
	g.lastWrote = false
}

func clearRow(row []Cell) {
	for x := range row {
		row[x] = Cell{}
	}
}

// amount reads a count parameter, where both an omitted value and an
// explicit zero mean one.
func amount(t Token, i int) int {
	n := t.Param(i, 1)
	if n < 1 {
		n = 1
	}
	return n
}

func (g *Grid) csi(t Token) {
	if t.Private == '?' {
		g.privateMode(t)
		return
	}
	switch t.Final {
	case 'A':
		g.cursorY -= amount(t, 0)
		g.clampCursor()
	case 'B':
		g.cursorY += amount(t, 0)
		g.clampCursor()
	case 'C':
		g.cursorX += amount(t, 0)
		g.clampCursor()
	case 'D':
		g.cursorX -= amount(t, 0)
		g.clampCursor()
	case 'E':
		g.cursorY += amount(t, 0)
		g.cursorX = 0
		g.clampCursor()
	case 'F':
		g.cursorY -= amount(t, 0)
		g.cursorX = 0
		g.clampCursor()
	case 'G':
		g.cursorX = t.Param(0, 1) - 1
		g.clampCursor()
	case 'd':
		g.cursorY = t.Param(0, 1) - 1
		g.clampCursor()
	case 'H', 'f':
		g.cursorY = t.Param(0, 1) - 1
		g.cursorX = t.Param(1, 1) - 1
		g.clampCursor()
	case 'J':
		g.eraseDisplay(t.Param(0, 0))
	case 'K':
		g.eraseLine(t.Param(0, 0))
	case 'L':
		g.insertLines(amount(t, 0))
	case 'M':
		g.deleteLines(amount(t, 0))
	case '@':
		g.insertChars(amount(t, 0))
	case 'P':
		g.deleteChars(amount(t, 0))
	case 'X':
		g.eraseChars(amount(t, 0))
	case 'S':
		g.shiftUp(g.scrollTop, g.scrollBottom, amount(t, 0))
	case 'T':
		g.shiftDown(g.scrollTop, g.scrollBottom, amount(t, 0))
	case 'm':
		g.pen.apply(t)
	case 'r':
		g.setScrollRegion(t)
	case 's':
		g.savedX, g.savedY = g.cursorX, g.cursorY
	case 'u':
		g.cursorX, g.cursorY = g.savedX, g.savedY
		g.clampCursor()
	}
}

func (g *Grid) privateMode(t Token) {
	set := false
	switch t.Final {
	case 'h':
		set = true
	case 'l':
	default:
		return
	}
	for i := range t.Params {
		switch t.Param(i, 0) {
		case 25:
			g.cursorVisible = set
		case 47, 1047:
			g.setAltActive(set)
		case 1049:
			if set {
				g.savedX, g.savedY = g.cursorX, g.cursorY
				g.setAltActive(true)
			} else {
				g.setAltActive(false)
				g.cursorX, g.cursorY = g.savedX, g.savedY
				g.clampCursor()
			}
		}
	}
}

// setAltActive switches the active cell array. Neither array is cleared
// or copied; each keeps its content and stamps across switches.
func (g *Grid) setAltActive(active bool) {
	if g.altActive == active {
		return
	}
	g.altActive = active
	g.lastWrote = false
}

func (g *Grid) eraseDisplay(mode int) {
	buf := g.active()
	switch mode {
	case 0:
		g.blankSpan(buf[g.cursorY], g.cursorX, g.cols-1)
		for y := g.cursorY + 1; y < g.rows; y++ {
			g.blankSpan(buf[y], 0, g.cols-1)
		}
	case 1:
		for y := 0; y < g.cursorY; y++ {
			g.blankSpan(buf[y], 0, g.cols-1)
		}
		g.blankSpan(buf[g.cursorY], 0, g.cursorX)
	case 2, 3:
		for y := 0; y < g.rows; y++ {
			g.blankSpan(buf[y], 0, g.cols-1)
		}
	}
	g.lastWrote = false
}

func (g *Grid) eraseLine(mode int) {
	row := g.active()[g.cursorY]
	switch mode {
	case 0:
		g.blankSpan(row, g.cursorX, g.cols-1)
	case 1:
		g.blankSpan(row, 0, g.cursorX)
	case 2:
		g.blankSpan(row, 0, g.cols-1)
	}
	g.lastWrote = false
}

// blankSpan clears cells x0..x1 inclusive to blanks with default colors
// and stamps each one.
func (g *Grid) blankSpan(row []Cell, x0, x1 int) {
	for x := x0; x <= x1 && x < len(row); x++ {
		row[x] = Cell{}
		g.stamp(&row[x])
	}
}

func (g *Grid) insertLines(n int) {
	if g.cursorY < g.scrollTop || g.cursorY > g.scrollBottom {
		return
	}
	g.shiftDown(g.cursorY, g.scrollBottom, n)
	g.cursorX = 0
}

func (g *Grid) deleteLines(n int) {
	if g.cursorY < g.scrollTop || g.cursorY > g.scrollBottom {
		return
	}
	g.shiftUp(g.cursorY, g.scrollBottom, n)
	g.cursorX = 0
}

func (g *Grid) insertChars(n int) {
	row := g.active()[g.cursorY]
	if n > g.cols-g.cursorX {
		n = g.cols - g.cursorX
	}
	for x := g.cols - 1; x-n >= g.cursorX; x-- {
		row[x] = row[x-n]
	}
	for x := g.cursorX; x < g.cursorX+n; x++ {
		row[x] = Cell{}
	}
	for x := g.cursorX; x < g.cols; x++ {
		g.stamp(&row[x])
	}
	g.lastWrote = false
}

func (g *Grid) deleteChars(n int) {
	row := g.active()[g.cursorY]
	if n > g.cols-g.cursorX {
		n = g.cols - g.cursorX
	}
	for x := g.cursorX; x+n < g.cols; x++ {
		row[x] = row[x+n]
	}
	for x := g.cols - n; x < g.cols; x++ {
		row[x] = Cell{}
	}
	for x := g.cursorX; x < g.cols; x++ {
		g.stamp(&row[x])
	}
	g.lastWrote = false
}

func (g *Grid) eraseChars(n int) {
	x1 := g.cursorX + n - 1
	if x1 >= g.cols {
		x1 = g.cols - 1
	}
	g.blankSpan(g.active()[g.cursorY], g.cursorX, x1)
	g.lastWrote = false
}

// setScrollRegion applies a top/bottom margin request. Margins are
// clamped to the grid; a region with top at or below bottom after
// clamping is ignored. A valid request homes the cursor.
func (g *Grid) setScrollRegion(t Token) {
	top := t.Param(0, 1) - 1
	bot := t.Param(1, g.rows) - 1
	if top < 0 {
		top = 0
	}
	if bot >= g.rows {
		bot = g.rows - 1
	}
	if top >= bot {
		return
	}
	g.scrollTop, g.scrollBottom = top, bot
	g.cursorX, g.cursorY = 0, 0
	g.wrapPending = false
}

func (g *Grid) osc(t Token) {
	code, rest, ok := strings.Cut(t.Command, ";")
	if !ok {
		return
	}
	if code == "0" || code == "2" {
		g.title = rest
	}
}
