package core

import (
	"errors"
	"testing"
	"time"

	"pkt.systems/vtgrid/schema"
)

func testClock() func() time.Time {
	base := time.Unix(1700000000, 0)
	return func() time.Time { return base }
}

func apply(t *testing.T, g *Grid, p *Parser, data string) {
	t.Helper()
	for _, tok := range p.Feed([]byte(data)) {
		g.Apply(tok)
	}
}

func TestGridFirstWrite(t *testing.T) {
	base := time.Unix(1700000000, 0)
	g := NewGrid(80, 24, WithClock(func() time.Time { return base }))
	p := NewParser()
	apply(t, g, p, "A")

	cell, ok := g.CellAt(0, 0)
	if !ok {
		t.Fatalf("cell out of bounds")
	}
	if cell.Char != "A" || cell.Width != 1 {
		t.Fatalf("unexpected cell: %+v", cell)
	}
	if cell.Seq != 1 {
		t.Fatalf("first write should stamp sequence 1, got %d", cell.Seq)
	}
	if !cell.WrittenAt.Equal(base) {
		t.Fatalf("unexpected write time: %v", cell.WrittenAt)
	}
	snap := g.Snapshot()
	if snap.CursorX != 1 || snap.CursorY != 0 {
		t.Fatalf("cursor should advance to (1,0), got (%d,%d)", snap.CursorX, snap.CursorY)
	}
	if blank, _ := g.CellAt(5, 5); blank.Seq != 0 || !blank.Blank() {
		t.Fatalf("untouched cell should be unstamped: %+v", blank)
	}
}

func TestGridSGRNormalizesToRGB(t *testing.T) {
	g := NewGrid(80, 24, WithClock(testClock()))
	p := NewParser()

	apply(t, g, p, "\x1b[31ma")
	cell, _ := g.CellAt(0, 0)
	if cell.FG != RGB(205, 0, 0) {
		t.Fatalf("named color should normalize to RGB, got %+v", cell.FG)
	}

	apply(t, g, p, "\x1b[38;5;196mb")
	cell, _ = g.CellAt(1, 0)
	if cell.FG != RGB(255, 0, 0) {
		t.Fatalf("indexed color should normalize to RGB, got %+v", cell.FG)
	}

	apply(t, g, p, "\x1b[38;2;10;20;30mc")
	cell, _ = g.CellAt(2, 0)
	if cell.FG != RGB(10, 20, 30) {
		t.Fatalf("direct color mismatch: %+v", cell.FG)
	}

	apply(t, g, p, "\x1b[1;4md")
	cell, _ = g.CellAt(3, 0)
	if cell.Attrs&AttrBold == 0 || cell.Attrs&AttrUnderline == 0 {
		t.Fatalf("attributes not applied: %v", cell.Attrs)
	}
	if cell.FG != RGB(10, 20, 30) {
		t.Fatalf("pen should accumulate, got %+v", cell.FG)
	}

	apply(t, g, p, "\x1b[0me")
	cell, _ = g.CellAt(4, 0)
	if cell.FG.Set || cell.Attrs != 0 {
		t.Fatalf("reset should clear pen: %+v", cell)
	}
}

func TestGridWrapAtRightMargin(t *testing.T) {
	g := NewGrid(4, 3, WithClock(testClock()))
	p := NewParser()
	apply(t, g, p, "abcde")

	snap := g.Snapshot()
	if snap.Line(0) != "abcd" || snap.Line(1) != "e" {
		t.Fatalf("unexpected content: %q / %q", snap.Line(0), snap.Line(1))
	}
	if snap.CursorX != 1 || snap.CursorY != 1 {
		t.Fatalf("cursor should be at (1,1), got (%d,%d)", snap.CursorX, snap.CursorY)
	}
}

func TestGridScrollRestampsDisplacedRows(t *testing.T) {
	g := NewGrid(3, 2, WithClock(testClock()))
	p := NewParser()
	apply(t, g, p, "ab\r\ncd")
	before := g.LastSeq()

	apply(t, g, p, "\r\n")

	snap := g.Snapshot()
	if snap.String() != "cd" {
		t.Fatalf("expected scrolled content %q, got %q", "cd", snap.String())
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			if snap.Cells[y][x].Seq <= before {
				t.Fatalf("cell (%d,%d) not restamped by scroll: seq %d <= %d", x, y, snap.Cells[y][x].Seq, before)
			}
		}
	}
}

func TestGridScrollRegionConfinesScroll(t *testing.T) {
	g := NewGrid(2, 4, WithClock(testClock()))
	p := NewParser()
	apply(t, g, p, "\x1b[1;1H0\x1b[4;1H3\x1b[2;1H1\x1b[3;1H2")
	apply(t, g, p, "\x1b[2;3r")

	snap := g.Snapshot()
	if snap.ScrollTop != 1 || snap.ScrollBottom != 2 {
		t.Fatalf("unexpected region: %d..%d", snap.ScrollTop, snap.ScrollBottom)
	}
	if snap.CursorX != 0 || snap.CursorY != 0 {
		t.Fatalf("region change should home cursor, got (%d,%d)", snap.CursorX, snap.CursorY)
	}

	top, _ := g.CellAt(0, 0)
	bottomRow, _ := g.CellAt(0, 3)
	topSeq, bottomSeq := top.Seq, bottomRow.Seq

	apply(t, g, p, "\x1b[3;1H\n")

	snap = g.Snapshot()
	if snap.Line(0) != "0" || snap.Line(1) != "2" || snap.Line(2) != "" || snap.Line(3) != "3" {
		t.Fatalf("unexpected rows after region scroll: %q %q %q %q",
			snap.Line(0), snap.Line(1), snap.Line(2), snap.Line(3))
	}
	if snap.Cells[0][0].Seq != topSeq || snap.Cells[3][0].Seq != bottomSeq {
		t.Fatalf("rows outside the region must keep their stamps")
	}
}

func TestGridAltScreenPreservesPrimary(t *testing.T) {
	g := NewGrid(20, 4, WithClock(testClock()))
	p := NewParser()
	apply(t, g, p, "shell")
	primaryCell, _ := g.CellAt(0, 0)

	apply(t, g, p, "\x1b[?1049h")
	snap := g.Snapshot()
	if !snap.AltActive {
		t.Fatalf("alternate buffer should be active")
	}
	if snap.String() != "" {
		t.Fatalf("alternate buffer should start blank, got %q", snap.String())
	}

	apply(t, g, p, "\x1b[Happ")
	if got := g.Snapshot().String(); got != "app" {
		t.Fatalf("expected alt content %q, got %q", "app", got)
	}

	apply(t, g, p, "\x1b[?1049l")
	snap = g.Snapshot()
	if snap.AltActive {
		t.Fatalf("primary buffer should be active again")
	}
	if snap.String() != "shell" {
		t.Fatalf("primary content lost: %q", snap.String())
	}
	after, _ := g.CellAt(0, 0)
	if after.Seq != primaryCell.Seq {
		t.Fatalf("primary stamps must survive the round trip: %d != %d", after.Seq, primaryCell.Seq)
	}
	if snap.CursorX != 5 || snap.CursorY != 0 {
		t.Fatalf("cursor should restore to (5,0), got (%d,%d)", snap.CursorX, snap.CursorY)
	}
}

func TestGridResizeSameDimsIsNoop(t *testing.T) {
	g := NewGrid(80, 24, WithClock(testClock()))
	p := NewParser()
	apply(t, g, p, "x")
	before := g.LastSeq()

	if err := g.Resize(80, 24); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.LastSeq() != before {
		t.Fatalf("no-op resize must not stamp anything")
	}
	cell, _ := g.CellAt(0, 0)
	if cell.Char != "x" || cell.Seq != before {
		t.Fatalf("no-op resize altered cells: %+v", cell)
	}
}

func TestGridResizeRejectsInvalidDims(t *testing.T) {
	g := NewGrid(10, 5)
	if err := g.Resize(0, 5); !errors.Is(err, schema.ErrInvalidResize) {
		t.Fatalf("expected ErrInvalidResize, got %v", err)
	}
	if err := g.Resize(10, -1); !errors.Is(err, schema.ErrInvalidResize) {
		t.Fatalf("expected ErrInvalidResize, got %v", err)
	}
	if got := g.Size(); got.Cols != 10 || got.Rows != 5 {
		t.Fatalf("failed resize must not change geometry: %+v", got)
	}
}

func TestGridResizeKeepsTopLeft(t *testing.T) {
	g := NewGrid(4, 3, WithClock(testClock()))
	p := NewParser()
	apply(t, g, p, "abc\r\ndef")
	orig, _ := g.CellAt(0, 0)

	apply(t, g, p, "\x1b[2;3r")
	if err := g.Resize(2, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := g.Snapshot()
	if snap.Line(0) != "ab" || snap.Line(1) != "de" {
		t.Fatalf("overlap content lost: %q / %q", snap.Line(0), snap.Line(1))
	}
	if snap.Cells[0][0].Seq != orig.Seq {
		t.Fatalf("surviving cells must keep stamps")
	}
	if snap.ScrollTop != 0 || snap.ScrollBottom != 1 {
		t.Fatalf("resize must reset the scroll region, got %d..%d", snap.ScrollTop, snap.ScrollBottom)
	}
	if snap.CursorX >= 2 || snap.CursorY >= 2 {
		t.Fatalf("cursor not clamped: (%d,%d)", snap.CursorX, snap.CursorY)
	}

	if err := g.Resize(5, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap = g.Snapshot()
	if snap.Line(0) != "ab" || snap.Line(1) != "de" {
		t.Fatalf("grow lost content: %q / %q", snap.Line(0), snap.Line(1))
	}
	if snap.Cells[2][4].Seq != 0 {
		t.Fatalf("new cells must be unstamped")
	}
}

func TestGridEraseRestampsCells(t *testing.T) {
	g := NewGrid(5, 2, WithClock(testClock()))
	p := NewParser()
	apply(t, g, p, "abcde")
	before := g.LastSeq()

	apply(t, g, p, "\x1b[2J")
	snap := g.Snapshot()
	if snap.String() != "" {
		t.Fatalf("erase should blank the screen, got %q", snap.String())
	}
	for y := range snap.Cells {
		for x := range snap.Cells[y] {
			c := snap.Cells[y][x]
			if !c.Blank() || c.FG.Set || c.BG.Set {
				t.Fatalf("cell (%d,%d) not blanked to defaults: %+v", x, y, c)
			}
			if c.Seq <= before {
				t.Fatalf("cell (%d,%d) not restamped by erase", x, y)
			}
		}
	}
}

func TestGridEraseLineFromCursor(t *testing.T) {
	g := NewGrid(6, 1, WithClock(testClock()))
	p := NewParser()
	apply(t, g, p, "abcdef\x1b[1;3H\x1b[K")
	if got := g.Snapshot().Line(0); got != "ab" {
		t.Fatalf("expected %q, got %q", "ab", got)
	}
}

func TestGridCursorClampsToBounds(t *testing.T) {
	g := NewGrid(80, 24, WithClock(testClock()))
	p := NewParser()
	apply(t, g, p, "\x1b[999;999H")
	snap := g.Snapshot()
	if snap.CursorX != 79 || snap.CursorY != 23 {
		t.Fatalf("cursor should clamp to (79,23), got (%d,%d)", snap.CursorX, snap.CursorY)
	}
	apply(t, g, p, "\x1b[999A")
	if snap = g.Snapshot(); snap.CursorY != 0 {
		t.Fatalf("cursor should clamp to top, got %d", snap.CursorY)
	}
}

func TestGridWideAndCombiningCharacters(t *testing.T) {
	g := NewGrid(10, 2, WithClock(testClock()))
	p := NewParser()
	apply(t, g, p, "世")

	lead, _ := g.CellAt(0, 0)
	if lead.Char != "世" || lead.Width != 2 {
		t.Fatalf("unexpected wide cell: %+v", lead)
	}
	spacer, _ := g.CellAt(1, 0)
	if !spacer.Blank() || spacer.Seq == 0 {
		t.Fatalf("spacer cell should be blank and stamped: %+v", spacer)
	}
	snap := g.Snapshot()
	if snap.CursorX != 2 {
		t.Fatalf("cursor should advance by two, got %d", snap.CursorX)
	}

	apply(t, g, p, "e")
	apply(t, g, p, "́")
	combined, _ := g.CellAt(2, 0)
	if combined.Char != "é" {
		t.Fatalf("combining mark should join the base cell, got %q", combined.Char)
	}
	if got := g.Snapshot().Line(0); got != "世é" {
		t.Fatalf("unexpected line: %q", got)
	}
}

func TestGridCursorVisibilityToggle(t *testing.T) {
	g := NewGrid(10, 2, WithClock(testClock()))
	p := NewParser()
	if !g.Snapshot().CursorVisible {
		t.Fatalf("cursor should start visible")
	}
	apply(t, g, p, "\x1b[?25l")
	if g.Snapshot().CursorVisible {
		t.Fatalf("cursor should be hidden")
	}
	apply(t, g, p, "\x1b[?25h")
	if !g.Snapshot().CursorVisible {
		t.Fatalf("cursor should be visible again")
	}
}

func TestGridSequenceMonotonicAcrossOperations(t *testing.T) {
	g := NewGrid(10, 4, WithClock(testClock()))
	p := NewParser()
	last := g.LastSeq()
	for _, data := range []string{"abc", "\x1b[2J", "xyz", "\r\n\r\n\r\n\r\n", "\x1b[?1049h", "alt", "\x1b[?1049l"} {
		apply(t, g, p, data)
		if got := g.LastSeq(); got < last {
			t.Fatalf("sequence went backwards after %q: %d < %d", data, got, last)
		} else {
			last = got
		}
	}
	if last == 0 {
		t.Fatalf("operations should have stamped cells")
	}
}

func TestGridUnsupportedCsiStampsNothing(t *testing.T) {
	g := NewGrid(10, 4, WithClock(testClock()))
	p := NewParser()
	apply(t, g, p, "hi")
	before := g.Snapshot()

	apply(t, g, p, "\x1b[999z")

	after := g.Snapshot()
	if after.Seq != before.Seq {
		t.Fatalf("unsupported CSI advanced the sequence: %d -> %d", before.Seq, after.Seq)
	}
	if after.CursorX != before.CursorX || after.CursorY != before.CursorY {
		t.Fatalf("unsupported CSI moved the cursor to (%d,%d)", after.CursorX, after.CursorY)
	}
	for y := range after.Cells {
		for x := range after.Cells[y] {
			if after.Cells[y][x] != before.Cells[y][x] {
				t.Fatalf("unsupported CSI touched cell (%d,%d)", x, y)
			}
		}
	}
}

func TestGridInvalidScrollRegionIgnored(t *testing.T) {
	g := NewGrid(10, 4, WithClock(testClock()))
	p := NewParser()
	apply(t, g, p, "\x1b[3;3H")
	apply(t, g, p, "\x1b[5;2r")
	snap := g.Snapshot()
	if snap.ScrollTop != 0 || snap.ScrollBottom != 3 {
		t.Fatalf("invalid region should be ignored, got %d..%d", snap.ScrollTop, snap.ScrollBottom)
	}
	if snap.CursorX != 2 || snap.CursorY != 2 {
		t.Fatalf("invalid region must not move the cursor, got (%d,%d)", snap.CursorX, snap.CursorY)
	}
}

func TestGridTitleFromOsc(t *testing.T) {
	g := NewGrid(10, 2, WithClock(testClock()))
	p := NewParser()
	apply(t, g, p, "\x1b]2;hello\x07")
	if got := g.Snapshot().Title; got != "hello" {
		t.Fatalf("expected title %q, got %q", "hello", got)
	}
}

func TestGridSnapshotIsDeepCopy(t *testing.T) {
	g := NewGrid(5, 2, WithClock(testClock()))
	p := NewParser()
	apply(t, g, p, "hi")
	snap := g.Snapshot()
	snap.Cells[0][0].Char = "z"
	cell, _ := g.CellAt(0, 0)
	if cell.Char != "h" {
		t.Fatalf("snapshot mutation leaked into grid: %+v", cell)
	}
}
