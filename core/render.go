package core

import (
	"strconv"
	"strings"

	"pkt.systems/vtgrid/schema"
)

const (
	ansiReset      = "\x1b[0m"
	ansiHome       = "\x1b[H"
	ansiShowCursor = "\x1b[?25h"
	ansiHideCursor = "\x1b[?25l"
)

// ANSI renders the snapshot as one full-screen escape frame: home the
// cursor, overpaint every cell with its colors and attributes, then
// restore cursor position and visibility. Colors degrade to the closest
// form the capabilities allow.
func (s Snapshot) ANSI(caps schema.Capabilities) []byte {
	var b strings.Builder
	b.Grow(s.Size.Cols*s.Size.Rows + 256)
	b.WriteString(ansiHome)
	b.WriteString(ansiReset)
	cur := styleKey{}
	for y := 0; y < len(s.Cells); y++ {
		if y > 0 {
			b.WriteString("\r\n")
		}
		row := s.Cells[y]
		for x := 0; x < len(row); x++ {
			c := row[x]
			want := styleKey{fg: c.FG, bg: c.BG, attrs: c.Attrs}
			if want != cur {
				writeStyle(&b, want, caps)
				cur = want
			}
			if c.Blank() {
				b.WriteByte(' ')
				continue
			}
			if c.Width == 2 {
				if x == len(row)-1 {
					b.WriteByte(' ')
					continue
				}
				x++
			}
			b.WriteString(c.Char)
		}
	}
	b.WriteString(ansiReset)
	b.WriteString("\x1b[" + strconv.Itoa(s.CursorY+1) + ";" + strconv.Itoa(s.CursorX+1) + "H")
	if s.CursorVisible {
		b.WriteString(ansiShowCursor)
	} else {
		b.WriteString(ansiHideCursor)
	}
	return []byte(b.String())
}

type styleKey struct {
	fg    Color
	bg    Color
	attrs Attr
}

func writeStyle(b *strings.Builder, st styleKey, caps schema.Capabilities) {
	b.WriteString(ansiReset)
	if st.attrs&AttrBold != 0 {
		b.WriteString("\x1b[1m")
	}
	if st.attrs&AttrFaint != 0 {
		b.WriteString("\x1b[2m")
	}
	if st.attrs&AttrItalic != 0 {
		b.WriteString("\x1b[3m")
	}
	if st.attrs&AttrUnderline != 0 {
		b.WriteString("\x1b[4m")
	}
	if st.attrs&AttrBlink != 0 {
		b.WriteString("\x1b[5m")
	}
	if st.attrs&AttrInverse != 0 {
		b.WriteString("\x1b[7m")
	}
	if st.attrs&AttrStrike != 0 {
		b.WriteString("\x1b[9m")
	}
	if st.fg.Set {
		b.WriteString(fgSequence(st.fg, caps))
	}
	if st.bg.Set {
		b.WriteString(bgSequence(st.bg, caps))
	}
}

func fgSequence(c Color, caps schema.Capabilities) string {
	if caps.TrueColor {
		return ansiFgRGB(c)
	}
	if caps.Colors256 {
		return "\x1b[38;5;" + strconv.Itoa(nearest256(c)) + "m"
	}
	return ""
}

func bgSequence(c Color, caps schema.Capabilities) string {
	if caps.TrueColor {
		return ansiBgRGB(c)
	}
	if caps.Colors256 {
		return "\x1b[48;5;" + strconv.Itoa(nearest256(c)) + "m"
	}
	return ""
}

// nearest256 maps an RGB value to the closest xterm palette index,
// picking between the 6x6x6 cube and the grayscale ramp.
func nearest256(c Color) int {
	ci := 16 + 36*cubeIndex(c.R) + 6*cubeIndex(c.G) + cubeIndex(c.B)
	cube := Indexed(ci)
	gi := grayIndex(c)
	gray := Indexed(gi)
	if colorDistance(c, gray) < colorDistance(c, cube) {
		return gi
	}
	return ci
}

func cubeIndex(v uint8) int {
	if v < 48 {
		return 0
	}
	if v < 115 {
		return 1
	}
	return int(v-35) / 40
}

func grayIndex(c Color) int {
	avg := (int(c.R) + int(c.G) + int(c.B)) / 3
	i := (avg - 3) / 10
	if i < 0 {
		i = 0
	}
	if i > 23 {
		i = 23
	}
	return 232 + i
}

func colorDistance(a, b Color) int {
	dr := int(a.R) - int(b.R)
	dg := int(a.G) - int(b.G)
	db := int(a.B) - int(b.B)
	return dr*dr + dg*dg + db*db
}
