package core

import "strconv"

// Color is a 24-bit color. The zero value is the terminal default.
type Color struct {
	R, G, B uint8
	Set     bool
}

// RGB returns a concrete color with the given components.
func RGB(r, g, b uint8) Color {
	return Color{R: r, G: g, B: b, Set: true}
}

// Hex returns the #rrggbb form, or the empty string for the default color.
func (c Color) Hex() string {
	if !c.Set {
		return ""
	}
	out := make([]byte, 0, 7)
	out = append(out, '#')
	for _, v := range [3]uint8{c.R, c.G, c.B} {
		const digits = "0123456789abcdef"
		out = append(out, digits[v>>4], digits[v&0x0F])
	}
	return string(out)
}

// ansiPalette holds the xterm defaults for the 16 named colors.
var ansiPalette = [16]Color{
	RGB(0, 0, 0),
	RGB(205, 0, 0),
	RGB(0, 205, 0),
	RGB(205, 205, 0),
	RGB(0, 0, 238),
	RGB(205, 0, 205),
	RGB(0, 205, 205),
	RGB(229, 229, 229),
	RGB(127, 127, 127),
	RGB(255, 0, 0),
	RGB(0, 255, 0),
	RGB(255, 255, 0),
	RGB(92, 92, 255),
	RGB(255, 0, 255),
	RGB(0, 255, 255),
	RGB(255, 255, 255),
}

// Indexed resolves an xterm 256-color palette index to its RGB value.
// Out-of-range indexes resolve to the default color.
func Indexed(n int) Color {
	switch {
	case n < 0 || n > 255:
		return Color{}
	case n < 16:
		return ansiPalette[n]
	case n < 232:
		n -= 16
		r := cubeLevel(n / 36)
		g := cubeLevel(n / 6 % 6)
		b := cubeLevel(n % 6)
		return RGB(r, g, b)
	default:
		v := uint8(8 + 10*(n-232))
		return RGB(v, v, v)
	}
}

func cubeLevel(i int) uint8 {
	if i == 0 {
		return 0
	}
	return uint8(55 + 40*i)
}

// pen tracks the active select-graphic-rendition state between writes.
type pen struct {
	fg    Color
	bg    Color
	attrs Attr
}

// apply folds one SGR token into the pen. Parameters act cumulatively;
// an empty parameter list resets everything. Named and indexed colors
// resolve to RGB here, so cells never carry palette indexes.
func (p *pen) apply(t Token) {
	if len(t.Params) == 0 {
		*p = pen{}
		return
	}
	for i := 0; i < len(t.Params); i++ {
		switch n := t.Param(i, 0); {
		case n == 0:
			*p = pen{}
		case n == 1:
			p.attrs |= AttrBold
		case n == 2:
			p.attrs |= AttrFaint
		case n == 3:
			p.attrs |= AttrItalic
		case n == 4:
			p.attrs |= AttrUnderline
		case n == 5:
			p.attrs |= AttrBlink
		case n == 7:
			p.attrs |= AttrInverse
		case n == 9:
			p.attrs |= AttrStrike
		case n == 22:
			p.attrs &^= AttrBold | AttrFaint
		case n == 23:
			p.attrs &^= AttrItalic
		case n == 24:
			p.attrs &^= AttrUnderline
		case n == 25:
			p.attrs &^= AttrBlink
		case n == 27:
			p.attrs &^= AttrInverse
		case n == 29:
			p.attrs &^= AttrStrike
		case n >= 30 && n <= 37:
			p.fg = ansiPalette[n-30]
		case n == 38:
			var c Color
			c, i = extendedColor(t, i)
			p.fg = c
		case n == 39:
			p.fg = Color{}
		case n >= 40 && n <= 47:
			p.bg = ansiPalette[n-40]
		case n == 48:
			var c Color
			c, i = extendedColor(t, i)
			p.bg = c
		case n == 49:
			p.bg = Color{}
		case n >= 90 && n <= 97:
			p.fg = ansiPalette[n-90+8]
		case n >= 100 && n <= 107:
			p.bg = ansiPalette[n-100+8]
		}
	}
}

// extendedColor reads the 38/48 color forms starting at index i and
// returns the resolved color plus the last parameter index consumed.
func extendedColor(t Token, i int) (Color, int) {
	switch t.Param(i+1, 0) {
	case 5:
		return Indexed(t.Param(i+2, 0)), i + 2
	case 2:
		r := clampChannel(t.Param(i+2, 0))
		g := clampChannel(t.Param(i+3, 0))
		b := clampChannel(t.Param(i+4, 0))
		return RGB(r, g, b), i + 4
	default:
		return Color{}, i + 1
	}
}

func clampChannel(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func ansiFgRGB(c Color) string {
	return "\x1b[38;2;" + strconv.Itoa(int(c.R)) + ";" + strconv.Itoa(int(c.G)) + ";" + strconv.Itoa(int(c.B)) + "m"
}

func ansiBgRGB(c Color) string {
	return "\x1b[48;2;" + strconv.Itoa(int(c.R)) + ";" + strconv.Itoa(int(c.G)) + ";" + strconv.Itoa(int(c.B)) + "m"
}
