package core

import "time"

// Attr is a bitmask of cell display attributes.
type Attr uint16

const (
	// AttrBold renders bold or increased intensity.
	AttrBold Attr = 1 << iota
	// AttrFaint renders decreased intensity.
	AttrFaint
	// AttrItalic renders italic.
	AttrItalic
	// AttrUnderline renders underlined.
	AttrUnderline
	// AttrBlink renders blinking.
	AttrBlink
	// AttrInverse swaps foreground and background.
	AttrInverse
	// AttrStrike renders struck through.
	AttrStrike
)

// Cell is one grid position. Char holds a complete character cluster
// including any combining marks; the empty string is a blank. Width is
// the display width of Char (1 or 2) and 0 for a blank or for the
// spacer column behind a wide character.
//
// Seq and WrittenAt record the grid's write counter and clock at the
// last mutation of this cell, including erases and scroll displacement.
type Cell struct {
	Char      string
	Width     int
	FG        Color
	BG        Color
	Attrs     Attr
	Seq       uint64
	WrittenAt time.Time
}

// Blank reports whether the cell holds no character.
func (c Cell) Blank() bool {
	return c.Char == ""
}
