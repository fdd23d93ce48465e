package schema

import "strings"

// PaletteName identifies a heatmap color palette.
type PaletteName string

// DefaultPalette is the default heatmap palette name.
const DefaultPalette PaletteName = "thermal"

var paletteNames = []PaletteName{
	"thermal",
	"viridis",
	"ice",
}

// AvailablePalettes returns the supported palette names.
func AvailablePalettes() []PaletteName {
	out := make([]PaletteName, len(paletteNames))
	copy(out, paletteNames)
	return out
}

// NormalizePaletteName returns a canonical palette name if supported.
func NormalizePaletteName(name string) (PaletteName, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	switch normalized {
	case "thermal", "heat", "fire":
		return "thermal", true
	case "viridis":
		return "viridis", true
	case "ice", "cool":
		return "ice", true
	default:
		return "", false
	}
}
