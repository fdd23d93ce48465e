package schema

import "strings"

// DefaultSize is the geometry used when no endpoint reports one.
var DefaultSize = Size{Cols: 80, Rows: 24}

// DefaultTerm is the TERM value exported to workloads.
const DefaultTerm = "xterm-256color"

// ValidateSize rejects geometries below one column or one row.
func ValidateSize(size Size) error {
	if size.Cols < 1 || size.Rows < 1 {
		return ErrInvalidResize
	}
	return nil
}

// NormalizeSize replaces non-positive dimensions with defaults.
func NormalizeSize(size Size) Size {
	if size.Cols < 1 {
		size.Cols = DefaultSize.Cols
	}
	if size.Rows < 1 {
		size.Rows = DefaultSize.Rows
	}
	return size
}

// ValidateSessionID ensures a session id matches [a-z0-9._-] with no normalization.
func ValidateSessionID(id SessionID) error {
	raw := string(id)
	if raw == "" {
		return ErrInvalidSession
	}
	if strings.TrimSpace(raw) != raw {
		return ErrInvalidSession
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return ErrInvalidSession
	}
	return nil
}
