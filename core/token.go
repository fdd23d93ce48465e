package core

// TokenKind identifies the variant carried by a Token.
type TokenKind int

const (
	// KindText is a run of printable characters.
	KindText TokenKind = iota
	// KindControl is a single C0 control byte.
	KindControl
	// KindCsi is a complete control sequence introducer.
	KindCsi
	// KindOsc is an operating system command string.
	KindOsc
	// KindDcs is a device control string passed through opaquely.
	KindDcs
	// KindUnknown is a byte span that did not form a recognized sequence.
	KindUnknown
)

func (k TokenKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindControl:
		return "control"
	case KindCsi:
		return "csi"
	case KindOsc:
		return "osc"
	case KindDcs:
		return "dcs"
	case KindUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Token is one parsed unit of a terminal output stream. Raw always holds
// the exact bytes consumed to produce the token, so concatenating Raw
// across a token stream reproduces the input byte for byte.
type Token struct {
	Kind TokenKind

	// Text holds the character run for KindText.
	Text string
	// Byte holds the control byte for KindControl.
	Byte byte

	// Params holds the parameter list for KindCsi. An omitted parameter
	// is recorded as -1.
	Params []int
	// Private holds the leading private marker of a KindCsi token
	// ('?', '<', '=' or '>'), or 0 when absent.
	Private byte
	// Intermediate holds the intermediate byte of a KindCsi token, or 0.
	Intermediate byte
	// Final holds the terminating byte of a KindCsi token.
	Final byte

	// Command holds the payload of a KindOsc token, without terminator.
	Command string
	// Payload holds the body of a KindDcs token, without terminator.
	Payload []byte

	Raw []byte
}

// Param returns the i-th parameter, or def when it is absent or omitted.
func (t Token) Param(i, def int) int {
	if i < 0 || i >= len(t.Params) {
		return def
	}
	if t.Params[i] < 0 {
		return def
	}
	return t.Params[i]
}
