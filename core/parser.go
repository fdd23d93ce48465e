package core

import "unicode/utf8"

type parserState int

const (
	stateGround parserState = iota
	stateEscape
	stateCsiEntry
	stateCsiParam
	stateOscString
	stateDcsPassthrough
)

// Parser converts a terminal output byte stream into Tokens. Feed accepts
// arbitrarily sized chunks: escape sequences and multi-byte characters
// split across chunk boundaries are carried over to the next call. The
// parser never fails; bytes that do not fit the grammar come back as
// KindUnknown tokens with every consumed byte intact.
type Parser struct {
	state parserState
	seq   []byte
	text  []byte

	csiInter bool
	stEscape bool
}

// NewParser returns a parser in ground state.
func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes a chunk and returns the tokens completed by it. A partial
// trailing sequence or character produces no token until later input
// completes or aborts it.
func (p *Parser) Feed(chunk []byte) []Token {
	var out []Token
	for _, b := range chunk {
		out = p.step(b, out)
	}
	return p.flushText(out, false)
}

// Flush ends the stream. Pending text is emitted even if it ends in a
// partial character, and a dangling sequence comes back as KindUnknown.
func (p *Parser) Flush() []Token {
	var out []Token
	out = p.flushText(out, true)
	if p.state != stateGround {
		out = p.abortNow(out)
	}
	return out
}

func (p *Parser) step(b byte, out []Token) []Token {
	switch p.state {
	case stateGround:
		return p.ground(b, out)
	case stateEscape:
		return p.escape(b, out)
	case stateCsiEntry:
		return p.csiEntry(b, out)
	case stateCsiParam:
		return p.csiParam(b, out)
	case stateOscString:
		return p.oscString(b, out)
	case stateDcsPassthrough:
		return p.dcsPassthrough(b, out)
	default:
		return out
	}
}

func (p *Parser) ground(b byte, out []Token) []Token {
	if b == 0x1B {
		out = p.flushText(out, true)
		p.begin(stateEscape, b)
		return out
	}
	if b < 0x20 {
		out = p.flushText(out, true)
		return append(out, Token{Kind: KindControl, Byte: b, Raw: []byte{b}})
	}
	p.text = append(p.text, b)
	return out
}

func (p *Parser) escape(b byte, out []Token) []Token {
	switch b {
	case '[':
		p.state = stateCsiEntry
		p.seq = append(p.seq, b)
	case ']':
		p.state = stateOscString
		p.seq = append(p.seq, b)
	case 'P':
		p.state = stateDcsPassthrough
		p.seq = append(p.seq, b)
	default:
		out = p.abort(b, out)
	}
	return out
}

func (p *Parser) csiEntry(b byte, out []Token) []Token {
	switch {
	case b >= 0x3C && b <= 0x3F:
		p.state = stateCsiParam
		p.seq = append(p.seq, b)
	case b >= '0' && b <= '9' || b == ';':
		p.state = stateCsiParam
		p.seq = append(p.seq, b)
	case b >= 0x20 && b <= 0x2F:
		p.state = stateCsiParam
		p.csiInter = true
		p.seq = append(p.seq, b)
	case b >= 0x40 && b <= 0x7E:
		p.seq = append(p.seq, b)
		out = append(out, p.emitCsi())
	default:
		out = p.abort(b, out)
	}
	return out
}

func (p *Parser) csiParam(b byte, out []Token) []Token {
	switch {
	case !p.csiInter && (b >= '0' && b <= '9' || b == ';'):
		p.seq = append(p.seq, b)
	case !p.csiInter && b >= 0x20 && b <= 0x2F:
		p.csiInter = true
		p.seq = append(p.seq, b)
	case b >= 0x40 && b <= 0x7E:
		p.seq = append(p.seq, b)
		out = append(out, p.emitCsi())
	default:
		out = p.abort(b, out)
	}
	return out
}

func (p *Parser) oscString(b byte, out []Token) []Token {
	if p.stEscape {
		p.stEscape = false
		if b == '\\' {
			p.seq = append(p.seq, b)
			return append(out, p.emitOsc(2))
		}
		return p.abort(b, out)
	}
	switch {
	case b == 0x07:
		p.seq = append(p.seq, b)
		return append(out, p.emitOsc(1))
	case b == 0x1B:
		p.stEscape = true
		p.seq = append(p.seq, b)
	case b >= 0x20:
		p.seq = append(p.seq, b)
	default:
		out = p.abort(b, out)
	}
	return out
}

func (p *Parser) dcsPassthrough(b byte, out []Token) []Token {
	if p.stEscape {
		p.stEscape = false
		if b == '\\' {
			p.seq = append(p.seq, b)
			return append(out, p.emitDcs())
		}
		return p.abort(b, out)
	}
	if b == 0x1B {
		p.stEscape = true
	}
	p.seq = append(p.seq, b)
	return out
}

func (p *Parser) begin(s parserState, b byte) {
	p.state = s
	p.seq = append(p.seq[:0], b)
	p.csiInter = false
	p.stEscape = false
}

func (p *Parser) reset() {
	p.state = stateGround
	p.seq = p.seq[:0]
	p.csiInter = false
	p.stEscape = false
}

// abort ends the current sequence on an unexpected byte. The offending
// byte and everything consumed before it come back as one Unknown token.
func (p *Parser) abort(b byte, out []Token) []Token {
	raw := make([]byte, 0, len(p.seq)+1)
	raw = append(raw, p.seq...)
	raw = append(raw, b)
	p.reset()
	return append(out, Token{Kind: KindUnknown, Raw: raw})
}

func (p *Parser) abortNow(out []Token) []Token {
	raw := append([]byte(nil), p.seq...)
	p.reset()
	return append(out, Token{Kind: KindUnknown, Raw: raw})
}

func (p *Parser) emitCsi() Token {
	raw := append([]byte(nil), p.seq...)
	tok := Token{Kind: KindCsi, Raw: raw, Final: raw[len(raw)-1]}
	body := raw[2 : len(raw)-1]
	if len(body) > 0 && body[0] >= 0x3C && body[0] <= 0x3F {
		tok.Private = body[0]
		body = body[1:]
	}
	val, digits := 0, false
	for _, b := range body {
		switch {
		case b >= '0' && b <= '9':
			digits = true
			if val < 1<<20 {
				val = val*10 + int(b-'0')
			}
		case b == ';':
			tok.Params = append(tok.Params, paramValue(val, digits))
			val, digits = 0, false
		case b >= 0x20 && b <= 0x2F:
			tok.Intermediate = b
		}
	}
	if digits || len(tok.Params) > 0 {
		tok.Params = append(tok.Params, paramValue(val, digits))
	}
	p.reset()
	return tok
}

func paramValue(val int, digits bool) int {
	if !digits {
		return -1
	}
	return val
}

func (p *Parser) emitOsc(term int) Token {
	raw := append([]byte(nil), p.seq...)
	tok := Token{Kind: KindOsc, Raw: raw, Command: string(raw[2 : len(raw)-term])}
	p.reset()
	return tok
}

func (p *Parser) emitDcs() Token {
	raw := append([]byte(nil), p.seq...)
	tok := Token{Kind: KindDcs, Raw: raw, Payload: append([]byte(nil), raw[2:len(raw)-2]...)}
	p.reset()
	return tok
}

// flushText emits pending printable bytes as one Text token. Unless the
// stream is ending, a trailing partial multi-byte character stays in the
// carry buffer for the next chunk.
func (p *Parser) flushText(out []Token, final bool) []Token {
	if len(p.text) == 0 {
		return out
	}
	keep := 0
	if !final {
		keep = incompleteTail(p.text)
	}
	emit := len(p.text) - keep
	if emit == 0 {
		return out
	}
	raw := append([]byte(nil), p.text[:emit]...)
	copy(p.text, p.text[emit:])
	p.text = p.text[:keep]
	return append(out, Token{Kind: KindText, Text: string(raw), Raw: raw})
}

// incompleteTail reports how many trailing bytes form the start of an
// unfinished UTF-8 encoding.
func incompleteTail(b []byte) int {
	n := len(b)
	for back := 1; back <= utf8.UTFMax && back <= n; back++ {
		c := b[n-back]
		if c < 0x80 {
			return 0
		}
		if c < 0xC0 {
			continue
		}
		var size int
		switch {
		case c < 0xE0:
			size = 2
		case c < 0xF0:
			size = 3
		case c < 0xF8:
			size = 4
		default:
			return 0
		}
		if back < size {
			return back
		}
		return 0
	}
	return 0
}
