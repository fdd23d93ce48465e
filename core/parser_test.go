package core

import (
	"bytes"
	"testing"
)

func collect(p *Parser, chunks ...string) []Token {
	var out []Token
	for _, c := range chunks {
		out = append(out, p.Feed([]byte(c))...)
	}
	return append(out, p.Flush()...)
}

func rawConcat(tokens []Token) []byte {
	var out []byte
	for _, t := range tokens {
		out = append(out, t.Raw...)
	}
	return out
}

func TestParserPlainText(t *testing.T) {
	tokens := collect(NewParser(), "hello")
	if len(tokens) != 1 {
		t.Fatalf("expected 1 token, got %d: %+v", len(tokens), tokens)
	}
	if tokens[0].Kind != KindText || tokens[0].Text != "hello" {
		t.Fatalf("unexpected token: %+v", tokens[0])
	}
}

func TestParserControlBytes(t *testing.T) {
	tokens := collect(NewParser(), "a\r\nb")
	kinds := []TokenKind{KindText, KindControl, KindControl, KindText}
	if len(tokens) != len(kinds) {
		t.Fatalf("expected %d tokens, got %d: %+v", len(kinds), len(tokens), tokens)
	}
	for i, k := range kinds {
		if tokens[i].Kind != k {
			t.Fatalf("token %d: expected %v, got %v", i, k, tokens[i].Kind)
		}
	}
	if tokens[1].Byte != '\r' || tokens[2].Byte != '\n' {
		t.Fatalf("unexpected control bytes: %+v", tokens[1:3])
	}
}

func TestParserCsi(t *testing.T) {
	tokens := collect(NewParser(), "\x1b[31m")
	if len(tokens) != 1 {
		t.Fatalf("expected 1 token, got %d: %+v", len(tokens), tokens)
	}
	tok := tokens[0]
	if tok.Kind != KindCsi || tok.Final != 'm' {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if len(tok.Params) != 1 || tok.Params[0] != 31 {
		t.Fatalf("unexpected params: %v", tok.Params)
	}
	if string(tok.Raw) != "\x1b[31m" {
		t.Fatalf("unexpected raw: %q", tok.Raw)
	}
}

func TestParserCsiPrivateMarker(t *testing.T) {
	tokens := collect(NewParser(), "\x1b[?25h")
	if len(tokens) != 1 {
		t.Fatalf("expected 1 token, got %d", len(tokens))
	}
	tok := tokens[0]
	if tok.Private != '?' || tok.Final != 'h' || tok.Param(0, 0) != 25 {
		t.Fatalf("unexpected token: %+v", tok)
	}
}

func TestParserCsiOmittedParams(t *testing.T) {
	tokens := collect(NewParser(), "\x1b[;5H")
	tok := tokens[0]
	if len(tok.Params) != 2 {
		t.Fatalf("expected 2 params, got %v", tok.Params)
	}
	if tok.Params[0] != -1 || tok.Params[1] != 5 {
		t.Fatalf("unexpected params: %v", tok.Params)
	}
	if tok.Param(0, 1) != 1 {
		t.Fatalf("omitted param should default, got %d", tok.Param(0, 1))
	}
}

func TestParserCsiIntermediate(t *testing.T) {
	tokens := collect(NewParser(), "\x1b[1 q")
	tok := tokens[0]
	if tok.Kind != KindCsi || tok.Intermediate != ' ' || tok.Final != 'q' {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if tok.Param(0, 0) != 1 {
		t.Fatalf("unexpected params: %v", tok.Params)
	}
}

func TestParserCsiSplitAcrossChunks(t *testing.T) {
	p := NewParser()
	first := p.Feed([]byte("\x1b[3"))
	if len(first) != 0 {
		t.Fatalf("partial sequence should produce no tokens, got %+v", first)
	}
	second := p.Feed([]byte("1mX"))
	if len(second) != 2 {
		t.Fatalf("expected 2 tokens, got %d: %+v", len(second), second)
	}
	if second[0].Kind != KindCsi || second[0].Final != 'm' || second[0].Param(0, 0) != 31 {
		t.Fatalf("unexpected csi: %+v", second[0])
	}
	if second[1].Kind != KindText || second[1].Text != "X" {
		t.Fatalf("unexpected text: %+v", second[1])
	}
	joined := append(rawConcat(first), rawConcat(second)...)
	if !bytes.Equal(joined, []byte("\x1b[31mX")) {
		t.Fatalf("raw spans do not reconstruct input: %q", joined)
	}
}

func TestParserUTF8SplitAcrossChunks(t *testing.T) {
	p := NewParser()
	full := []byte("héllo")
	first := p.Feed(full[:2])
	for _, tok := range first {
		if bytes.ContainsRune(tok.Raw, 0xFFFD) {
			t.Fatalf("partial rune leaked: %+v", tok)
		}
	}
	second := p.Feed(full[2:])
	all := append(first, second...)
	all = append(all, p.Flush()...)
	var text string
	for _, tok := range all {
		if tok.Kind != KindText {
			t.Fatalf("unexpected token kind: %+v", tok)
		}
		text += tok.Text
	}
	if text != "héllo" {
		t.Fatalf("expected %q, got %q", "héllo", text)
	}
	if !bytes.Equal(rawConcat(all), full) {
		t.Fatalf("raw spans do not reconstruct input")
	}
}

func TestParserOsc(t *testing.T) {
	bel := collect(NewParser(), "\x1b]0;my title\x07")
	if len(bel) != 1 || bel[0].Kind != KindOsc || bel[0].Command != "0;my title" {
		t.Fatalf("unexpected BEL-terminated osc: %+v", bel)
	}
	st := collect(NewParser(), "\x1b]2;other\x1b\\")
	if len(st) != 1 || st[0].Kind != KindOsc || st[0].Command != "2;other" {
		t.Fatalf("unexpected ST-terminated osc: %+v", st)
	}
}

func TestParserDcsPassthrough(t *testing.T) {
	tokens := collect(NewParser(), "\x1bP1$q\"p\x1b\\")
	if len(tokens) != 1 {
		t.Fatalf("expected 1 token, got %d: %+v", len(tokens), tokens)
	}
	tok := tokens[0]
	if tok.Kind != KindDcs || string(tok.Payload) != "1$q\"p" {
		t.Fatalf("unexpected dcs: %+v", tok)
	}
	if string(tok.Raw) != "\x1bP1$q\"p\x1b\\" {
		t.Fatalf("unexpected raw: %q", tok.Raw)
	}
}

func TestParserMalformedEscape(t *testing.T) {
	tokens := collect(NewParser(), "\x1bZok")
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d: %+v", len(tokens), tokens)
	}
	if tokens[0].Kind != KindUnknown || string(tokens[0].Raw) != "\x1bZ" {
		t.Fatalf("unexpected unknown token: %+v", tokens[0])
	}
	if tokens[1].Kind != KindText || tokens[1].Text != "ok" {
		t.Fatalf("unexpected text token: %+v", tokens[1])
	}
}

func TestParserMalformedCsiAbortsAsOneUnknown(t *testing.T) {
	tokens := collect(NewParser(), "\x1b[12\x01m")
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d: %+v", len(tokens), tokens)
	}
	if tokens[0].Kind != KindUnknown || string(tokens[0].Raw) != "\x1b[12\x01" {
		t.Fatalf("unexpected unknown token: %q", tokens[0].Raw)
	}
	if tokens[1].Kind != KindText || tokens[1].Text != "m" {
		t.Fatalf("unexpected trailing token: %+v", tokens[1])
	}
}

func TestParserFlushEmitsDanglingSequence(t *testing.T) {
	p := NewParser()
	if got := p.Feed([]byte("\x1b[31")); len(got) != 0 {
		t.Fatalf("expected no tokens yet, got %+v", got)
	}
	tokens := p.Flush()
	if len(tokens) != 1 || tokens[0].Kind != KindUnknown {
		t.Fatalf("expected dangling unknown, got %+v", tokens)
	}
	if string(tokens[0].Raw) != "\x1b[31" {
		t.Fatalf("unexpected raw: %q", tokens[0].Raw)
	}
}

func TestParserLosslessAcrossChunkSizes(t *testing.T) {
	input := []byte("plain \x1b[1;31mred\x1b[0m\r\nnext\x1b]0;t\x07" +
		"wide 世界 \x1bP$q\x1b\\ bad\x1bZ tail\x1b[5")
	for _, size := range []int{1, 2, 3, 5, 7, 11, len(input)} {
		p := NewParser()
		var tokens []Token
		for start := 0; start < len(input); start += size {
			end := start + size
			if end > len(input) {
				end = len(input)
			}
			tokens = append(tokens, p.Feed(input[start:end])...)
		}
		tokens = append(tokens, p.Flush()...)
		if got := rawConcat(tokens); !bytes.Equal(got, input) {
			t.Fatalf("chunk size %d: reconstruction mismatch\n got %q\nwant %q", size, got, input)
		}
	}
}

func TestParserFeedNeverReturnsError(t *testing.T) {
	garbage := []byte{0x1B, 0xFF, 0x1B, '[', 0xFE, 0x00, 0x1B, ']', 0x01, 0x80, 0x1B}
	p := NewParser()
	tokens := p.Feed(garbage)
	tokens = append(tokens, p.Flush()...)
	if !bytes.Equal(rawConcat(tokens), garbage) {
		t.Fatalf("garbage input must still reconstruct")
	}
	for _, tok := range tokens {
		if tok.Kind == KindCsi || tok.Kind == KindOsc {
			t.Fatalf("garbage should not form sequences: %+v", tok)
		}
	}
}
