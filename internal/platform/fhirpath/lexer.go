package fhirpath

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tkIdent tokenKind = iota
	tkNumber
	tkString
	tkDateTime // @2024-01-01, without the @
	tkVariable // %resource, without the %
	tkDot
	tkLParen
	tkRParen
	tkLBrack
	tkRBrack
	tkComma
	tkEq
	tkNe
	tkLt
	tkGt
	tkLe
	tkGe
	tkPipe
	tkEOF
)

type token struct {
	kind  tokenKind
	value string
	pos   int
}

var punctuation = map[byte]tokenKind{
	'.': tkDot, '(': tkLParen, ')': tkRParen, '[': tkLBrack, ']': tkRBrack,
	',': tkComma, '|': tkPipe, '=': tkEq, '<': tkLt, '>': tkGt,
}

var comparisons = map[string]tokenKind{"!=": tkNe, "<=": tkLe, ">=": tkGe}

var escapes = map[byte]byte{'n': '\n', 't': '\t', 'r': '\r', 'f': '\f'}

type lexer struct {
	src    string
	pos    int
	tokens []token
}

func tokenize(src string) ([]token, error) {
	lx := &lexer{src: src}
	for {
		lx.pos = lx.skip(lx.pos, isSpace)
		if lx.pos >= len(src) {
			break
		}
		if err := lx.scan(); err != nil {
			return nil, err
		}
	}
	lx.emit(tkEOF, "", len(src), len(src))
	return lx.tokens, nil
}

// emit appends a token starting at start and moves past end.
func (lx *lexer) emit(kind tokenKind, value string, start, end int) {
	lx.tokens = append(lx.tokens, token{kind: kind, value: value, pos: start})
	lx.pos = end
}

// skip returns the offset of the first byte at or after from that fails ok.
func (lx *lexer) skip(from int, ok func(byte) bool) int {
	for from < len(lx.src) && ok(lx.src[from]) {
		from++
	}
	return from
}

func (lx *lexer) scan() error {
	start := lx.pos
	c := lx.src[start]

	if start+2 <= len(lx.src) {
		if kind, ok := comparisons[lx.src[start:start+2]]; ok {
			lx.emit(kind, lx.src[start:start+2], start, start+2)
			return nil
		}
	}
	if kind, ok := punctuation[c]; ok {
		lx.emit(kind, string(c), start, start+1)
		return nil
	}

	switch {
	case c == '\'':
		return lx.scanString()
	case c == '`':
		end := strings.IndexByte(lx.src[start+1:], '`')
		if end < 0 {
			return fmt.Errorf("unterminated identifier at position %d", start)
		}
		lx.emit(tkIdent, lx.src[start+1:start+1+end], start, start+end+2)
	case c == '@':
		end := lx.skip(start+1, isDateTimeChar)
		lx.emit(tkDateTime, lx.src[start+1:end], start, end)
	case c == '%':
		end := lx.skip(start+1, isIdentChar)
		if end == start+1 {
			return fmt.Errorf("expected variable name at position %d", start)
		}
		lx.emit(tkVariable, lx.src[start+1:end], start, end)
	case c == '-' || isDigit(c):
		return lx.scanNumber()
	case c == '$' || c == '_' || unicode.IsLetter(rune(c)):
		end := lx.skip(start+1, isIdentChar)
		lx.emit(tkIdent, lx.src[start:end], start, end)
	default:
		return fmt.Errorf("unexpected character %q at position %d", string(c), start)
	}
	return nil
}

// scanNumber reads an integer or decimal with an optional minus sign. A dot
// not followed by a digit belongs to the next navigation step.
func (lx *lexer) scanNumber() error {
	start := lx.pos
	end := start
	if lx.src[end] == '-' {
		end++
	}
	end = lx.skip(end, isDigit)
	if end+1 < len(lx.src) && lx.src[end] == '.' && isDigit(lx.src[end+1]) {
		end = lx.skip(end+1, isDigit)
	}
	if end == start+1 && lx.src[start] == '-' {
		return fmt.Errorf("unexpected character '-' at position %d", start)
	}
	lx.emit(tkNumber, lx.src[start:end], start, end)
	return nil
}

func (lx *lexer) scanString() error {
	start := lx.pos
	var sb strings.Builder
	for i := start + 1; i < len(lx.src); i++ {
		c := lx.src[i]
		switch {
		case c == '\'':
			lx.emit(tkString, sb.String(), start, i+1)
			return nil
		case c == '\\' && i+1 < len(lx.src):
			i++
			if r, n, ok := unicodeEscape(lx.src[i:]); ok {
				sb.WriteRune(r)
				i += n - 1
			} else if e, ok := escapes[lx.src[i]]; ok {
				sb.WriteByte(e)
			} else {
				sb.WriteByte(lx.src[i])
			}
		default:
			sb.WriteByte(c)
		}
	}
	return fmt.Errorf("unterminated string at position %d", start)
}

// unicodeEscape decodes uXXXX at the start of s, reporting how many bytes it
// used.
func unicodeEscape(s string) (rune, int, bool) {
	if len(s) < 5 || s[0] != 'u' {
		return 0, 0, false
	}
	v, err := strconv.ParseUint(s[1:5], 16, 32)
	if err != nil {
		return 0, 0, false
	}
	return rune(v), 5, true
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isDateTimeChar(c byte) bool { return isDigit(c) || strings.IndexByte("-:T+Z.", c) >= 0 }

func isIdentChar(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}
