package policy

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokDot
	tokMinus
	tokEq
	tokNeq
	tokLt
	tokLte
	tokGt
	tokGte
	tokAnd
	tokOr
	tokNot
)

var tokenNames = map[tokenKind]string{
	tokEOF:      "end of expression",
	tokIdent:    "identifier",
	tokString:   "string",
	tokNumber:   "number",
	tokLParen:   "(",
	tokRParen:   ")",
	tokLBracket: "[",
	tokRBracket: "]",
	tokComma:    ",",
	tokDot:      ".",
	tokMinus:    "-",
	tokEq:       "==",
	tokNeq:      "!=",
	tokLt:       "<",
	tokLte:      "<=",
	tokGt:       ">",
	tokGte:      ">=",
	tokAnd:      "&&",
	tokOr:       "||",
	tokNot:      "!",
}

func (k tokenKind) String() string { return tokenNames[k] }

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tokIdent, tokNumber:
		return t.text
	case tokString:
		return strconv.Quote(t.text)
	}
	return t.kind.String()
}

// lex splits src into tokens. Keywords (and, or, not, in, contains, true,
// false, null) are returned as identifiers and recognised by the parser.
func lex(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			out = append(out, token{kind: tokIdent, text: src[start:i], pos: start})
		case isDigit(c):
			start := i
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			n, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at %d", src[start:i], start)
			}
			out = append(out, token{kind: tokNumber, text: src[start:i], num: n, pos: start})
		case c == '"' || c == '\'':
			s, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			out = append(out, token{kind: tokString, text: s, pos: i})
			i = next
		default:
			kind, width, err := lexOperator(src, i)
			if err != nil {
				return nil, err
			}
			out = append(out, token{kind: kind, text: src[i : i+width], pos: i})
			i += width
		}
	}
	out = append(out, token{kind: tokEOF, pos: len(src)})
	return out, nil
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1, nil
		case c == '\\':
			if i+1 >= len(src) {
				return "", 0, fmt.Errorf("unterminated string at %d", start)
			}
			switch esc := src[i+1]; esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\', '"', '\'':
				b.WriteByte(esc)
			default:
				return "", 0, fmt.Errorf("invalid escape \\%c at %d", esc, i)
			}
			i += 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated string at %d", start)
}

func lexOperator(src string, i int) (tokenKind, int, error) {
	two := ""
	if i+1 < len(src) {
		two = src[i : i+2]
	}
	switch two {
	case "==":
		return tokEq, 2, nil
	case "!=":
		return tokNeq, 2, nil
	case "<=":
		return tokLte, 2, nil
	case ">=":
		return tokGte, 2, nil
	case "&&":
		return tokAnd, 2, nil
	case "||":
		return tokOr, 2, nil
	}
	switch src[i] {
	case '(':
		return tokLParen, 1, nil
	case ')':
		return tokRParen, 1, nil
	case '[':
		return tokLBracket, 1, nil
	case ']':
		return tokRBracket, 1, nil
	case ',':
		return tokComma, 1, nil
	case '.':
		return tokDot, 1, nil
	case '-':
		return tokMinus, 1, nil
	case '<':
		return tokLt, 1, nil
	case '>':
		return tokGt, 1, nil
	case '!':
		return tokNot, 1, nil
	}
	return 0, 0, fmt.Errorf("unexpected character %q at %d", src[i], i)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
