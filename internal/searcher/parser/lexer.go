package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokPhrase
	tokColon
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokLBrace
	tokRBrace
	tokAnd
	tokOr
	tokNot
	tokPlus
	tokMinus
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of query"
	case tokWord:
		return "term"
	case tokPhrase:
		return "phrase"
	case tokColon:
		return "':'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokLBracket:
		return "'['"
	case tokRBracket:
		return "']'"
	case tokLBrace:
		return "'{'"
	case tokRBrace:
		return "'}'"
	case tokAnd:
		return "AND"
	case tokOr:
		return "OR"
	case tokNot:
		return "NOT"
	case tokPlus:
		return "'+'"
	case tokMinus:
		return "'-'"
	}
	return "unknown"
}

type token struct {
	kind tokenKind
	text string
	pos  int
	// adjacent is set when no whitespace separates the token from the
	// previous one, as in field:value.
	adjacent bool
}

func isSpecial(r rune) bool {
	switch r {
	case '(', ')', '"', ':', '[', ']', '{', '}':
		return true
	}
	return false
}

// lex splits a query into tokens. Operators are only recognised at the
// start of a token, so "e-mail" stays one word.
func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	adjacent := false
	emit := func(kind tokenKind, text string, pos int) {
		tokens = append(tokens, token{kind: kind, text: text, pos: pos, adjacent: adjacent})
		adjacent = true
	}
	for i < len(input) {
		r, size := utf8.DecodeRuneInString(input[i:])
		if unicode.IsSpace(r) {
			i += size
			adjacent = false
			continue
		}
		start := i
		switch {
		case r == '(':
			emit(tokLParen, "(", start)
			i++
		case r == ')':
			emit(tokRParen, ")", start)
			i++
		case r == ':':
			emit(tokColon, ":", start)
			i++
		case r == '[':
			emit(tokLBracket, "[", start)
			i++
		case r == ']':
			emit(tokRBracket, "]", start)
			i++
		case r == '{':
			emit(tokLBrace, "{", start)
			i++
		case r == '}':
			emit(tokRBrace, "}", start)
			i++
		case r == '+':
			emit(tokPlus, "+", start)
			i++
		case r == '-':
			emit(tokMinus, "-", start)
			i++
		case r == '!':
			emit(tokNot, "!", start)
			i++
		case strings.HasPrefix(input[i:], "&&"):
			emit(tokAnd, "&&", start)
			i += 2
		case strings.HasPrefix(input[i:], "||"):
			emit(tokOr, "||", start)
			i += 2
		case r == '"':
			text, end, ok := lexPhrase(input, i+1)
			if !ok {
				return nil, &ParseError{Pos: start, Msg: "unterminated phrase"}
			}
			emit(tokPhrase, text, start)
			i = end
		default:
			text, end, err := lexWord(input, i)
			if err != nil {
				return nil, err
			}
			kind := tokWord
			switch text {
			case "AND":
				kind = tokAnd
			case "OR":
				kind = tokOr
			case "NOT":
				kind = tokNot
			}
			emit(kind, text, start)
			i = end
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(input)})
	return tokens, nil
}

func lexPhrase(input string, i int) (string, int, bool) {
	var sb strings.Builder
	for i < len(input) {
		c := input[i]
		switch {
		case c == '\\' && i+1 < len(input):
			sb.WriteByte(input[i+1])
			i += 2
		case c == '"':
			return sb.String(), i + 1, true
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return "", i, false
}

func lexWord(input string, i int) (string, int, error) {
	var sb strings.Builder
	for i < len(input) {
		r, size := utf8.DecodeRuneInString(input[i:])
		if unicode.IsSpace(r) || isSpecial(r) {
			break
		}
		if r == '\\' {
			if i+1 >= len(input) {
				return "", i, &ParseError{Pos: i, Msg: "dangling escape character"}
			}
			next, nextSize := utf8.DecodeRuneInString(input[i+1:])
			sb.WriteRune(next)
			i += 1 + nextSize
			continue
		}
		sb.WriteRune(r)
		i += size
	}
	return sb.String(), i, nil
}
