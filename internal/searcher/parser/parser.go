// Package parser turns query strings into query trees. The syntax is a
// subset of the classic Lucene query language: terms, quoted phrases,
// field:value, AND/OR/NOT (also &&, ||, !), +/- prefixes, parentheses,
// numeric ranges such as id:[10 TO *] and the match-all query *:*.
package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ippousyuga/search-lucene/internal/indexer/index"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
)

// ParseError reports malformed query syntax at a byte offset of the query.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s", e.Pos, e.Msg)
}

func (e *ParseError) Is(target error) bool {
	return target == apperrors.ErrParse
}

// Options configures parsing. DefaultField must be an indexed text field of
// Schema. DefaultOperator joins terms that have no explicit operator
// between them; it defaults to OR.
type Options struct {
	DefaultField    string
	Schema          index.Schema
	DefaultOperator Operator
}

type Operator int

const (
	OperatorOR Operator = iota
	OperatorAND
)

// ParseOperator accepts "AND" or "OR" in any case; empty means OR.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToUpper(s) {
	case "", "OR":
		return OperatorOR, nil
	case "AND":
		return OperatorAND, nil
	}
	return OperatorOR, fmt.Errorf("unknown default operator %q", s)
}

type parser struct {
	input  string
	tokens []token
	pos    int
	opts   Options
}

// Parse parses query into a tree. Syntax errors are returned as
// *ParseError. Words that analyse to nothing, such as stop words, are
// dropped; a query left with no clauses matches nothing.
func Parse(query string, opts Options) (Query, error) {
	if err := checkDefaultField(opts); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, &ParseError{Pos: 0, Msg: "empty query"}
	}
	tokens, err := lex(query)
	if err != nil {
		return nil, err
	}
	p := &parser{input: query, tokens: tokens, opts: opts}
	q, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		if tok.kind == tokRParen {
			return nil, &ParseError{Pos: tok.pos, Msg: "unbalanced ')'"}
		}
		return nil, &ParseError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %s", tok.kind)}
	}
	if q == nil {
		return &BooleanQuery{}, nil
	}
	return q, nil
}

func checkDefaultField(opts Options) error {
	f, ok := opts.Schema.Field(opts.DefaultField)
	if !ok || f.Type != index.FieldText || !f.Indexed {
		return apperrors.Op(apperrors.ErrInvalidInput, "parse query",
			"default field %q is not an indexed text field", opts.DefaultField)
	}
	return nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind, context string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, &ParseError{Pos: tok.pos, Msg: fmt.Sprintf("expected %s %s, found %s", kind, context, tok.kind)}
	}
	return tok, nil
}

func startsOperand(k tokenKind) bool {
	switch k {
	case tokWord, tokPhrase, tokLParen:
		return true
	}
	return false
}

func startsModified(k tokenKind) bool {
	return k == tokNot || k == tokMinus || k == tokPlus
}

// parseOr parses one level of the query into a flat clause list, the way
// classic Lucene does: bare operands are Should, +x is Must and -x or NOT x
// is MustNot, wherever they appear. AND chains bind tighter and become a
// nested conjunction. A nil query means every operand was dropped during
// analysis.
func (p *parser) parseOr() (Query, error) {
	var chains [][]Clause
	for {
		chain, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if len(chain) > 0 {
			chains = append(chains, chain)
		}
		tok := p.peek()
		if tok.kind == tokOr {
			p.next()
			if k := p.peek().kind; !startsOperand(k) && !startsModified(k) {
				return nil, &ParseError{Pos: p.peek().pos, Msg: "expected term after OR"}
			}
			continue
		}
		if startsOperand(tok.kind) || startsModified(tok.kind) {
			continue
		}
		break
	}

	var clauses []Clause
	if len(chains) == 1 {
		clauses = chains[0]
	} else {
		for _, chain := range chains {
			if len(chain) == 1 || onlyExcludes(chain) {
				clauses = append(clauses, chain...)
				continue
			}
			clauses = append(clauses, Clause{Occur: Should, Query: &BooleanQuery{Clauses: chain}})
		}
	}

	switch {
	case len(clauses) == 0:
		return nil, nil
	case len(clauses) == 1 && clauses[0].Occur != MustNot:
		return clauses[0].Query, nil
	}
	return &BooleanQuery{Clauses: clauses}, nil
}

// onlyExcludes reports whether every clause is MustNot. Such a chain is
// spliced into its parent so "-a AND -b" excludes both from the parent.
func onlyExcludes(clauses []Clause) bool {
	for _, c := range clauses {
		if c.Occur != MustNot {
			return false
		}
	}
	return true
}

// parseAnd parses a run of operands joined by AND, or by adjacency when the
// default operator is AND. Bare operands of a joined run are required.
func (p *parser) parseAnd() ([]Clause, error) {
	var clauses []Clause
	joined := p.opts.DefaultOperator == OperatorAND
	for {
		c, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if c.Query != nil {
			clauses = append(clauses, c)
		}
		tok := p.peek()
		if tok.kind == tokAnd {
			p.next()
			if k := p.peek().kind; !startsOperand(k) && !startsModified(k) {
				return nil, &ParseError{Pos: p.peek().pos, Msg: "expected term after AND"}
			}
			joined = true
			continue
		}
		if p.opts.DefaultOperator == OperatorAND && (startsOperand(tok.kind) || startsModified(tok.kind)) {
			continue
		}
		break
	}
	if joined {
		for i := range clauses {
			if clauses[i].Occur == Should {
				clauses[i].Occur = Must
			}
		}
	}
	return clauses, nil
}

func (p *parser) parseUnary() (Clause, error) {
	tok := p.peek()
	switch tok.kind {
	case tokNot, tokMinus:
		p.next()
		if !startsOperand(p.peek().kind) {
			return Clause{}, &ParseError{Pos: p.peek().pos, Msg: fmt.Sprintf("expected term after %s", tok.kind)}
		}
		q, err := p.parsePrimary()
		return Clause{Occur: MustNot, Query: q}, err
	case tokPlus:
		p.next()
		if !startsOperand(p.peek().kind) {
			return Clause{}, &ParseError{Pos: p.peek().pos, Msg: "expected term after '+'"}
		}
		q, err := p.parsePrimary()
		return Clause{Occur: Must, Query: q}, err
	}
	q, err := p.parsePrimary()
	return Clause{Occur: Should, Query: q}, err
}

func (p *parser) parsePrimary() (Query, error) {
	tok := p.next()
	switch tok.kind {
	case tokLParen:
		if p.peek().kind == tokRParen {
			return nil, &ParseError{Pos: p.peek().pos, Msg: "empty group"}
		}
		q, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "to close group"); err != nil {
			return nil, err
		}
		return q, nil
	case tokPhrase:
		return p.analyze(p.opts.DefaultField, tok.text)
	case tokWord:
		if p.peek().kind == tokColon && p.peek().adjacent {
			p.next()
			return p.parseField(tok)
		}
		if tok.text == "*" {
			return nil, &ParseError{Pos: tok.pos, Msg: "wildcard queries are not supported"}
		}
		return p.analyze(p.opts.DefaultField, tok.text)
	case tokEOF:
		return nil, &ParseError{Pos: tok.pos, Msg: "unexpected end of query"}
	}
	return nil, &ParseError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %s", tok.kind)}
}

func (p *parser) parseField(name token) (Query, error) {
	value := p.peek()
	if !value.adjacent || value.kind == tokEOF {
		return nil, &ParseError{Pos: value.pos, Msg: fmt.Sprintf("missing value for field %q", name.text)}
	}
	if name.text == "*" {
		if value.kind == tokWord && value.text == "*" {
			p.next()
			return &MatchAllQuery{}, nil
		}
		return nil, &ParseError{Pos: name.pos, Msg: "only *:* may use the * field"}
	}
	spec, ok := p.opts.Schema.Field(name.text)
	if !ok {
		return nil, &ParseError{Pos: name.pos, Msg: fmt.Sprintf("unknown field %q", name.text)}
	}
	if !spec.Indexed {
		return nil, &ParseError{Pos: name.pos, Msg: fmt.Sprintf("field %q is not indexed", name.text)}
	}

	if spec.Type == index.FieldInt64 {
		switch value.kind {
		case tokLBracket, tokLBrace:
			return p.parseRange(name.text)
		case tokWord, tokMinus:
			v, err := p.parseInt()
			if err != nil {
				return nil, err
			}
			return &RangeQuery{Field: name.text, Min: v, Max: v}, nil
		}
		return nil, &ParseError{Pos: value.pos, Msg: fmt.Sprintf("field %q expects a number or a range", name.text)}
	}

	switch value.kind {
	case tokWord, tokPhrase:
		p.next()
		return p.analyze(name.text, value.text)
	case tokLParen:
		return p.parseFieldGroup(name.text)
	case tokLBracket, tokLBrace:
		return nil, &ParseError{Pos: value.pos, Msg: fmt.Sprintf("range queries need a numeric field, %q is text", name.text)}
	}
	return nil, &ParseError{Pos: value.pos, Msg: fmt.Sprintf("unexpected %s after field %q", value.kind, name.text)}
}

// parseFieldGroup parses field:(a b) by parsing the group with field as the
// default field.
func (p *parser) parseFieldGroup(field string) (Query, error) {
	saved := p.opts.DefaultField
	p.opts.DefaultField = field
	defer func() { p.opts.DefaultField = saved }()
	return p.parsePrimary()
}

func (p *parser) parseInt() (int64, error) {
	tok := p.next()
	neg := false
	if tok.kind == tokMinus {
		neg = true
		tok = p.next()
		if tok.kind != tokWord || !tok.adjacent {
			return 0, &ParseError{Pos: tok.pos, Msg: "expected number after '-'"}
		}
	}
	text := tok.text
	if neg {
		text = "-" + text
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, &ParseError{Pos: tok.pos, Msg: fmt.Sprintf("invalid number %q", text)}
	}
	return v, nil
}

func (p *parser) parseBound(open int64) (int64, error) {
	if tok := p.peek(); tok.kind == tokWord && tok.text == "*" {
		p.next()
		return open, nil
	}
	return p.parseInt()
}

func (p *parser) parseRange(field string) (Query, error) {
	open := p.next()
	minInclusive := open.kind == tokLBracket
	lo, err := p.parseBound(math.MinInt64)
	if err != nil {
		return nil, err
	}
	if to := p.next(); to.kind != tokWord || to.text != "TO" {
		return nil, &ParseError{Pos: to.pos, Msg: "expected TO in range"}
	}
	hi, err := p.parseBound(math.MaxInt64)
	if err != nil {
		return nil, err
	}
	closing := p.next()
	var maxInclusive bool
	switch closing.kind {
	case tokRBracket:
		maxInclusive = true
	case tokRBrace:
	default:
		return nil, &ParseError{Pos: closing.pos, Msg: "expected ']' or '}' to close range"}
	}
	if !minInclusive && lo != math.MinInt64 {
		if lo == math.MaxInt64 {
			return &BooleanQuery{}, nil
		}
		lo++
	}
	if !maxInclusive && hi != math.MaxInt64 {
		if hi == math.MinInt64 {
			return &BooleanQuery{}, nil
		}
		hi--
	}
	if lo > hi {
		return &BooleanQuery{}, nil
	}
	return &RangeQuery{Field: field, Min: lo, Max: hi}, nil
}

// analyze runs the field's analyzer over text: no tokens drop the operand,
// one token is a term query and several become a phrase.
func (p *parser) analyze(field, text string) (Query, error) {
	analyzer, err := p.opts.Schema.Analyzer(field)
	if err != nil {
		return nil, err
	}
	tokens := analyzer.Analyze(text)
	switch len(tokens) {
	case 0:
		return nil, nil
	case 1:
		return &TermQuery{Field: field, Term: tokens[0].Term}, nil
	}
	q := &PhraseQuery{
		Field:     field,
		Terms:     make([]string, len(tokens)),
		Positions: make([]int, len(tokens)),
	}
	base := tokens[0].Position
	for i, t := range tokens {
		q.Terms[i] = t.Term
		q.Positions[i] = t.Position - base
	}
	return q, nil
}
