package parser

import (
	"fmt"
	"math"
	"strings"
)

// Query is a node of a parsed query tree.
type Query interface {
	String() string
	query()
}

// TermQuery matches documents containing one analysed term.
type TermQuery struct {
	Field string
	Term  string
}

// PhraseQuery matches documents where Terms occur at the given relative
// positions. Positions keep the gaps left by dropped stop words.
type PhraseQuery struct {
	Field     string
	Terms     []string
	Positions []int
}

type Occur int

const (
	Should Occur = iota
	Must
	MustNot
)

func (o Occur) prefix() string {
	switch o {
	case Must:
		return "+"
	case MustNot:
		return "-"
	}
	return ""
}

type Clause struct {
	Occur Occur
	Query Query
}

// BooleanQuery combines clauses. With Must clauses a document has to match
// all of them and Should clauses only add score; without Must clauses at
// least one Should clause has to match. A query made only of MustNot
// clauses matches every document except the excluded ones. An empty
// BooleanQuery matches nothing.
type BooleanQuery struct {
	Clauses []Clause
}

// RangeQuery matches int64 field values in [Min, Max].
type RangeQuery struct {
	Field string
	Min   int64
	Max   int64
}

type MatchAllQuery struct{}

func (*TermQuery) query()     {}
func (*PhraseQuery) query()   {}
func (*BooleanQuery) query()  {}
func (*RangeQuery) query()    {}
func (*MatchAllQuery) query() {}

func (q *TermQuery) String() string {
	return q.Field + ":" + q.Term
}

func (q *PhraseQuery) String() string {
	var sb strings.Builder
	sb.WriteString(q.Field)
	sb.WriteString(`:"`)
	last := -1
	for i, term := range q.Terms {
		if i > 0 {
			sb.WriteByte(' ')
			for gap := q.Positions[i] - last - 1; gap > 0; gap-- {
				sb.WriteString("? ")
			}
		}
		sb.WriteString(term)
		last = q.Positions[i]
	}
	sb.WriteByte('"')
	return sb.String()
}

func (q *BooleanQuery) String() string {
	parts := make([]string, len(q.Clauses))
	for i, c := range q.Clauses {
		s := c.Query.String()
		if _, nested := c.Query.(*BooleanQuery); nested {
			s = "(" + s + ")"
		}
		parts[i] = c.Occur.prefix() + s
	}
	return strings.Join(parts, " ")
}

func (q *RangeQuery) String() string {
	if q.Min == q.Max {
		return fmt.Sprintf("%s:%d", q.Field, q.Min)
	}
	return fmt.Sprintf("%s:[%s TO %s]", q.Field, bound(q.Min, math.MinInt64), bound(q.Max, math.MaxInt64))
}

func bound(v, open int64) string {
	if v == open {
		return "*"
	}
	return fmt.Sprint(v)
}

func (*MatchAllQuery) String() string {
	return "*:*"
}
