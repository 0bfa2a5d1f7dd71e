// Package query turns an event filter into a backend-neutral boolean tree.
//
// A Builder collects filter values per field and per FieldType; Build then
// runs each FieldType's strategy to produce the leaf Clauses of a Node. Index
// backends walk the resulting tree and emit their own native queries.
package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Occur is the boolean role of a node's items.
type Occur int

const (
	// Must requires every item to match.
	Must Occur = iota
	// Should requires at least one item to match.
	Should
	// MustNot requires that no item matches.
	MustNot
)

func (o Occur) String() string {
	switch o {
	case Must:
		return "MUST"
	case Should:
		return "SHOULD"
	case MustNot:
		return "MUST_NOT"
	default:
		return "OCCUR(" + strconv.Itoa(int(o)) + ")"
	}
}

// ClauseKind selects how a Clause matches its field.
type ClauseKind int

const (
	KindTerm ClauseKind = iota
	KindTerms
	KindPrefix
	KindWildcard
	KindPhrase
	KindNumericRange
	KindTermRange
)

var kindNames = [...]string{"term", "terms", "prefix", "wildcard", "phrase", "range", "termrange"}

func (k ClauseKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Clause is a single leaf criterion.
type Clause struct {
	Kind  ClauseKind
	Field string

	// Value is the term, prefix or wildcard pattern.
	Value string

	// Values are the alternatives of a Terms clause, or the consecutive
	// positions of a Phrase. A phrase position containing * or ? is expanded
	// against the field's dictionary by the backend.
	Values []string

	// Min and Max bound a NumericRange inclusively. Nil is open.
	Min, Max *float64

	// Lower and Upper bound a TermRange inclusively.
	Lower, Upper string
}

func (c Clause) String() string {
	switch c.Kind {
	case KindTerms, KindPhrase:
		return fmt.Sprintf("%s(%s:[%s])", c.Kind, c.Field, strings.Join(c.Values, " "))
	case KindNumericRange:
		return fmt.Sprintf("%s(%s:[%s,%s])", c.Kind, c.Field, fmtBound(c.Min), fmtBound(c.Max))
	case KindTermRange:
		return fmt.Sprintf("%s(%s:[%s,%s])", c.Kind, c.Field, c.Lower, c.Upper)
	default:
		return fmt.Sprintf("%s(%s:%s)", c.Kind, c.Field, c.Value)
	}
}

func fmtBound(v *float64) string {
	if v == nil {
		return "*"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// Node is one level of the boolean tree.
type Node struct {
	Occur    Occur
	Clauses  []Clause
	Children []*Node
}

// Empty reports whether n has nothing to match on.
func (n *Node) Empty() bool {
	return n == nil || (len(n.Clauses) == 0 && len(n.Children) == 0)
}

// String renders n as e.g. MUST(term(status:1), SHOULD(...)).
func (n *Node) String() string {
	if n == nil {
		return "ALL"
	}
	parts := make([]string, 0, len(n.Clauses)+len(n.Children))
	for _, c := range n.Clauses {
		parts = append(parts, c.String())
	}
	for _, child := range n.Children {
		parts = append(parts, child.String())
	}
	return n.Occur.String() + "(" + strings.Join(parts, ", ") + ")"
}

// Walk calls fn for every clause in n and its descendants.
func (n *Node) Walk(fn func(Clause)) {
	if n == nil {
		return
	}
	for _, c := range n.Clauses {
		fn(c)
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

func termClause(field, value string) Clause {
	return Clause{Kind: KindTerm, Field: field, Value: value}
}

func prefixClause(field, value string) Clause {
	return Clause{Kind: KindPrefix, Field: field, Value: value}
}

func wildcardClause(field, value string) Clause {
	if !HasWildcard(value) {
		return termClause(field, value)
	}
	return Clause{Kind: KindWildcard, Field: field, Value: value}
}

func phraseClause(field string, positions []string) Clause {
	return Clause{Kind: KindPhrase, Field: field, Values: positions}
}

func rangeClause(field string, min, max *float64) Clause {
	return Clause{Kind: KindNumericRange, Field: field, Min: min, Max: max}
}
