package store

import (
	"fmt"
	"strings"

	"github.com/zenoss/zenoss-zep-sub000/internal/query"
)

// sqlWhere renders a query tree as a boolean expression over docs d.
func sqlWhere(n *query.Node) (string, []any, error) {
	if n == nil || n.Empty() {
		return "1", nil, nil
	}
	var args []any
	parts := make([]string, 0, len(n.Clauses)+len(n.Children))
	for _, c := range n.Clauses {
		expr, a, err := sqlClause(c)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, expr)
		args = append(args, a...)
	}
	for _, child := range n.Children {
		expr, a, err := sqlWhere(child)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, expr)
		args = append(args, a...)
	}

	switch n.Occur {
	case query.Should:
		return "(" + strings.Join(parts, " OR ") + ")", args, nil
	case query.MustNot:
		return "NOT (" + strings.Join(parts, " OR ") + ")", args, nil
	default:
		return "(" + strings.Join(parts, " AND ") + ")", args, nil
	}
}

const termExists = "EXISTS (SELECT 1 FROM terms t WHERE t.uuid = d.uuid AND t.field = ? AND "

func sqlClause(c query.Clause) (string, []any, error) {
	switch c.Kind {
	case query.KindTerm:
		return termExists + "t.term = ?)", []any{c.Field, c.Value}, nil
	case query.KindTerms:
		args := []any{c.Field}
		for _, v := range c.Values {
			args = append(args, v)
		}
		return termExists + "t.term IN (" + placeholders(len(c.Values)) + "))", args, nil
	case query.KindPrefix:
		return termExists + "t.term GLOB ?)", []any{c.Field, globEscape(c.Value) + "*"}, nil
	case query.KindWildcard:
		return termExists + "t.term GLOB ?)", []any{c.Field, wildcardGlob(c.Value)}, nil
	case query.KindPhrase:
		expr, args := sqlPhrase(c.Field, c.Values)
		return expr, args, nil
	case query.KindNumericRange:
		expr := "EXISTS (SELECT 1 FROM nums n WHERE n.uuid = d.uuid AND n.field = ?"
		args := []any{c.Field}
		if c.Min != nil {
			expr += " AND n.value >= ?"
			args = append(args, *c.Min)
		}
		if c.Max != nil {
			expr += " AND n.value <= ?"
			args = append(args, *c.Max)
		}
		return expr + ")", args, nil
	case query.KindTermRange:
		expr := "EXISTS (SELECT 1 FROM terms t WHERE t.uuid = d.uuid AND t.field = ?"
		args := []any{c.Field}
		if c.Lower != "" {
			expr += " AND t.term >= ?"
			args = append(args, c.Lower)
		}
		if c.Upper != "" {
			expr += " AND t.term <= ?"
			args = append(args, c.Upper)
		}
		return expr + ")", args, nil
	default:
		return "", nil, fmt.Errorf("unsupported clause kind %s", c.Kind)
	}
}

// sqlPhrase joins one terms row per position on consecutive pos values.
// Wildcard positions match with GLOB.
func sqlPhrase(field string, positions []string) (string, []any) {
	var b strings.Builder
	args := []any{field}
	b.WriteString("EXISTS (SELECT 1 FROM terms t0")
	for i := 1; i < len(positions); i++ {
		fmt.Fprintf(&b, " JOIN terms t%d ON t%d.uuid = t0.uuid AND t%d.field = t0.field AND t%d.pos = t0.pos + %d",
			i, i, i, i, i)
	}
	b.WriteString(" WHERE t0.uuid = d.uuid AND t0.field = ?")
	for i, p := range positions {
		if query.HasWildcard(p) {
			fmt.Fprintf(&b, " AND t%d.term GLOB ?", i)
			args = append(args, wildcardGlob(p))
		} else {
			fmt.Fprintf(&b, " AND t%d.term = ?", i)
			args = append(args, p)
		}
	}
	b.WriteString(")")
	return b.String(), args
}

// globEscape makes s match literally in a GLOB pattern.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[':
			b.WriteByte('[')
			b.WriteRune(r)
			b.WriteByte(']')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// wildcardGlob keeps * and ? as wildcards and escapes everything else.
func wildcardGlob(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*', '?':
			b.WriteRune(r)
		case '[':
			b.WriteString("[[]")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
