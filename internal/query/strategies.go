package query

import (
	"fmt"
	"strings"
)

// strategy converts the distinct values of one field into clauses and child
// nodes of a node whose items combine with occur.
type strategy func(occur Occur, field string, values []any) ([]Clause, []*Node, error)

var strategies = map[FieldType]strategy{
	DateRange:          dateRangeStrategy,
	EnumNumber:         enumNumberStrategy,
	FullText:           fullTextStrategy,
	Identifier:         identifierStrategy,
	IPAddressSubstring: ipSubstringStrategy,
	IPAddress:          ipAddressStrategy,
	IPAddressRange:     ipRangeStrategy,
	NumericRange:       numericRangeStrategy,
	Path:               pathStrategy,
	Term:               termStrategy,
	Wildcard:           wildcardStrategy,
}

func typed[T any](field string, values []any) ([]T, error) {
	out := make([]T, 0, len(values))
	for _, v := range values {
		t, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("field %s: unexpected value type %T", field, v)
		}
		out = append(out, t)
	}
	return out, nil
}

func dateRangeStrategy(_ Occur, field string, values []any) ([]Clause, []*Node, error) {
	ranges, err := typed[TimestampRange](field, values)
	if err != nil {
		return nil, nil, err
	}
	clauses := make([]Clause, 0, len(ranges))
	for _, r := range ranges {
		clauses = append(clauses, rangeClause(field, toFloat(r.Start), toFloat(r.End)))
	}
	return clauses, nil, nil
}

func enumNumberStrategy(_ Occur, field string, values []any) ([]Clause, []*Node, error) {
	nums, err := typed[int](field, values)
	if err != nil {
		return nil, nil, err
	}
	var clauses []Clause
	for _, r := range CondenseInts(nums) {
		clauses = append(clauses, rangeClause(field, toFloat(r.From), toFloat(r.To)))
	}
	return clauses, nil, nil
}

func numericRangeStrategy(occur Occur, field string, values []any) ([]Clause, []*Node, error) {
	var ints []Range[int64]
	var floats []Range[float64]
	for _, v := range values {
		switch r := v.(type) {
		case Range[int64]:
			ints = append(ints, r)
		case Range[float64]:
			floats = append(floats, r)
		default:
			return nil, nil, fmt.Errorf("field %s: unexpected range type %T", field, v)
		}
	}
	if occur != Must {
		ints = MergeAll(ints)
		floats = MergeAll(floats)
	}
	clauses := make([]Clause, 0, len(ints)+len(floats))
	for _, r := range ints {
		clauses = append(clauses, rangeClause(field, toFloat(r.From), toFloat(r.To)))
	}
	for _, r := range floats {
		clauses = append(clauses, rangeClause(field, r.From, r.To))
	}
	return clauses, nil, nil
}

// fullTextStrategy treats each value as a conjunction of words and quoted
// phrases; values are alternatives.
func fullTextStrategy(occur Occur, field string, values []any) ([]Clause, []*Node, error) {
	strs, err := typed[string](field, values)
	if err != nil {
		return nil, nil, err
	}
	outer := &Node{Occur: Should}
	for _, value := range strs {
		inner := fullTextValue(field, value)
		switch len(inner) {
		case 0:
		case 1:
			outer.Clauses = append(outer.Clauses, inner[0])
		default:
			outer.Children = append(outer.Children, &Node{Occur: Must, Clauses: inner})
		}
	}
	if outer.Empty() {
		return nil, nil, nil
	}
	if len(outer.Clauses)+len(outer.Children) == 1 || occur == Should {
		return outer.Clauses, outer.Children, nil
	}
	return nil, []*Node{outer}, nil
}

func fullTextValue(field, value string) []Clause {
	var clauses []Clause
	var phrase []string
	inPhrase := false
	for _, tok := range FullTextTokens(value) {
		if !inPhrase && strings.HasPrefix(tok, `"`) {
			tok = tok[1:]
			if tok == "" {
				continue
			}
			inPhrase = true
		}
		if !inPhrase {
			clauses = append(clauses, wildcardClause(field, tok))
			continue
		}
		closing := strings.HasSuffix(tok, `"`)
		tok = strings.TrimSuffix(tok, `"`)
		if tok != "" {
			phrase = append(phrase, tok)
		}
		if closing {
			if len(phrase) > 0 {
				clauses = append(clauses, phraseClause(field, phrase))
			}
			phrase, inPhrase = nil, false
		}
	}
	// an unterminated phrase still matches, so search-as-you-type works
	if len(phrase) > 0 {
		clauses = append(clauses, phraseClause(field, phrase))
	}
	return clauses
}

func identifierStrategy(_ Occur, field string, values []any) ([]Clause, []*Node, error) {
	strs, err := typed[string](field, values)
	if err != nil {
		return nil, nil, err
	}
	clauses := make([]Clause, 0, len(strs))
	for _, value := range strs {
		lower := strings.ToLower(value)
		switch {
		case IsQuoted(value):
			clauses = append(clauses, wildcardClause(NonAnalyzed(field), Unquote(lower)))
		case strings.HasSuffix(value, "*"):
			// a bare "*" constrains nothing
			if prefix := strings.TrimRight(lower, "*"); prefix != "" {
				clauses = append(clauses, prefixClause(NonAnalyzed(field), prefix))
			}
		case len([]rune(value)) < MinNGramSize:
			clauses = append(clauses, prefixClause(field, lower))
		default:
			clauses = append(clauses, phraseClause(field, IdentifierTokens(value)))
		}
	}
	return clauses, nil, nil
}

func pathStrategy(_ Occur, field string, values []any) ([]Clause, []*Node, error) {
	strs, err := typed[string](field, values)
	if err != nil {
		return nil, nil, err
	}
	clauses := make([]Clause, 0, len(strs))
	for _, value := range strs {
		trimmed := strings.TrimLeft(value, "*")
		if !strings.HasPrefix(trimmed, "/") {
			if tokens := PathTokens(value); len(tokens) > 0 {
				clauses = append(clauses, phraseClause(field, tokens))
			}
			continue
		}
		v := strings.ToLower(trimmed)
		switch {
		case strings.HasSuffix(v, "/"):
			clauses = append(clauses, prefixClause(NonAnalyzed(field), v))
		case strings.HasSuffix(v, "*"):
			clauses = append(clauses, prefixClause(NonAnalyzed(field), strings.TrimRight(v, "*")))
		default:
			clauses = append(clauses, termClause(NonAnalyzed(field), v+"/"))
		}
	}
	return clauses, nil, nil
}

func termStrategy(occur Occur, field string, values []any) ([]Clause, []*Node, error) {
	strs, err := typed[string](field, values)
	if err != nil {
		return nil, nil, err
	}
	if occur == Should {
		return []Clause{{Kind: KindTerms, Field: field, Values: strs}}, nil, nil
	}
	clauses := make([]Clause, 0, len(strs))
	for _, s := range strs {
		clauses = append(clauses, termClause(field, s))
	}
	return clauses, nil, nil
}

// wildcardStrategy matches keyword fields. A quoted value is an exact match;
// an empty or all-star value matches the empty string.
func wildcardStrategy(_ Occur, field string, values []any) ([]Clause, []*Node, error) {
	strs, err := typed[string](field, values)
	if err != nil {
		return nil, nil, err
	}
	clauses := make([]Clause, 0, len(strs))
	for _, value := range strs {
		tmp := strings.TrimRight(value, "*")
		unquoted := Unquote(tmp)
		switch {
		case tmp == "" || unquoted == "":
			clauses = append(clauses, termClause(field, unquoted))
		case IsQuoted(value):
			clauses = append(clauses, termClause(field, Unquote(value)))
		default:
			clauses = append(clauses, wildcardClause(field, value))
		}
	}
	return clauses, nil, nil
}

func ipAddressStrategy(occur Occur, field string, values []any) ([]Clause, []*Node, error) {
	ranges, err := typed[IPRange](field, values)
	if err != nil {
		return nil, nil, err
	}
	hosts := make([]any, 0, len(ranges))
	for _, r := range ranges {
		hosts = append(hosts, CanonicalIP(r.From))
	}
	return termStrategy(occur, field+SortSuffix, hosts)
}

func ipRangeStrategy(_ Occur, field string, values []any) ([]Clause, []*Node, error) {
	ranges, err := typed[IPRange](field, values)
	if err != nil {
		return nil, nil, err
	}
	clauses := make([]Clause, 0, len(ranges))
	for _, r := range ranges {
		clauses = append(clauses, Clause{
			Kind:  KindTermRange,
			Field: field + SortSuffix,
			Lower: CanonicalIP(r.From),
			Upper: CanonicalIP(r.To),
		})
	}
	return clauses, nil, nil
}

func ipSubstringStrategy(_ Occur, field string, values []any) ([]Clause, []*Node, error) {
	strs, err := typed[string](field, values)
	if err != nil {
		return nil, nil, err
	}
	var clauses []Clause
	var children []*Node
	for _, v := range strs {
		var family, sep string
		switch {
		case strings.Contains(v, "."):
			family, sep = IPType4, "."
		case strings.Contains(v, ":"):
			family, sep = IPType6, ":"
		default:
			clauses = append(clauses, wildcardClause(field, strings.ToLower(RemoveLeadingZeros(v))))
			continue
		}
		node := &Node{Occur: Must, Clauses: []Clause{termClause(field+IPTypeSuffix, family)}}
		if tokens := ipQueryTokens(v, sep); len(tokens) > 0 {
			node.Clauses = append(node.Clauses, phraseClause(field, tokens))
		} else {
			node.Clauses = append(node.Clauses, termClause(field, v))
		}
		children = append(children, node)
	}
	return clauses, children, nil
}
