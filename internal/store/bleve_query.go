package store

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/blevesearch/bleve/v2"
	bq "github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"

	"github.com/zenoss/zenoss-zep-sub000/internal/query"
)

// maxPhraseExpansions caps the dictionary terms one wildcard phrase position
// may expand to.
const maxPhraseExpansions = 1024

var minFloat = -math.MaxFloat64

// bleveQuery converts a query tree. A nil or empty tree matches everything.
func bleveQuery(idx bleve.Index, n *query.Node) (bq.Query, error) {
	if n == nil || n.Empty() {
		return bleve.NewMatchAllQuery(), nil
	}
	items := make([]bq.Query, 0, len(n.Clauses)+len(n.Children))
	for _, c := range n.Clauses {
		q, err := clauseQuery(idx, c)
		if err != nil {
			return nil, err
		}
		items = append(items, q)
	}
	for _, child := range n.Children {
		q, err := bleveQuery(idx, child)
		if err != nil {
			return nil, err
		}
		items = append(items, q)
	}

	switch n.Occur {
	case query.Should:
		return bleve.NewDisjunctionQuery(items...), nil
	case query.MustNot:
		b := bleve.NewBooleanQuery()
		b.AddMust(bleve.NewMatchAllQuery())
		b.AddMustNot(items...)
		return b, nil
	default:
		return bleve.NewConjunctionQuery(items...), nil
	}
}

func clauseQuery(idx bleve.Index, c query.Clause) (bq.Query, error) {
	field := bleveField(c.Field)
	switch c.Kind {
	case query.KindTerm:
		q := bleve.NewTermQuery(c.Value)
		q.SetField(field)
		return q, nil
	case query.KindTerms:
		qs := make([]bq.Query, 0, len(c.Values))
		for _, v := range c.Values {
			q := bleve.NewTermQuery(v)
			q.SetField(field)
			qs = append(qs, q)
		}
		return bleve.NewDisjunctionQuery(qs...), nil
	case query.KindPrefix:
		q := bleve.NewPrefixQuery(c.Value)
		q.SetField(field)
		return q, nil
	case query.KindWildcard:
		q := bleve.NewWildcardQuery(c.Value)
		q.SetField(field)
		return q, nil
	case query.KindPhrase:
		return phraseQuery(idx, field, c.Values)
	case query.KindNumericRange:
		inclusive := true
		lo := c.Min
		if lo == nil && c.Max == nil {
			// bleve rejects a range without bounds
			lo = &minFloat
		}
		q := bleve.NewNumericRangeInclusiveQuery(lo, c.Max, &inclusive, &inclusive)
		q.SetField(field)
		return q, nil
	case query.KindTermRange:
		if c.Lower == "" && c.Upper == "" {
			q := bleve.NewWildcardQuery("*")
			q.SetField(field)
			return q, nil
		}
		inclusive := true
		q := bleve.NewTermRangeInclusiveQuery(c.Lower, c.Upper, &inclusive, &inclusive)
		q.SetField(field)
		return q, nil
	default:
		return nil, fmt.Errorf("unsupported clause kind %s", c.Kind)
	}
}

// phraseQuery matches consecutive tokens. Positions containing wildcards are
// expanded against the field dictionary into a multi-phrase query.
func phraseQuery(idx bleve.Index, field string, positions []string) (bq.Query, error) {
	if len(positions) == 1 {
		if query.HasWildcard(positions[0]) {
			q := bleve.NewWildcardQuery(positions[0])
			q.SetField(field)
			return q, nil
		}
		q := bleve.NewTermQuery(positions[0])
		q.SetField(field)
		return q, nil
	}

	terms := make([][]string, len(positions))
	expanded := false
	for i, p := range positions {
		if !query.HasWildcard(p) {
			terms[i] = []string{p}
			continue
		}
		expanded = true
		matches, err := expandWildcard(idx, field, p)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return bleve.NewMatchNoneQuery(), nil
		}
		terms[i] = matches
	}
	if !expanded {
		return bleve.NewPhraseQuery(positions, field), nil
	}
	return bq.NewMultiPhraseQuery(terms, field), nil
}

// expandWildcard lists the dictionary terms of field matching pattern.
func expandWildcard(idx bleve.Index, field, pattern string) ([]string, error) {
	re, err := wildcardRegexp(pattern)
	if err != nil {
		return nil, err
	}
	dict, err := idx.FieldDict(field)
	if err != nil {
		return nil, err
	}
	defer func(d index.FieldDict) { _ = d.Close() }(dict)

	var out []string
	for {
		entry, err := dict.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil || len(out) >= maxPhraseExpansions {
			return out, nil
		}
		if re.MatchString(entry.Term) {
			out = append(out, entry.Term)
		}
	}
}

// wildcardRegexp translates * and ? into an anchored regular expression.
func wildcardRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
