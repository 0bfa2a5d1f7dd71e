package query

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
)

// FieldType selects the strategy that turns a field's values into clauses.
// Build visits types in declaration order.
type FieldType int

const (
	DateRange FieldType = iota
	EnumNumber
	FullText
	Identifier
	IPAddressSubstring
	IPAddress
	IPAddressRange
	NumericRange
	Path
	Term
	Wildcard
)

var fieldTypeNames = [...]string{
	"DATE_RANGE", "ENUM_NUMBER", "FULL_TEXT", "IDENTIFIER", "IP_ADDRESS_SUBSTRING",
	"IP_ADDRESS", "IP_ADDRESS_RANGE", "NUMERIC_RANGE", "PATH", "TERM", "WILDCARD",
}

func (t FieldType) String() string {
	if int(t) < len(fieldTypeNames) {
		return fieldTypeNames[t]
	}
	return "FieldType(" + strconv.Itoa(int(t)) + ")"
}

// ErrUnindexedDetail is returned when a filter names a detail that is not indexed.
var ErrUnindexedDetail = zerrors.New(zerrors.ErrCodeUnindexedDetail, "event detail is not indexed", nil)

// valueSet keeps distinct values in insertion order.
type valueSet struct {
	seen   map[string]struct{}
	values []any
}

func (s *valueSet) add(v any) {
	k := fmt.Sprintf("%T:%v", v, deref(v))
	if _, ok := s.seen[k]; ok {
		return
	}
	s.seen[k] = struct{}{}
	s.values = append(s.values, v)
}

func deref(v any) any {
	switch r := v.(type) {
	case Range[int64]:
		return r.String()
	case Range[float64]:
		return r.String()
	case TimestampRange:
		return Range[int64]{From: r.Start, To: r.End}.String()
	}
	return v
}

// Builder accumulates filter values for one node of the query tree.
type Builder struct {
	occur   Occur
	details Details
	fields  map[FieldType]map[string]*valueSet
	subs    []*Builder
}

// NewBuilder returns a builder whose values combine with op.
func NewBuilder(op Operator, details Details) *Builder {
	return newBuilder(op.Occur(), details)
}

func newBuilder(occur Occur, details Details) *Builder {
	return &Builder{
		occur:   occur,
		details: details,
		fields:  make(map[FieldType]map[string]*valueSet),
	}
}

func (b *Builder) sub(occur Occur) *Builder {
	return newBuilder(occur, b.details)
}

func (b *Builder) fieldSet(t FieldType, field string) *valueSet {
	byField, ok := b.fields[t]
	if !ok {
		byField = make(map[string]*valueSet)
		b.fields[t] = byField
	}
	set, ok := byField[field]
	if !ok {
		set = &valueSet{seen: make(map[string]struct{})}
		byField[field] = set
	}
	return set
}

// Empty reports whether nothing has been added.
func (b *Builder) Empty() bool {
	return len(b.fields) == 0 && len(b.subs) == 0
}

// addValues places values on this node or on a new child depending on how op
// relates to the node's occur.
func addValues[T any](b *Builder, t FieldType, field string, values []T, op Operator) {
	if len(values) == 0 {
		return
	}
	target := b
	switch b.occur {
	case Should:
		if op == And {
			target = b.sub(Must)
		}
	case Must:
		if op == Or {
			target = b.sub(Should)
		}
	case MustNot:
		// none of (a AND b) is expressed as a nested all-match node
		if op == And {
			target = b.sub(Must)
		}
	}
	set := target.fieldSet(t, field)
	for _, v := range values {
		set.add(v)
	}
	if target != b {
		b.subs = append(b.subs, target)
	}
}

func addValue(b *Builder, t FieldType, field string, v any) {
	b.fieldSet(t, field).add(v)
}

// AddFilter adds every populated field of f.
func (b *Builder) AddFilter(f *Filter) error {
	if f == nil {
		return nil
	}
	countRanges := make([]Range[int64], 0, len(f.CountRange))
	for _, nr := range f.CountRange {
		r, err := NewRange(nr.From, nr.To)
		if err != nil {
			return err
		}
		countRanges = append(countRanges, r)
	}
	addValues(b, NumericRange, FieldCount, countRanges, Or)
	addValues(b, Wildcard, FieldCurrentUserName, f.CurrentUserName, Or)
	addValues(b, Identifier, FieldElementIdentifier, f.ElementIdentifier, Or)
	addValues(b, Identifier, FieldElementTitle, f.ElementTitle, Or)
	addValues(b, Identifier, FieldElementSubIdentifier, f.ElementSubIdentifier, Or)
	addValues(b, Identifier, FieldElementSubTitle, f.ElementSubTitle, Or)
	addValues(b, Wildcard, FieldFingerprint, f.Fingerprint, Or)
	addValues(b, FullText, FieldSummary, f.Summary, Or)
	addValues(b, FullText, FieldMessage, f.Message, Or)
	for _, tf := range []struct {
		field  string
		ranges []TimestampRange
	}{
		{FieldFirstSeenTime, f.FirstSeen},
		{FieldLastSeenTime, f.LastSeen},
		{FieldStatusChangeTime, f.StatusChange},
		{FieldUpdateTime, f.UpdateTime},
	} {
		for _, tr := range tf.ranges {
			if _, err := NewRange(tr.Start, tr.End); err != nil {
				return err
			}
		}
		addValues(b, DateRange, tf.field, tf.ranges, Or)
	}
	addValues(b, EnumNumber, FieldStatus, f.Status, Or)
	addValues(b, EnumNumber, FieldSeverity, f.Severity, Or)
	addValues(b, Wildcard, FieldAgent, f.Agent, Or)
	addValues(b, Wildcard, FieldMonitor, f.Monitor, Or)
	addValues(b, Wildcard, FieldEventKey, f.EventKey, Or)
	addValues(b, Wildcard, FieldEventClassKey, f.EventClassKey, Or)
	addValues(b, Wildcard, FieldEventGroup, f.EventGroup, Or)
	addValues(b, Path, FieldEventClass, f.EventClass, Or)
	for _, tf := range f.TagFilters {
		addValues(b, Term, FieldTags, tf.TagUUIDs, tf.Op)
	}
	addValues(b, Wildcard, FieldUUID, f.UUID, Or)

	if err := b.addDetails(f.Details); err != nil {
		return err
	}

	for _, sf := range f.Subfilters {
		sub := b.sub(sf.Operator.Occur())
		if err := sub.AddFilter(sf); err != nil {
			return err
		}
		b.subs = append(b.subs, sub)
	}
	return nil
}

func (b *Builder) addDetails(filters []DetailFilter) error {
	for _, df := range filters {
		item, ok := b.details.Lookup(df.Key)
		if !ok {
			return zerrors.Newf(zerrors.ErrCodeUnindexedDetail, "event detail is not indexed: %s", df.Key)
		}
		sub := b.sub(df.Op.Occur())
		field := DetailField(item.Key)

		switch item.Type {
		case DetailString, "":
			for _, v := range df.Values {
				addValue(sub, Wildcard, field, v)
			}
		case DetailInteger, DetailLong:
			for _, v := range df.Values {
				r, err := parseRange(v, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
				if err != nil {
					return err
				}
				addValue(sub, NumericRange, field, r)
			}
		case DetailFloat, DetailDouble:
			for _, v := range df.Values {
				r, err := parseRange(v, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
				if err != nil {
					return err
				}
				addValue(sub, NumericRange, field, r)
			}
		case DetailPath:
			for _, v := range df.Values {
				addValue(sub, Path, field, v)
			}
		case DetailIPAddress:
			for _, v := range df.Values {
				v = Unquote(v)
				r, err := ParseIPRange(v)
				switch {
				case err != nil:
					addValue(sub, IPAddressSubstring, field, v)
				case r.Single():
					addValue(sub, IPAddress, field, r)
				default:
					addValue(sub, IPAddressRange, field, r)
				}
			}
		default:
			return zerrors.Newf(zerrors.ErrCodeInvalidQuery, "unsupported detail type %s for %s", item.Type, df.Key)
		}

		if !sub.Empty() {
			b.subs = append(b.subs, sub)
		}
	}
	return nil
}

// parseRange reads "from:to", ":to", "from:" or a single value.
func parseRange[T int64 | float64](s string, conv func(string) (T, error)) (Range[T], error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range[T]{}, zerrors.Newf(zerrors.ErrCodeInvalidQuery, "empty numeric detail value")
	}
	parse := func(part string) (*T, error) {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, nil
		}
		v, err := conv(part)
		if err != nil {
			return nil, zerrors.New(zerrors.ErrCodeInvalidQuery, fmt.Sprintf("invalid numeric value %q", part), err)
		}
		return &v, nil
	}
	fromStr, toStr, hasColon := strings.Cut(s, ":")
	from, err := parse(fromStr)
	if err != nil {
		return Range[T]{}, err
	}
	if !hasColon {
		return NewRange(from, from)
	}
	to, err := parse(toStr)
	if err != nil {
		return Range[T]{}, err
	}
	return NewRange(from, to)
}

// Build produces the node for everything added so far. An empty builder
// yields an empty node.
func (b *Builder) Build() (*Node, error) {
	node := &Node{Occur: b.occur}
	for t := DateRange; t <= Wildcard; t++ {
		byField := b.fields[t]
		names := make([]string, 0, len(byField))
		for name := range byField {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			clauses, children, err := strategies[t](b.occur, name, byField[name].values)
			if err != nil {
				return nil, err
			}
			node.Clauses = append(node.Clauses, clauses...)
			node.Children = append(node.Children, children...)
		}
	}
	for _, sub := range b.subs {
		child, err := sub.Build()
		if err != nil {
			return nil, err
		}
		if !child.Empty() {
			node.Children = append(node.Children, child)
		}
	}
	return node, nil
}
