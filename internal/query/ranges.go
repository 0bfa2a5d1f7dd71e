package query

import (
	"cmp"
	"fmt"
	"slices"

	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
)

// ErrInvalidRange is returned for a range whose lower bound exceeds its upper bound.
var ErrInvalidRange = zerrors.New(zerrors.ErrCodeInvalidRange, "inverted range", nil)

// Range is an inclusive interval with optional bounds.
type Range[T cmp.Ordered] struct {
	From *T
	To   *T
}

// NewRange validates from <= to when both are set.
func NewRange[T cmp.Ordered](from, to *T) (Range[T], error) {
	if from != nil && to != nil && *from > *to {
		return Range[T]{}, zerrors.Newf(zerrors.ErrCodeInvalidRange, "inverted range (%v-%v)", *from, *to)
	}
	return Range[T]{From: from, To: to}, nil
}

// Between is NewRange for two known bounds; it panics on an inverted pair.
func Between[T cmp.Ordered](from, to T) Range[T] {
	r, err := NewRange(&from, &to)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Range[T]) String() string {
	return fmt.Sprintf("(%s-%s)", bound(r.From), bound(r.To))
}

func bound[T cmp.Ordered](v *T) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprint(*v)
}

// Compare orders by From with an open From first, then by To with an open To last.
func (r Range[T]) Compare(o Range[T]) int {
	switch {
	case r.From == nil && o.From != nil:
		return -1
	case r.From != nil && o.From == nil:
		return 1
	case r.From != nil && o.From != nil:
		if c := cmp.Compare(*r.From, *o.From); c != 0 {
			return c
		}
	}
	switch {
	case r.To == nil && o.To == nil:
		return 0
	case r.To == nil:
		return 1
	case o.To == nil:
		return -1
	default:
		return cmp.Compare(*r.To, *o.To)
	}
}

// Merge returns the union of r and o, or nil when they neither overlap nor
// touch. Integer ranges touch when one ends exactly one below where the other
// starts.
func (r Range[T]) Merge(o Range[T]) *Range[T] {
	if r.To != nil && o.From != nil && *r.To < *o.From {
		if adjacent(*r.To, *o.From) {
			return &Range[T]{From: r.From, To: o.To}
		}
		return nil
	}
	if o.To != nil && r.From != nil && *o.To < *r.From {
		if adjacent(*o.To, *r.From) {
			return &Range[T]{From: o.From, To: r.To}
		}
		return nil
	}
	var out Range[T]
	if r.From != nil && o.From != nil {
		v := min(*r.From, *o.From)
		out.From = &v
	}
	if r.To != nil && o.To != nil {
		v := max(*r.To, *o.To)
		out.To = &v
	}
	return &out
}

func adjacent[T cmp.Ordered](a, b T) bool {
	switch av := any(a).(type) {
	case int:
		return av+1 == any(b).(int)
	case int32:
		return av+1 == any(b).(int32)
	case int64:
		return av+1 == any(b).(int64)
	default:
		return false
	}
}

// MergeAll sorts ranges and coalesces every overlapping or adjacent run.
func MergeAll[T cmp.Ordered](ranges []Range[T]) []Range[T] {
	if len(ranges) == 0 {
		return nil
	}
	sorted := slices.Clone(ranges)
	slices.SortFunc(sorted, Range[T].Compare)

	out := make([]Range[T], 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if merged := cur.Merge(next); merged != nil {
			cur = *merged
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}

// CondenseInts turns a set of integers into the fewest inclusive ranges.
func CondenseInts(values []int) []Range[int] {
	if len(values) == 0 {
		return nil
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var out []Range[int]
	from, to := sorted[0], sorted[0]
	for _, v := range sorted[1:] {
		if v == to+1 {
			to = v
			continue
		}
		out = append(out, Between(from, to))
		from, to = v, v
	}
	return append(out, Between(from, to))
}

func toFloat[T int | int32 | int64 | float32 | float64](v *T) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
