package query

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operator combines the values of one filter field, or the fields of a filter.
type Operator int

const (
	And Operator = iota
	Or
)

func (o Operator) String() string {
	if o == Or {
		return "OR"
	}
	return "AND"
}

func (o Operator) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Operator) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "", "AND":
		*o = And
	case "OR":
		*o = Or
	default:
		return fmt.Errorf("unknown operator %q", string(b))
	}
	return nil
}

// Occur is the node role a filter with this operator gets.
func (o Operator) Occur() Occur {
	if o == Or {
		return Should
	}
	return Must
}

// NumberRange is an inclusive integer range; nil bounds are open.
type NumberRange struct {
	From *int64 `json:"from,omitempty"`
	To   *int64 `json:"to,omitempty"`
}

// TimestampRange is an inclusive range of epoch milliseconds.
type TimestampRange struct {
	Start *int64 `json:"start_time,omitempty"`
	End   *int64 `json:"end_time,omitempty"`
}

// TagFilter matches events tagged with the listed uuids.
type TagFilter struct {
	Op       Operator `json:"op"`
	TagUUIDs []string `json:"tag_uuids"`
}

// DetailFilter matches an indexed event detail. Numeric values take the form
// "from:to" where either side may be empty.
type DetailFilter struct {
	Key    string   `json:"key"`
	Op     Operator `json:"op"`
	Values []string `json:"values"`
}

// Filter is a structured event query. Every populated field must match
// (Operator AND) or any of them may (Operator OR). Values within a field are
// alternatives unless the field carries its own operator.
type Filter struct {
	Operator             Operator         `json:"operator"`
	UUID                 []string         `json:"uuid,omitempty"`
	Status               []int            `json:"status,omitempty"`
	Severity             []int            `json:"severity,omitempty"`
	CountRange           []NumberRange    `json:"count_range,omitempty"`
	FirstSeen            []TimestampRange `json:"first_seen,omitempty"`
	LastSeen             []TimestampRange `json:"last_seen,omitempty"`
	StatusChange         []TimestampRange `json:"status_change,omitempty"`
	UpdateTime           []TimestampRange `json:"update_time,omitempty"`
	CurrentUserName      []string         `json:"current_user_name,omitempty"`
	ElementIdentifier    []string         `json:"element_identifier,omitempty"`
	ElementTitle         []string         `json:"element_title,omitempty"`
	ElementSubIdentifier []string         `json:"element_sub_identifier,omitempty"`
	ElementSubTitle      []string         `json:"element_sub_title,omitempty"`
	Fingerprint          []string         `json:"fingerprint,omitempty"`
	Summary              []string         `json:"event_summary,omitempty"`
	Message              []string         `json:"message,omitempty"`
	EventClass           []string         `json:"event_class,omitempty"`
	EventClassKey        []string         `json:"event_class_key,omitempty"`
	EventKey             []string         `json:"event_key,omitempty"`
	EventGroup           []string         `json:"event_group,omitempty"`
	Agent                []string         `json:"agent,omitempty"`
	Monitor              []string         `json:"monitor,omitempty"`
	TagFilters           []TagFilter      `json:"tag_filter,omitempty"`
	Details              []DetailFilter   `json:"details,omitempty"`
	Subfilters           []*Filter        `json:"subfilter,omitempty"`
}

// HasTagFilter reports whether f restricts by tag.
func (f *Filter) HasTagFilter() bool {
	return f != nil && len(f.TagFilters) > 0
}

// String is a compact JSON rendering for logs.
func (f *Filter) String() string {
	if f == nil {
		return "{}"
	}
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Sprintf("%+v", *f)
	}
	return string(b)
}

// DetailType is the declared type of an indexed detail.
type DetailType string

const (
	DetailString    DetailType = "STRING"
	DetailInteger   DetailType = "INTEGER"
	DetailLong      DetailType = "LONG"
	DetailFloat     DetailType = "FLOAT"
	DetailDouble    DetailType = "DOUBLE"
	DetailIPAddress DetailType = "IP_ADDRESS"
	DetailPath      DetailType = "PATH"
)

// DetailItem declares a searchable detail.
type DetailItem struct {
	Key  string     `json:"key"`
	Name string     `json:"name"`
	Type DetailType `json:"type"`
}

// Details indexes DetailItems by key.
type Details map[string]DetailItem

// NewDetails builds the lookup used by the builder and the index mappers.
func NewDetails(items []DetailItem) Details {
	d := make(Details, len(items))
	for _, it := range items {
		d[it.Key] = it
	}
	return d
}

// Lookup finds a detail by key, falling back to its display name.
func (d Details) Lookup(key string) (DetailItem, bool) {
	if it, ok := d[key]; ok {
		return it, true
	}
	for _, it := range d {
		if it.Name != "" && it.Name == key {
			return it, true
		}
	}
	return DetailItem{}, false
}
