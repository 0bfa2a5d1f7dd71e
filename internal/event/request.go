package event

import "github.com/zenoss/zenoss-zep-sub000/internal/query"

// SortField names a sortable index field.
type SortField string

const (
	SortUUID         SortField = "uuid"
	SortStatus       SortField = "status"
	SortCount        SortField = "count"
	SortFirstSeen    SortField = "first_seen_time"
	SortLastSeen     SortField = "last_seen_time"
	SortStatusChange SortField = "status_change_time"
	SortUpdateTime   SortField = "update_time"
	SortSeverity     SortField = "severity"
	SortElementID    SortField = "element_identifier"
	SortElementSubID SortField = "element_sub_identifier"
	SortEventClass   SortField = "event_class"
	SortSummary      SortField = "summary"
)

// Sort is one ordering criterion.
type Sort struct {
	Field      SortField `json:"field"`
	Descending bool      `json:"descending,omitempty"`
}

// Request selects a page of events.
type Request struct {
	Filter    *query.Filter `json:"filter,omitempty"`
	Exclusion *query.Filter `json:"exclusion,omitempty"`
	Sort      []Sort        `json:"sort,omitempty"`
	Offset    int           `json:"offset,omitempty"`
	// Limit of 0 means DefaultLimit.
	Limit int `json:"limit,omitempty"`
}

// DefaultLimit and MaxLimit bound a page.
const (
	DefaultLimit = 1000
	MaxLimit     = 10000
)

// PageLimit clamps r.Limit.
func (r *Request) PageLimit() int {
	switch {
	case r.Limit <= 0:
		return DefaultLimit
	case r.Limit > MaxLimit:
		return MaxLimit
	default:
		return r.Limit
	}
}

// Result is one page of matches.
type Result struct {
	Events     []*Summary `json:"events"`
	Total      int        `json:"total"`
	Offset     int        `json:"offset"`
	Limit      int        `json:"limit"`
	NextOffset int        `json:"next_offset"`
}

// UUIDResult is one page of matching uuids.
type UUIDResult struct {
	UUIDs      []string `json:"uuids"`
	Total      int      `json:"total"`
	Offset     int      `json:"offset"`
	Limit      int      `json:"limit"`
	NextOffset int      `json:"next_offset"`
}

// SeverityCount aggregates events of one severity under a tag.
type SeverityCount struct {
	Severity   Severity `json:"severity"`
	Count      int      `json:"count"`
	AckedCount int      `json:"acknowledged_count"`
}

// TagSeverities aggregates the events tagged with TagUUID.
type TagSeverities struct {
	TagUUID    string          `json:"tag_uuid"`
	Total      int             `json:"total"`
	Severities []SeverityCount `json:"severities"`
}
