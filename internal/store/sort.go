package store

import (
	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
	"github.com/zenoss/zenoss-zep-sub000/internal/event"
)

// sortKey is a resolved ordering criterion. field names both the sort column
// of the SQLite engine and the sortable field of the bleve engine.
type sortKey struct {
	field   string
	desc    bool
	numeric bool
}

var sortable = map[event.SortField]bool{
	event.SortUUID:         false,
	event.SortStatus:       true,
	event.SortSeverity:     true,
	event.SortCount:        true,
	event.SortFirstSeen:    true,
	event.SortLastSeen:     true,
	event.SortStatusChange: true,
	event.SortUpdateTime:   true,
	event.SortElementID:    false,
	event.SortElementSubID: false,
	event.SortEventClass:   false,
	event.SortSummary:      false,
}

// defaultSorts orders newest first.
var defaultSorts = []event.Sort{{Field: event.SortLastSeen, Descending: true}}

// resolveSorts validates sorts and appends uuid as the final tie-breaker so
// paging is stable.
func resolveSorts(sorts []event.Sort) ([]sortKey, error) {
	if len(sorts) == 0 {
		sorts = defaultSorts
	}
	keys := make([]sortKey, 0, len(sorts)+1)
	hasUUID := false
	for _, s := range sorts {
		numeric, ok := sortable[s.Field]
		if !ok {
			return nil, zerrors.Newf(zerrors.ErrCodeInvalidQuery, "unsupported sort field: %s", s.Field)
		}
		if s.Field == event.SortUUID {
			hasUUID = true
		}
		keys = append(keys, sortKey{field: string(s.Field), desc: s.Descending, numeric: numeric})
	}
	if !hasUUID {
		keys = append(keys, sortKey{field: string(event.SortUUID)})
	}
	return keys, nil
}
