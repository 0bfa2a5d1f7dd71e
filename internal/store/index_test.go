package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/query"
)

var testDetails = query.NewDetails([]query.DetailItem{
	{Key: "zenoss.device.production_state", Name: "prodState", Type: query.DetailInteger},
	{Key: "zenoss.device.ip_address", Type: query.DetailIPAddress},
	{Key: "zenoss.device.location", Type: query.DetailPath},
	{Key: "owner", Type: query.DetailString},
})

var kinds = []string{config.BackendBleve, config.BackendSQLite}

func newTestIndex(t *testing.T, kind string, cfg config.BackendConfig) *Index {
	t.Helper()
	cfg.ID = "test-" + kind
	cfg.Type = kind
	idx, err := New(cfg, testDetails, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

// forEachKind runs fn against an in-memory index of every type.
func forEachKind(t *testing.T, fn func(t *testing.T, idx *Index)) {
	for _, k := range kinds {
		t.Run(k, func(t *testing.T) {
			fn(t, newTestIndex(t, k, config.BackendConfig{CacheSize: 16}))
		})
	}
}

func fixtures() []*event.Summary {
	return []*event.Summary{
		{
			UUID: "a", Status: event.StatusNew, Severity: event.SeverityCritical, Count: 3,
			FirstSeen: 1000, LastSeen: 1000, UpdateTime: 1000,
			Summary: "Disk full on /var", EventClass: "/Status/Ping", Agent: "zenping",
			Actor: event.Actor{ElementUUID: "dev1", ElementIdentifier: "web-server01.example.com"},
			Tags:  []event.Tag{{Type: "group", UUIDs: []string{"grp1"}}},
			Details: []event.Detail{
				{Name: "zenoss.device.production_state", Values: []string{"1000"}},
				{Name: "zenoss.device.ip_address", Values: []string{"10.0.0.5"}},
				{Name: "zenoss.device.location", Values: []string{"/Austin/Rack1"}},
				{Name: "owner", Values: []string{"Production"}},
			},
		},
		{
			UUID: "b", Status: event.StatusAcknowledged, Severity: event.SeverityError, Count: 2,
			FirstSeen: 2000, LastSeen: 2000, UpdateTime: 2000,
			Summary: "disk nearly full", EventClass: "/Perf/Filesystem", Agent: "zenperfsnmp",
			Actor: event.Actor{ElementUUID: "dev1", ElementIdentifier: "web-server01.example.com"},
			Tags:  []event.Tag{{Type: "group", UUIDs: []string{"grp1"}}},
			Details: []event.Detail{
				{Name: "zenoss.device.production_state", Values: []string{"300"}},
				{Name: "zenoss.device.ip_address", Values: []string{"192.168.1.20"}},
			},
		},
		{
			UUID: "c", Status: event.StatusNew, Severity: event.SeverityCritical, Count: 1,
			FirstSeen: 3000, LastSeen: 3000, UpdateTime: 3000,
			Summary: "Interface down", EventClass: "/Status/Interface", Agent: "zenping",
			Actor: event.Actor{ElementUUID: "dev2", ElementIdentifier: "db01"},
			Tags:  []event.Tag{{Type: "group", UUIDs: []string{"grp2"}}},
		},
	}
}

func seed(t *testing.T, idx *Index) {
	t.Helper()
	require.NoError(t, idx.IndexMany(context.Background(), fixtures()))
	require.NoError(t, idx.Flush(context.Background()))
}

func uuidsOf(t *testing.T, idx *Index, req *event.Request) []string {
	t.Helper()
	res, err := idx.ListUUIDs(context.Background(), req)
	require.NoError(t, err)
	return res.UUIDs
}

// TS01: index, find, count and delete
func TestIndex_IndexFindDelete(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx *Index) {
		ctx := context.Background()

		// Given: three indexed events
		seed(t, idx)

		// When: counting and finding
		n, err := idx.Count(ctx)
		require.NoError(t, err)
		got, err := idx.FindByUUID(ctx, "a")
		require.NoError(t, err)

		// Then: every event is present and the source round-trips
		assert.Equal(t, int64(3), n)
		require.NotNil(t, got)
		assert.Equal(t, "Disk full on /var", got.Summary)
		assert.Equal(t, []string{"grp1", "dev1"}, got.TagUUIDs())

		// When: one is deleted
		require.NoError(t, idx.Delete(ctx, "a"))

		// Then: it is gone, unknown deletes are ignored
		got, err = idx.FindByUUID(ctx, "a")
		require.NoError(t, err)
		assert.Nil(t, got)
		require.NoError(t, idx.DeleteMany(ctx, []string{"missing"}))
		n, err = idx.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}

func TestIndex_ReindexInvalidatesCache(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx *Index) {
		ctx := context.Background()
		seed(t, idx)
		first, err := idx.FindByUUID(ctx, "c")
		require.NoError(t, err)
		require.NotNil(t, first)

		updated := *fixtures()[2]
		updated.Summary = "Interface up"
		require.NoError(t, idx.Index(ctx, &updated))

		got, err := idx.FindByUUID(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, "Interface up", got.Summary)
		assert.Equal(t, []string{}, uuidsOf(t, idx, &event.Request{Filter: &query.Filter{Summary: []string{"down"}}}))
	})
}

// TS02: filters over every field family
func TestIndex_ListFilters(t *testing.T) {
	cases := []struct {
		name   string
		filter *query.Filter
		want   []string
	}{
		{"severity", &query.Filter{Severity: []int{int(event.SeverityCritical)}}, []string{"c", "a"}},
		{"status", &query.Filter{Status: []int{int(event.StatusAcknowledged)}}, []string{"b"}},
		{"identifier substring", &query.Filter{ElementIdentifier: []string{"server"}}, []string{"b", "a"}},
		{"identifier short prefix", &query.Filter{ElementIdentifier: []string{"db"}}, []string{"c"}},
		{"identifier quoted", &query.Filter{ElementIdentifier: []string{`"DB01"`}}, []string{"c"}},
		{"identifier star", &query.Filter{ElementIdentifier: []string{"web-*"}}, []string{"b", "a"}},
		{"summary word", &query.Filter{Summary: []string{"disk"}}, []string{"b", "a"}},
		{"summary phrase", &query.Filter{Summary: []string{`"disk full"`}}, []string{"a"}},
		{"summary wildcard", &query.Filter{Summary: []string{"interf*"}}, []string{"c"}},
		{"event class prefix", &query.Filter{EventClass: []string{"/Status/*"}}, []string{"c", "a"}},
		{"event class exact", &query.Filter{EventClass: []string{"/Status"}}, []string{}},
		{"event class segment", &query.Filter{EventClass: []string{"filesystem"}}, []string{"b"}},
		{"agent", &query.Filter{Agent: []string{"zenping"}}, []string{"c", "a"}},
		{"agent wildcard", &query.Filter{Agent: []string{"zenperf*"}}, []string{"b"}},
		{"tag", &query.Filter{TagFilters: []query.TagFilter{{TagUUIDs: []string{"grp1"}}}}, []string{"b", "a"}},
		{"element uuid as tag", &query.Filter{TagFilters: []query.TagFilter{{TagUUIDs: []string{"dev2"}}}}, []string{"c"}},
		{"count range", &query.Filter{CountRange: []query.NumberRange{{From: query.Ptr[int64](2)}}}, []string{"b", "a"}},
		{"last seen", &query.Filter{LastSeen: []query.TimestampRange{{Start: query.Ptr[int64](1500), End: query.Ptr[int64](2500)}}}, []string{"b"}},
		{"integer detail", &query.Filter{Details: []query.DetailFilter{{Key: "prodState", Values: []string{"500:"}}}}, []string{"a"}},
		{"ip range detail", &query.Filter{Details: []query.DetailFilter{{Key: "zenoss.device.ip_address", Values: []string{"10.0.0.0/24"}}}}, []string{"a"}},
		{"ip exact detail", &query.Filter{Details: []query.DetailFilter{{Key: "zenoss.device.ip_address", Values: []string{"192.168.001.020"}}}}, []string{"b"}},
		{"ip substring detail", &query.Filter{Details: []query.DetailFilter{{Key: "zenoss.device.ip_address", Values: []string{"168.1"}}}}, []string{"b"}},
		{"path detail", &query.Filter{Details: []query.DetailFilter{{Key: "zenoss.device.location", Values: []string{"/Austin/*"}}}}, []string{"a"}},
		{"string detail", &query.Filter{Details: []query.DetailFilter{{Key: "owner", Values: []string{"Prod*"}}}}, []string{"a"}},
		{"or operator", &query.Filter{Operator: query.Or, Agent: []string{"zenperfsnmp"}, Summary: []string{"interface"}}, []string{"c", "b"}},
	}
	forEachKind(t, func(t *testing.T, idx *Index) {
		seed(t, idx)
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				assert.Equal(t, tc.want, uuidsOf(t, idx, &event.Request{Filter: tc.filter}))
			})
		}
	})
}

func TestIndex_ListExclusion(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx *Index) {
		// Given: seeded events
		seed(t, idx)

		// When: excluding one agent
		got := uuidsOf(t, idx, &event.Request{Exclusion: &query.Filter{Agent: []string{"zenping"}}})

		// Then: only the others remain
		assert.Equal(t, []string{"b"}, got)
	})
}

func TestIndex_UnindexedDetailFails(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx *Index) {
		_, err := idx.List(context.Background(), &event.Request{Filter: &query.Filter{
			Details: []query.DetailFilter{{Key: "nope", Values: []string{"x"}}},
		}})
		assert.True(t, zerrors.HasCode(err, zerrors.ErrCodeUnindexedDetail))
	})
}

// TS03: sorting and paging
func TestIndex_SortAndPage(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx *Index) {
		ctx := context.Background()
		seed(t, idx)

		// When: sorting by count ascending, two per page
		req := &event.Request{Sort: []event.Sort{{Field: event.SortCount}}, Limit: 2}
		first, err := idx.List(ctx, req)
		require.NoError(t, err)
		req.Offset = first.NextOffset
		second, err := idx.List(ctx, req)
		require.NoError(t, err)

		// Then: pages are contiguous and the last has no next offset
		require.Len(t, first.Events, 2)
		assert.Equal(t, "c", first.Events[0].UUID)
		assert.Equal(t, "b", first.Events[1].UUID)
		assert.Equal(t, 3, first.Total)
		assert.Equal(t, 2, first.NextOffset)
		require.Len(t, second.Events, 1)
		assert.Equal(t, "a", second.Events[0].UUID)
		assert.Equal(t, -1, second.NextOffset)

		// And: string sorts use the lowercased identifier
		got := uuidsOf(t, idx, &event.Request{Sort: []event.Sort{{Field: event.SortElementID, Descending: true}, {Field: event.SortUUID}}})
		assert.Equal(t, []string{"a", "b", "c"}, got)
	})
}

func TestIndex_UnknownSortField(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx *Index) {
		_, err := idx.List(context.Background(), &event.Request{Sort: []event.Sort{{Field: "bogus"}}})
		assert.True(t, zerrors.HasCode(err, zerrors.ErrCodeInvalidQuery))
	})
}

func TestIndex_PurgeAndClear(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx *Index) {
		ctx := context.Background()
		seed(t, idx)

		// When: purging everything last seen before 2000ms
		require.NoError(t, idx.Purge(ctx, time.UnixMilli(2000)))

		// Then: only the event at the threshold and after remain
		assert.Equal(t, []string{"c", "b"}, uuidsOf(t, idx, &event.Request{}))

		// When: cleared
		require.NoError(t, idx.Clear(ctx))

		// Then: the index is empty and still usable
		n, err := idx.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		require.NoError(t, idx.Index(ctx, fixtures()[0]))
		assert.Equal(t, []string{"a"}, uuidsOf(t, idx, &event.Request{}))
	})
}

// TS04: saved searches page over a snapshot
func TestIndex_SavedSearch(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx *Index) {
		ctx := context.Background()
		seed(t, idx)

		// Given: a saved search over all events, oldest first
		id, err := idx.CreateSavedSearch(ctx, &event.Request{Sort: []event.Sort{{Field: event.SortLastSeen}}}, time.Minute)
		require.NoError(t, err)

		// When: paging
		page1, err := idx.SavedSearch(ctx, id, 0, 2)
		require.NoError(t, err)
		uuids, err := idx.SavedSearchUUIDs(ctx, id, 2, 2)
		require.NoError(t, err)

		// Then: pages follow the snapshot order
		require.Len(t, page1.Events, 2)
		assert.Equal(t, "a", page1.Events[0].UUID)
		assert.Equal(t, 3, page1.Total)
		assert.Equal(t, 2, page1.NextOffset)
		assert.Equal(t, []string{"c"}, uuids.UUIDs)
		assert.Equal(t, -1, uuids.NextOffset)

		// And: deleted events are skipped but the snapshot is unchanged
		require.NoError(t, idx.Delete(ctx, "a"))
		page1, err = idx.SavedSearch(ctx, id, 0, 2)
		require.NoError(t, err)
		assert.Len(t, page1.Events, 1)
		assert.Equal(t, 3, page1.Total)

		// When: closed
		require.NoError(t, idx.CloseSavedSearch(ctx, id))

		// Then: it is not found
		_, err = idx.SavedSearch(ctx, id, 0, 2)
		assert.True(t, zerrors.HasCode(err, zerrors.ErrCodeSavedSearchNotFound))
	})
}

func TestIndex_SavedSearchRejectsShortTimeout(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx *Index) {
		_, err := idx.CreateSavedSearch(context.Background(), nil, 10*time.Millisecond)
		assert.True(t, zerrors.HasCode(err, zerrors.ErrCodeInvalidTimeout))
	})
}

func TestIndex_CloseClosesSavedSearches(t *testing.T) {
	for _, k := range kinds {
		t.Run(k, func(t *testing.T) {
			idx, err := New(config.BackendConfig{ID: "x", Type: k}, testDetails, "")
			require.NoError(t, err)
			ctx := context.Background()
			id, err := idx.CreateSavedSearch(ctx, nil, time.Minute)
			require.NoError(t, err)

			require.NoError(t, idx.Close())
			require.NoError(t, idx.Close())

			_, err = idx.SavedSearchUUIDs(ctx, id, 0, 10)
			assert.Error(t, err)
			assert.False(t, idx.IsReady())
			assert.Error(t, idx.Ping(ctx))
		})
	}
}

// TS05: the memory guard rejects oversized pages
func TestIndex_MemoryGuard(t *testing.T) {
	for _, k := range kinds {
		t.Run(k, func(t *testing.T) {
			ctx := context.Background()
			// Given: a 1 MB budget
			idx := newTestIndex(t, k, config.BackendConfig{MaxResultMB: 1})
			seed(t, idx)
			_, err := idx.FindByUUID(ctx, "a")
			require.NoError(t, err)

			// When: asking for the default page of 1000 events
			_, err = idx.List(ctx, &event.Request{})

			// Then: the read fails with OUT_OF_MEMORY and the cache is purged
			assert.True(t, zerrors.HasCode(err, zerrors.ErrCodeOutOfMemory))
			assert.Zero(t, idx.cache.Len())

			// And: a small page still works
			res, err := idx.List(ctx, &event.Request{Limit: 10})
			require.NoError(t, err)
			assert.Len(t, res.Events, 3)
		})
	}
}

func TestIndex_SizeInBytes(t *testing.T) {
	idx := newTestIndex(t, config.BackendSQLite, config.BackendConfig{})
	seed(t, idx)
	n, err := idx.SizeInBytes(context.Background())
	require.NoError(t, err)
	assert.Positive(t, n)
}
