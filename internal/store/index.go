package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/query"
	"github.com/zenoss/zenoss-zep-sub000/internal/savedsearch"
)

// DefaultCacheSize is used when Options.CacheSize is unset.
const DefaultCacheSize = 1000

// loadChunk bounds how many summaries are decoded at once while aggregating.
const loadChunk = 500

// Options configures an Index.
type Options struct {
	ID      string
	Details query.Details
	// CacheSize bounds the FindByUUID cache.
	CacheSize int
	// MaxResultMB bounds the estimated size of one read. Zero disables it.
	MaxResultMB int
}

// Index is a Backend over one storage engine.
type Index struct {
	id       string
	kind     string
	eng      engine
	details  query.Details
	cache    *lru.Cache[string, *event.Summary]
	guard    *MemoryGuard
	searches *savedsearch.Registry
	closed   atomic.Bool
}

func newIndex(kind string, eng engine, opts Options) (*Index, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *event.Summary](size)
	if err != nil {
		return nil, err
	}
	details := opts.Details
	if details == nil {
		details = query.Details{}
	}
	return &Index{
		id:       opts.ID,
		kind:     kind,
		eng:      eng,
		details:  details,
		cache:    cache,
		guard:    NewMemoryGuard(opts.MaxResultMB),
		searches: savedsearch.NewRegistry(),
	}, nil
}

// ID returns the backend id.
func (x *Index) ID() string { return x.id }

// Kind returns the engine type, "bleve" or "sqlite".
func (x *Index) Kind() string { return x.kind }

// Index adds or replaces one event.
func (x *Index) Index(ctx context.Context, e *event.Summary) error {
	return x.IndexMany(ctx, []*event.Summary{e})
}

// IndexMany adds or replaces events. Events without a uuid are skipped.
func (x *Index) IndexMany(ctx context.Context, events []*event.Summary) error {
	if len(events) == 0 {
		return nil
	}
	docs := make([]*document, 0, len(events))
	for _, e := range events {
		if e == nil || e.UUID == "" {
			continue
		}
		doc, err := newDocument(e, x.details)
		if err != nil {
			return zerrors.New(zerrors.ErrCodeIndexFailed, "failed to analyze event "+e.UUID, err)
		}
		docs = append(docs, doc)
	}
	if err := x.eng.index(ctx, docs); err != nil {
		return zerrors.New(zerrors.ErrCodeIndexFailed, "failed to index events", err).
			WithDetail("backend", x.id)
	}
	for _, d := range docs {
		x.cache.Remove(d.uuid)
	}
	return nil
}

// Delete removes one event.
func (x *Index) Delete(ctx context.Context, uuid string) error {
	return x.DeleteMany(ctx, []string{uuid})
}

// DeleteMany removes events by uuid. Unknown uuids are ignored.
func (x *Index) DeleteMany(ctx context.Context, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}
	if err := x.eng.delete(ctx, uuids); err != nil {
		return zerrors.New(zerrors.ErrCodeIndexFailed, "failed to delete events", err).
			WithDetail("backend", x.id)
	}
	for _, u := range uuids {
		x.cache.Remove(u)
	}
	return nil
}

// Clear removes every event.
func (x *Index) Clear(ctx context.Context) error {
	if err := x.eng.clear(ctx); err != nil {
		return zerrors.New(zerrors.ErrCodeIndexFailed, "failed to clear index", err).
			WithDetail("backend", x.id)
	}
	x.cache.Purge()
	slog.Info("index_cleared", slog.String("backend", x.id))
	return nil
}

// Purge removes events last seen before threshold.
func (x *Index) Purge(ctx context.Context, threshold time.Time) error {
	before := float64(threshold.UnixMilli() - 1)
	node := &query.Node{Occur: query.Must, Clauses: []query.Clause{{
		Kind:  query.KindNumericRange,
		Field: query.FieldLastSeenTime,
		Max:   &before,
	}}}
	uuids, _, err := x.eng.search(ctx, node, []sortKey{{field: string(event.SortUUID)}}, 0, -1)
	if err != nil {
		return x.readError("purge", err)
	}
	for start := 0; start < len(uuids); start += loadChunk {
		end := min(start+loadChunk, len(uuids))
		if err := x.DeleteMany(ctx, uuids[start:end]); err != nil {
			return err
		}
	}
	slog.Info("index_purged",
		slog.String("backend", x.id),
		slog.Int("deleted", len(uuids)),
		slog.Time("threshold", threshold))
	return nil
}

// Flush commits outstanding writes.
func (x *Index) Flush(ctx context.Context) error {
	if err := x.eng.flush(ctx); err != nil {
		return zerrors.New(zerrors.ErrCodeIndexFailed, "failed to flush index", err).
			WithDetail("backend", x.id)
	}
	return nil
}

// Count returns the number of indexed events.
func (x *Index) Count(ctx context.Context) (int64, error) {
	return x.eng.count(ctx)
}

// SizeInBytes returns the on-disk (or in-memory) size of the index.
func (x *Index) SizeInBytes(ctx context.Context) (int64, error) {
	return x.eng.size(ctx)
}

// IsReady reports whether the backend accepts requests.
func (x *Index) IsReady() bool {
	return !x.closed.Load()
}

// Ping checks the engine is reachable.
func (x *Index) Ping(ctx context.Context) error {
	if x.closed.Load() {
		return zerrors.New(zerrors.ErrCodeBackendUnavailable, "backend is closed", nil).WithDetail("backend", x.id)
	}
	return x.eng.ping(ctx)
}

// FindByUUID returns the indexed event, or nil if it is not indexed.
func (x *Index) FindByUUID(ctx context.Context, uuid string) (*event.Summary, error) {
	if e, ok := x.cache.Get(uuid); ok {
		return e, nil
	}
	events, err := x.eng.load(ctx, []string{uuid})
	if err != nil {
		return nil, x.readError("find", err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	x.cache.Add(uuid, events[0])
	return events[0], nil
}

type page struct {
	uuids  []string
	total  int
	offset int
	limit  int
}

func (p page) next(n int) int {
	if p.offset+n < p.total {
		return p.offset + n
	}
	return -1
}

func (x *Index) search(ctx context.Context, req *event.Request) (page, error) {
	if req == nil {
		req = &event.Request{}
	}
	node, err := query.Translate(req.Filter, req.Exclusion, x.details)
	if err != nil {
		return page{}, err
	}
	sorts, err := resolveSorts(req.Sort)
	if err != nil {
		return page{}, err
	}
	p := page{offset: max(req.Offset, 0), limit: req.PageLimit()}
	if err := x.guard.Check(p.limit, eventBytes); err != nil {
		return page{}, x.readError("list", err)
	}
	p.uuids, p.total, err = x.eng.search(ctx, node, sorts, p.offset, p.limit)
	if err != nil {
		return page{}, x.readError("list", err)
	}
	return p, nil
}

// List returns one page of matching events.
func (x *Index) List(ctx context.Context, req *event.Request) (*event.Result, error) {
	p, err := x.search(ctx, req)
	if err != nil {
		return nil, err
	}
	events, err := x.eng.load(ctx, p.uuids)
	if err != nil {
		return nil, x.readError("list", err)
	}
	return &event.Result{
		Events:     events,
		Total:      p.total,
		Offset:     p.offset,
		Limit:      p.limit,
		NextOffset: p.next(len(p.uuids)),
	}, nil
}

// ListUUIDs returns one page of matching uuids.
func (x *Index) ListUUIDs(ctx context.Context, req *event.Request) (*event.UUIDResult, error) {
	p, err := x.search(ctx, req)
	if err != nil {
		return nil, err
	}
	return &event.UUIDResult{
		UUIDs:      p.uuids,
		Total:      p.total,
		Offset:     p.offset,
		Limit:      p.limit,
		NextOffset: p.next(len(p.uuids)),
	}, nil
}

// TagSeverities aggregates severities of the events matching filter per tag.
func (x *Index) TagSeverities(ctx context.Context, filter *query.Filter) ([]event.TagSeverities, error) {
	node, err := query.Translate(filter, nil, x.details)
	if err != nil {
		return nil, err
	}
	uuids, _, err := x.eng.search(ctx, node, []sortKey{{field: string(event.SortUUID)}}, 0, -1)
	if err != nil {
		return nil, x.readError("tag_severities", err)
	}
	if err := x.guard.Check(len(uuids), uuidBytes); err != nil {
		return nil, x.readError("tag_severities", err)
	}
	counter := newTagCounter(filter)
	for start := 0; start < len(uuids); start += loadChunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+loadChunk, len(uuids))
		events, err := x.eng.load(ctx, uuids[start:end])
		if err != nil {
			return nil, x.readError("tag_severities", err)
		}
		for _, e := range events {
			counter.add(e)
		}
	}
	return counter.result(), nil
}

// snapshot is a saved search cursor: the ordered matches at creation time.
type snapshot struct {
	uuids []string
}

func (s *snapshot) Close() error {
	s.uuids = nil
	return nil
}

func (s *snapshot) slice(offset, limit int) []string {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.uuids) {
		return nil
	}
	return s.uuids[offset:min(offset+limit, len(s.uuids))]
}

// CreateSavedSearch snapshots the matches of req. The search is dropped
// after timeout without use.
func (x *Index) CreateSavedSearch(ctx context.Context, req *event.Request, timeout time.Duration) (string, error) {
	if req == nil {
		req = &event.Request{}
	}
	node, err := query.Translate(req.Filter, req.Exclusion, x.details)
	if err != nil {
		return "", err
	}
	sorts, err := resolveSorts(req.Sort)
	if err != nil {
		return "", err
	}
	return x.searches.Create(ctx, x.id, timeout, func(ctx context.Context) (savedsearch.Cursor, error) {
		uuids, _, err := x.eng.search(ctx, node, sorts, 0, -1)
		if err != nil {
			return nil, x.readError("saved_search", err)
		}
		if err := x.guard.Check(len(uuids), uuidBytes); err != nil {
			return nil, x.readError("saved_search", err)
		}
		return &snapshot{uuids: uuids}, nil
	})
}

func pageLimit(limit int) int {
	return (&event.Request{Limit: limit}).PageLimit()
}

// SavedSearch returns a page of events from a saved search. Events deleted
// since the search was created are skipped.
func (x *Index) SavedSearch(ctx context.Context, id string, offset, limit int) (*event.Result, error) {
	limit = pageLimit(limit)
	offset = max(offset, 0)
	var res *event.Result
	err := x.searches.Use(id, func(c savedsearch.Cursor) error {
		snap := c.(*snapshot)
		uuids := snap.slice(offset, limit)
		events, err := x.eng.load(ctx, uuids)
		if err != nil {
			return x.readError("saved_search", err)
		}
		p := page{total: len(snap.uuids), offset: offset, limit: limit}
		res = &event.Result{Events: events, Total: p.total, Offset: offset, Limit: limit, NextOffset: p.next(len(uuids))}
		return nil
	})
	return res, err
}

// SavedSearchUUIDs returns a page of uuids from a saved search.
func (x *Index) SavedSearchUUIDs(_ context.Context, id string, offset, limit int) (*event.UUIDResult, error) {
	limit = pageLimit(limit)
	offset = max(offset, 0)
	var res *event.UUIDResult
	err := x.searches.Use(id, func(c savedsearch.Cursor) error {
		snap := c.(*snapshot)
		uuids := append([]string(nil), snap.slice(offset, limit)...)
		p := page{total: len(snap.uuids), offset: offset, limit: limit}
		res = &event.UUIDResult{UUIDs: uuids, Total: p.total, Offset: offset, Limit: limit, NextOffset: p.next(len(uuids))}
		return nil
	})
	return res, err
}

// CloseSavedSearch closes one saved search.
func (x *Index) CloseSavedSearch(_ context.Context, id string) error {
	return x.searches.Close(id)
}

// CloseSavedSearches closes every saved search of this backend.
func (x *Index) CloseSavedSearches() {
	x.searches.CloseAll()
}

// Close releases the engine. It is safe to call more than once.
func (x *Index) Close() error {
	if !x.closed.CompareAndSwap(false, true) {
		return nil
	}
	x.CloseSavedSearches()
	x.cache.Purge()
	return x.eng.close()
}

// readError classifies a read failure. Memory exhaustion purges the read
// cache so the process can recover.
func (x *Index) readError(op string, err error) error {
	if isOutOfMemory(err) {
		x.cache.Purge()
		slog.Error("index_out_of_memory",
			slog.String("backend", x.id),
			slog.String("op", op),
			slog.String("error", err.Error()))
		if zerrors.HasCode(err, zerrors.ErrCodeOutOfMemory) {
			return err
		}
		return zerrors.New(zerrors.ErrCodeOutOfMemory, "out of memory during "+op, err).WithDetail("backend", x.id)
	}
	if _, ok := zerrors.As(err); ok {
		return err
	}
	return zerrors.New(zerrors.ErrCodeSearchFailed, op+" failed", err).WithDetail("backend", x.id)
}
