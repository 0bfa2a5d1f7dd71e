// Package store implements the searchable index backends. Each backend keeps
// a denormalized copy of event summaries and answers translated filter queries.
package store

import (
	"context"
	"time"

	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/query"
)

// Backend is the contract every index implementation satisfies.
type Backend interface {
	// ID is the configured backend id.
	ID() string

	Index(ctx context.Context, e *event.Summary) error
	IndexMany(ctx context.Context, events []*event.Summary) error
	Delete(ctx context.Context, uuid string) error
	DeleteMany(ctx context.Context, uuids []string) error
	// Clear removes every document.
	Clear(ctx context.Context) error
	// Purge removes documents last seen before threshold.
	Purge(ctx context.Context, threshold time.Time) error
	// Flush makes previous writes durable and visible.
	Flush(ctx context.Context) error

	Count(ctx context.Context) (int64, error)
	SizeInBytes(ctx context.Context) (int64, error)
	IsReady() bool
	Ping(ctx context.Context) error

	FindByUUID(ctx context.Context, uuid string) (*event.Summary, error)
	List(ctx context.Context, req *event.Request) (*event.Result, error)
	ListUUIDs(ctx context.Context, req *event.Request) (*event.UUIDResult, error)
	TagSeverities(ctx context.Context, filter *query.Filter) ([]event.TagSeverities, error)

	CreateSavedSearch(ctx context.Context, req *event.Request, timeout time.Duration) (string, error)
	SavedSearch(ctx context.Context, id string, offset, limit int) (*event.Result, error)
	SavedSearchUUIDs(ctx context.Context, id string, offset, limit int) (*event.UUIDResult, error)
	CloseSavedSearch(ctx context.Context, id string) error
	CloseSavedSearches()

	Close() error
}

// engine is the storage half of a backend: documents in, uuids out. Index
// layers caching, memory limits, saved searches and aggregation on top.
type engine interface {
	index(ctx context.Context, docs []*document) error
	delete(ctx context.Context, uuids []string) error
	clear(ctx context.Context) error
	flush(ctx context.Context) error
	count(ctx context.Context) (int64, error)
	size(ctx context.Context) (int64, error)
	ping(ctx context.Context) error
	// search returns one page of matching uuids in sort order and the total
	// number of matches. A negative limit returns every match.
	search(ctx context.Context, node *query.Node, sorts []sortKey, offset, limit int) ([]string, int, error)
	// load returns the stored summaries for uuids, in the same order,
	// skipping unknown ones.
	load(ctx context.Context, uuids []string) ([]*event.Summary, error)
	close() error
}

var _ Backend = (*Index)(nil)
