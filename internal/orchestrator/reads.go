package orchestrator

import (
	"context"
	"time"

	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/query"
)

// Reads are answered by the ENABLED backend only.

func (o *Orchestrator) FindByUUID(ctx context.Context, uuid string) (*event.Summary, error) {
	return o.reader.impl.FindByUUID(ctx, uuid)
}

func (o *Orchestrator) List(ctx context.Context, req *event.Request) (*event.Result, error) {
	return o.reader.impl.List(ctx, req)
}

func (o *Orchestrator) ListUUIDs(ctx context.Context, req *event.Request) (*event.UUIDResult, error) {
	return o.reader.impl.ListUUIDs(ctx, req)
}

// TagSeverities aggregates severity counts per tag for the events matching filter.
func (o *Orchestrator) TagSeverities(ctx context.Context, filter *query.Filter) ([]event.TagSeverities, error) {
	return o.reader.impl.TagSeverities(ctx, filter)
}

// CreateSavedSearch snapshots the matches of req for paging. The search
// expires after timeout without use.
func (o *Orchestrator) CreateSavedSearch(ctx context.Context, req *event.Request, timeout time.Duration) (string, error) {
	return o.reader.impl.CreateSavedSearch(ctx, req, timeout)
}

func (o *Orchestrator) SavedSearch(ctx context.Context, id string, offset, limit int) (*event.Result, error) {
	return o.reader.impl.SavedSearch(ctx, id, offset, limit)
}

func (o *Orchestrator) SavedSearchUUIDs(ctx context.Context, id string, offset, limit int) (*event.UUIDResult, error) {
	return o.reader.impl.SavedSearchUUIDs(ctx, id, offset, limit)
}

func (o *Orchestrator) DeleteSavedSearch(ctx context.Context, id string) error {
	return o.reader.impl.CloseSavedSearch(ctx, id)
}
