package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/query"
	"github.com/zenoss/zenoss-zep-sub000/internal/store"
)

// mockBackend records calls. Health and lifecycle methods are not mocked.
type mockBackend struct {
	mock.Mock
	id     string
	closed atomic.Bool
}

func newMockBackend(id string) *mockBackend {
	return &mockBackend{id: id}
}

func (m *mockBackend) ID() string { return m.id }

func (m *mockBackend) Index(ctx context.Context, e *event.Summary) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockBackend) IndexMany(ctx context.Context, events []*event.Summary) error {
	return m.Called(ctx, events).Error(0)
}

func (m *mockBackend) Delete(ctx context.Context, uuid string) error {
	return m.Called(ctx, uuid).Error(0)
}

func (m *mockBackend) DeleteMany(ctx context.Context, uuids []string) error {
	return m.Called(ctx, uuids).Error(0)
}

func (m *mockBackend) Clear(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBackend) Purge(ctx context.Context, threshold time.Time) error {
	return m.Called(ctx, threshold).Error(0)
}

func (m *mockBackend) Flush(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBackend) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockBackend) SizeInBytes(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockBackend) IsReady() bool { return !m.closed.Load() }

func (m *mockBackend) Ping(context.Context) error {
	if m.closed.Load() {
		return errors.New("closed")
	}
	return nil
}

func (m *mockBackend) FindByUUID(ctx context.Context, uuid string) (*event.Summary, error) {
	args := m.Called(ctx, uuid)
	e, _ := args.Get(0).(*event.Summary)
	return e, args.Error(1)
}

func (m *mockBackend) List(ctx context.Context, req *event.Request) (*event.Result, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*event.Result)
	return r, args.Error(1)
}

func (m *mockBackend) ListUUIDs(ctx context.Context, req *event.Request) (*event.UUIDResult, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*event.UUIDResult)
	return r, args.Error(1)
}

func (m *mockBackend) TagSeverities(ctx context.Context, filter *query.Filter) ([]event.TagSeverities, error) {
	args := m.Called(ctx, filter)
	r, _ := args.Get(0).([]event.TagSeverities)
	return r, args.Error(1)
}

func (m *mockBackend) CreateSavedSearch(ctx context.Context, req *event.Request, timeout time.Duration) (string, error) {
	args := m.Called(ctx, req, timeout)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) SavedSearch(ctx context.Context, id string, offset, limit int) (*event.Result, error) {
	args := m.Called(ctx, id, offset, limit)
	r, _ := args.Get(0).(*event.Result)
	return r, args.Error(1)
}

func (m *mockBackend) SavedSearchUUIDs(ctx context.Context, id string, offset, limit int) (*event.UUIDResult, error) {
	args := m.Called(ctx, id, offset, limit)
	r, _ := args.Get(0).(*event.UUIDResult)
	return r, args.Error(1)
}

func (m *mockBackend) CloseSavedSearch(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockBackend) CloseSavedSearches() {}

func (m *mockBackend) Close() error {
	m.closed.Store(true)
	return nil
}

var _ store.Backend = (*mockBackend)(nil)

// downStore is a queue store whose every call fails.
type downStore struct {
	pings atomic.Int32
}

var errDown = errors.New("connection refused")

func (d *downStore) Push(context.Context, []string) (int, error) { return 0, errDown }

func (d *downStore) Lease(context.Context, int, time.Time) ([]string, error) { return nil, errDown }

func (d *downStore) Complete(context.Context, []string) error { return errDown }

func (d *downStore) Requeue(context.Context, time.Time) (int, error) { return 0, errDown }

func (d *downStore) Len(context.Context) (int, error) { return 0, errDown }

func (d *downStore) Clear(context.Context) error { return errDown }

func (d *downStore) Ping(context.Context) error {
	d.pings.Add(1)
	return errDown
}

func (d *downStore) Close() error { return nil }
