package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/eventstore"
	"github.com/zenoss/zenoss-zep-sub000/internal/queue"
	"github.com/zenoss/zenoss-zep-sub000/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	cfg.Rebuild.StateDir = filepath.Join(cfg.DataDir, "rebuild")
	cfg.Rebuild.BatchDelay = time.Millisecond
	cfg.Orchestrator.DrainTimeout = time.Second
	cfg.Queue.BreakerFailures = 2
	cfg.Queue.BreakerReset = time.Hour
	return cfg
}

func openEvents(t *testing.T) *eventstore.Store {
	t.Helper()
	es, err := eventstore.Open("", eventstore.DriverModernc, "zep-test")
	require.NoError(t, err)
	return es
}

func openIndex(t *testing.T, id, kind string) *store.Index {
	t.Helper()
	idx, err := store.New(config.BackendConfig{ID: id, Type: kind, CacheSize: 16}, store.DetailsFromConfig(nil), "")
	require.NoError(t, err)
	return idx
}

func newOrchestrator(t *testing.T, cfg *config.Config, es EventStore, specs ...BackendSpec) *Orchestrator {
	t.Helper()
	o, err := New(cfg, es, specs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func summaries(now int64, uuids ...string) []*event.Summary {
	out := make([]*event.Summary, len(uuids))
	for i, u := range uuids {
		out[i] = &event.Summary{
			UUID:       u,
			Status:     event.StatusNew,
			Severity:   event.SeverityWarning,
			Count:      1,
			FirstSeen:  now + int64(i),
			LastSeen:   now + int64(i),
			UpdateTime: now + int64(i),
			Summary:    "link down on " + u,
			Actor:      event.Actor{ElementUUID: "dev-" + u, ElementIdentifier: "router-" + u},
		}
	}
	return out
}

func count(t *testing.T, b store.Backend) int64 {
	t.Helper()
	n, err := b.Count(context.Background())
	require.NoError(t, err)
	return n
}

// AC01: backend configuration is validated at construction
func TestNew_Validation(t *testing.T) {
	a, b := newMockBackend("a"), newMockBackend("b")
	cases := []struct {
		name  string
		specs []BackendSpec
		code  string
	}{
		{
			name: "invalid id",
			specs: []BackendSpec{
				{Config: config.BackendConfig{ID: "bad id!", Status: config.StatusEnabled}, Backend: a},
			},
			code: zerrors.ErrCodeInvalidBackendID,
		},
		{
			name: "duplicate id",
			specs: []BackendSpec{
				{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: a},
				{Config: config.BackendConfig{ID: "a", Status: config.StatusStandby}, Backend: b},
			},
			code: zerrors.ErrCodeDuplicateBackend,
		},
		{
			name: "same backend under two ids",
			specs: []BackendSpec{
				{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: a},
				{Config: config.BackendConfig{ID: "b", Status: config.StatusStandby}, Backend: a},
			},
			code: zerrors.ErrCodeBackendRegisteredTwice,
		},
		{
			name: "no enabled backend",
			specs: []BackendSpec{
				{Config: config.BackendConfig{ID: "a", Status: config.StatusStandby}, Backend: a},
				{Config: config.BackendConfig{ID: "b", Status: config.StatusDisabled}, Backend: b},
			},
			code: zerrors.ErrCodeNoEnabledBackend,
		},
		{
			name: "two enabled backends",
			specs: []BackendSpec{
				{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: a},
				{Config: config.BackendConfig{ID: "b", Status: config.StatusEnabled}, Backend: b},
			},
			code: zerrors.ErrCodeConfigInvalid,
		},
		{
			name: "async without a queue",
			specs: []BackendSpec{
				{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled, AsyncUpdates: true}, Backend: a},
			},
			code: zerrors.ErrCodeConfigInvalid,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(testConfig(t), nil, tc.specs)
			require.Error(t, err)
			assert.True(t, zerrors.HasCode(err, tc.code), "got %v", err)
		})
	}
}

func TestNew_DropsDisabledBackends(t *testing.T) {
	a, b := newMockBackend("a"), newMockBackend("b")
	o := newOrchestrator(t, testConfig(t), nil,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: a},
		BackendSpec{Config: config.BackendConfig{ID: "b", Status: config.StatusDisabled}, Backend: b},
	)
	assert.Equal(t, []string{"a"}, o.BackendIDs())
	assert.Equal(t, "a", o.ReaderID())

	// Given: a write
	a.On("IndexMany", mock.Anything, mock.Anything).Return(nil).Once()

	// Then: only the active backend sees it
	require.NoError(t, o.IndexMany(context.Background(), summaries(1, "x")))
	a.AssertExpectations(t)
	b.AssertNotCalled(t, "IndexMany", mock.Anything, mock.Anything)
}

// TS01: two backends with different write policies
func TestOrchestrator_TwoBackendScenario(t *testing.T) {
	ctx := context.Background()
	es := openEvents(t)
	idxA := openIndex(t, "a", config.BackendBleve)
	idxB := openIndex(t, "b", config.BackendSQLite)
	memB := queue.NewMemoryStore()
	qB := queue.New("b", memB)

	o := newOrchestrator(t, testConfig(t), es,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled, HonorDeletes: true}, Backend: idxA},
		BackendSpec{Config: config.BackendConfig{ID: "b", Status: config.StatusStandby, AsyncUpdates: true}, Backend: idxB, Queue: qB},
	)

	// Given: one record in the canonical store
	e := summaries(time.Now().UnixMilli(), "evt-1")[0]
	require.NoError(t, es.Put(ctx, []*event.Summary{e}))

	// When: it is indexed
	require.NoError(t, o.Index(ctx, e))

	// Then: A has it, B only has a task for it
	got, err := o.FindByUUID(ctx, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Zero(t, count(t, idxB))
	n, err := qB.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// When: B's queue is drained
	tasks, err := qB.Poll(ctx, 10, 0)
	require.NoError(t, err)
	require.Equal(t, []queue.Task{queue.IndexTask("evt-1", e.LastSeen)}, tasks)
	b, _ := o.backends.Load("b")
	o.process(ctx, b, tasks)

	// Then: B has indexed the record and released the lease
	assert.Equal(t, int64(1), count(t, idxB))
	assert.Zero(t, memB.Leased())

	// When: the record is deleted
	require.NoError(t, es.Delete(ctx, []string{"evt-1"}))
	require.NoError(t, o.Delete(ctx, "evt-1"))

	// Then: A drops it, B keeps it and was sent nothing
	assert.Zero(t, count(t, idxA))
	assert.Equal(t, int64(1), count(t, idxB))
	n, err = qB.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TS02: a failing queue falls back to a synchronous write
func TestOrchestrator_QueueFailureFallsBackToSync(t *testing.T) {
	ctx := context.Background()
	a, b := newMockBackend("a"), newMockBackend("b")
	down := &downStore{}
	o := newOrchestrator(t, testConfig(t), nil,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: a},
		BackendSpec{Config: config.BackendConfig{ID: "b", Status: config.StatusStandby, AsyncUpdates: true}, Backend: b, Queue: queue.New("b", down)},
	)
	a.On("IndexMany", mock.Anything, mock.Anything).Return(nil)
	b.On("IndexMany", mock.Anything, mock.Anything).Return(nil)

	// When: writing three times with a breaker that opens after two failures
	for range 3 {
		require.NoError(t, o.IndexMany(ctx, summaries(1, "x")))
	}

	// Then: every write reached B directly, and the open breaker spared the third ping
	b.AssertNumberOfCalls(t, "IndexMany", 3)
	assert.Equal(t, int32(2), down.pings.Load())
	bb, _ := o.backends.Load("b")
	assert.Equal(t, zerrors.StateOpen, bb.breaker.State())
}

func TestOrchestrator_FailsOnlyWhenEveryBackendFails(t *testing.T) {
	ctx := context.Background()
	a, b := newMockBackend("a"), newMockBackend("b")
	o := newOrchestrator(t, testConfig(t), nil,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: a},
		BackendSpec{Config: config.BackendConfig{ID: "b", Status: config.StatusStandby}, Backend: b},
	)

	// Given: A fails, B succeeds
	a.On("IndexMany", mock.Anything, mock.Anything).Return(assert.AnError).Once()
	b.On("IndexMany", mock.Anything, mock.Anything).Return(nil).Once()
	assert.NoError(t, o.IndexMany(ctx, summaries(1, "x")))

	// Given: both fail
	a.On("IndexMany", mock.Anything, mock.Anything).Return(assert.AnError).Once()
	b.On("IndexMany", mock.Anything, mock.Anything).Return(assert.AnError).Once()
	err := o.IndexMany(ctx, summaries(1, "x"))
	require.Error(t, err)
	assert.True(t, zerrors.HasCode(err, zerrors.ErrCodeIndexFailed))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestOrchestrator_DestructiveWritesSkipAppendOnlyBackends(t *testing.T) {
	ctx := context.Background()
	a, b := newMockBackend("a"), newMockBackend("b")
	o := newOrchestrator(t, testConfig(t), nil,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled, HonorDeletes: true}, Backend: a},
		BackendSpec{Config: config.BackendConfig{ID: "b", Status: config.StatusStandby}, Backend: b},
	)
	threshold := time.UnixMilli(5000)
	a.On("DeleteMany", mock.Anything, []string{"x"}).Return(nil).Once()
	a.On("Clear", mock.Anything).Return(nil).Once()
	a.On("Purge", mock.Anything, threshold).Return(nil).Once()

	require.NoError(t, o.Delete(ctx, "x"))
	require.NoError(t, o.Clear(ctx))
	require.NoError(t, o.Purge(ctx, threshold))

	a.AssertExpectations(t)
	b.AssertNotCalled(t, "DeleteMany", mock.Anything, mock.Anything)
	b.AssertNotCalled(t, "Clear", mock.Anything)
	b.AssertNotCalled(t, "Purge", mock.Anything, mock.Anything)
}

// TS03: commit becomes a FLUSH task or a direct flush
func TestOrchestrator_Commit(t *testing.T) {
	ctx := context.Background()
	a, b := newMockBackend("a"), newMockBackend("b")
	qB := queue.New("b", queue.NewMemoryStore())
	o := newOrchestrator(t, testConfig(t), nil,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: a},
		BackendSpec{Config: config.BackendConfig{ID: "b", Status: config.StatusStandby, AsyncUpdates: true}, Backend: b, Queue: qB},
	)
	a.On("Flush", mock.Anything).Return(nil).Once()

	require.NoError(t, o.Commit(ctx))

	a.AssertExpectations(t)
	b.AssertNotCalled(t, "Flush", mock.Anything)
	tasks, err := qB.Poll(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []queue.Task{queue.FlushTask()}, tasks)
}

func TestProcess_DeduplicatesAndDropsUnknownOps(t *testing.T) {
	ctx := context.Background()
	es := openEvents(t)
	a, b := newMockBackend("a"), newMockBackend("b")
	mem := queue.NewMemoryStore()
	qB := queue.New("b", mem)
	o := newOrchestrator(t, testConfig(t), es,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: a},
		BackendSpec{Config: config.BackendConfig{ID: "b", Status: config.StatusStandby, AsyncUpdates: true, HonorDeletes: true}, Backend: b, Queue: qB},
	)
	events := summaries(100, "u1")
	require.NoError(t, es.Put(ctx, events))

	// Given: two revisions of u1, a vanished event, an unknown op and a flush
	_, err := mem.Push(ctx, []string{
		queue.IndexTask("u1", 100).String(),
		queue.IndexTask("u1", 99).String(),
		queue.IndexTask("gone", 1).String(),
		"op:REINDEX_ALL",
		queue.FlushTask().String(),
	})
	require.NoError(t, err)
	tasks, err := qB.Poll(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 5)

	b.On("IndexMany", mock.Anything, mock.MatchedBy(func(got []*event.Summary) bool {
		return len(got) == 1 && got[0].UUID == "u1"
	})).Return(nil).Once()
	b.On("DeleteMany", mock.Anything, []string{"gone"}).Return(nil).Once()
	b.On("Flush", mock.Anything).Return(nil).Once()

	// When: processed
	bb, _ := o.backends.Load("b")
	o.process(ctx, bb, tasks)

	// Then: u1 is indexed once, gone is deleted and every lease is released
	b.AssertExpectations(t)
	assert.Zero(t, mem.Leased())
}

func TestProcess_FailureLeavesTasksLeased(t *testing.T) {
	ctx := context.Background()
	es := openEvents(t)
	a, b := newMockBackend("a"), newMockBackend("b")
	mem := queue.NewMemoryStore()
	qB := queue.New("b", mem)
	o := newOrchestrator(t, testConfig(t), es,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: a},
		BackendSpec{Config: config.BackendConfig{ID: "b", Status: config.StatusStandby, AsyncUpdates: true}, Backend: b, Queue: qB},
	)
	require.NoError(t, es.Put(ctx, summaries(100, "u1")))
	require.NoError(t, qB.Add(ctx, queue.IndexTask("u1", 100)))
	tasks, err := qB.Poll(ctx, 10, 0)
	require.NoError(t, err)

	// Given: the backend rejects the write
	b.On("IndexMany", mock.Anything, mock.Anything).Return(assert.AnError).Once()

	// When: processed
	bb, _ := o.backends.Load("b")
	o.process(ctx, bb, tasks)

	// Then: the task is still leased for the recycler
	assert.Equal(t, 1, mem.Leased())
}

func TestProcess_IndexOnlyBatchFlushes(t *testing.T) {
	ctx := context.Background()
	es := openEvents(t)
	a, b := newMockBackend("a"), newMockBackend("b")
	mem := queue.NewMemoryStore()
	qB := queue.New("b", mem)
	o := newOrchestrator(t, testConfig(t), es,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: a},
		BackendSpec{Config: config.BackendConfig{ID: "b", Status: config.StatusStandby, AsyncUpdates: true}, Backend: b, Queue: qB},
	)
	require.NoError(t, es.Put(ctx, summaries(100, "u1")))

	// Given: a batch holding only an INDEX_EVENT task
	require.NoError(t, qB.Add(ctx, queue.IndexTask("u1", 100)))
	tasks, err := qB.Poll(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	b.On("IndexMany", mock.Anything, mock.Anything).Return(nil).Once()
	b.On("Flush", mock.Anything).Return(nil).Once()

	// When: processed
	bb, _ := o.backends.Load("b")
	o.process(ctx, bb, tasks)

	// Then: the indexed event is flushed and the lease released
	b.AssertExpectations(t)
	assert.Zero(t, mem.Leased())
}

func TestProcess_FlushFailureKeepsFlushLeased(t *testing.T) {
	ctx := context.Background()
	es := openEvents(t)
	a, b := newMockBackend("a"), newMockBackend("b")
	mem := queue.NewMemoryStore()
	qB := queue.New("b", mem)
	o := newOrchestrator(t, testConfig(t), es,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: a},
		BackendSpec{Config: config.BackendConfig{ID: "b", Status: config.StatusStandby, AsyncUpdates: true}, Backend: b, Queue: qB},
	)
	require.NoError(t, qB.Add(ctx, queue.FlushTask()))
	tasks, err := qB.Poll(ctx, 10, 0)
	require.NoError(t, err)

	// Given: the backend cannot flush
	b.On("Flush", mock.Anything).Return(assert.AnError).Once()

	// When: processed
	bb, _ := o.backends.Load("b")
	o.process(ctx, bb, tasks)

	// Then: the flush task stays leased
	b.AssertExpectations(t)
	assert.Equal(t, 1, mem.Leased())
}

func TestOrchestrator_ReadsUseEnabledBackend(t *testing.T) {
	ctx := context.Background()
	a, b := newMockBackend("a"), newMockBackend("b")
	o := newOrchestrator(t, testConfig(t), nil,
		BackendSpec{Config: config.BackendConfig{ID: "b", Status: config.StatusStandby}, Backend: b},
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: a},
	)
	req := &event.Request{Limit: 5}
	a.On("List", mock.Anything, req).Return(&event.Result{Total: 7}, nil).Once()
	a.On("Count", mock.Anything).Return(int64(7), nil).Once()
	a.On("CreateSavedSearch", mock.Anything, req, 5*time.Second).Return("ss-1", nil).Once()
	a.On("CloseSavedSearch", mock.Anything, "ss-1").Return(nil).Once()

	res, err := o.List(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Total)
	n, err := o.NumDocs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	id, err := o.CreateSavedSearch(ctx, req, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, o.DeleteSavedSearch(ctx, id))

	a.AssertExpectations(t)
	b.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
}

func TestOrchestrator_CloseStopsWrites(t *testing.T) {
	a := newMockBackend("a")
	o, err := New(testConfig(t), openEvents(t), []BackendSpec{
		{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: a},
	})
	require.NoError(t, err)
	a.On("Count", mock.Anything).Return(int64(0), nil).Maybe()
	require.NoError(t, o.Start(context.Background()))

	require.NoError(t, o.Close())
	require.NoError(t, o.Close())

	assert.True(t, a.closed.Load())
	err = o.Commit(context.Background())
	assert.True(t, zerrors.HasCode(err, zerrors.ErrCodeBackendUnavailable))
}

func TestOrchestrator_GrabberDrainsQueue(t *testing.T) {
	ctx := context.Background()
	es := openEvents(t)
	idxA := openIndex(t, "a", config.BackendBleve)
	idxB := openIndex(t, "b", config.BackendBleve)
	qB := queue.New("b", queue.NewMemoryStore())
	o := newOrchestrator(t, testConfig(t), es,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: idxA},
		BackendSpec{Config: config.BackendConfig{ID: "b", Status: config.StatusStandby, AsyncUpdates: true}, Backend: idxB, Queue: qB},
	)
	events := summaries(time.Now().UnixMilli(), "g1", "g2", "g3")
	require.NoError(t, es.Put(ctx, events))

	// When: started and written to
	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.IndexMany(ctx, events))
	require.NoError(t, o.Commit(ctx))

	// Then: the grabber catches B up
	assert.Eventually(t, func() bool {
		n, err := idxB.Count(ctx)
		return err == nil && n == 3
	}, 5*time.Second, 10*time.Millisecond)

	statuses := o.Status(ctx)
	require.Len(t, statuses, 2)
	assert.Equal(t, "b", statuses[1].ID)
	assert.True(t, statuses[1].Async)
}

func TestOrchestrator_CloseWaitsForInflightBatch(t *testing.T) {
	ctx := context.Background()
	es := openEvents(t)
	a, b := newMockBackend("a"), newMockBackend("b")
	qB := queue.New("b", queue.NewMemoryStore())
	cfg := testConfig(t)
	cfg.Orchestrator.DrainTimeout = 5 * time.Second
	o, err := New(cfg, es, []BackendSpec{
		{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: a},
		{Config: config.BackendConfig{ID: "b", Status: config.StatusStandby, AsyncUpdates: true}, Backend: b, Queue: qB},
	})
	require.NoError(t, err)
	for _, m := range []*mockBackend{a, b} {
		m.On("Count", mock.Anything).Return(int64(0), nil).Maybe()
		m.On("SizeInBytes", mock.Anything).Return(int64(0), nil).Maybe()
	}
	require.NoError(t, es.Put(ctx, summaries(100, "u1")))

	// Given: B blocks inside IndexMany
	entered, release := make(chan struct{}), make(chan struct{})
	b.On("IndexMany", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return(nil).Once()
	b.On("Flush", mock.Anything).Return(nil).Once()
	require.NoError(t, qB.Add(ctx, queue.IndexTask("u1", 100)))
	require.NoError(t, o.Start(ctx))
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("batch was never processed")
	}

	// When: closed while the batch is in flight
	closed := make(chan error, 1)
	go func() { closed <- o.Close() }()

	// Then: the backend stays open until the batch finishes
	time.Sleep(50 * time.Millisecond)
	assert.False(t, b.closed.Load())
	close(release)
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return")
	}
	assert.True(t, b.closed.Load())
	b.AssertExpectations(t)
}
