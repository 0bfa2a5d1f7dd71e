package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/queue"
	"github.com/zenoss/zenoss-zep-sub000/internal/rebuild"
)

func waitDone(t *testing.T, o *Orchestrator, id string) *rebuild.State {
	t.Helper()
	var state *rebuild.State
	require.Eventually(t, func() bool {
		s, err := o.states.Load(id)
		if err != nil || s == nil || !s.Done() {
			return false
		}
		state = s
		return true
	}, 10*time.Second, 5*time.Millisecond)
	return state
}

// TS04: a version mismatch clears the backend and rebuilds it to completion
func TestRebuild_VersionMismatch(t *testing.T) {
	ctx := context.Background()
	es := openEvents(t)
	idxA := openIndex(t, "a", config.BackendBleve)
	idxB := openIndex(t, "b", config.BackendSQLite)
	cfg := testConfig(t)
	o := newOrchestrator(t, cfg, es,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: idxA},
		BackendSpec{Config: config.BackendConfig{ID: "b", Status: config.StatusStandby, HonorDeletes: true, EnableRebuilder: true, BatchSize: 2}, Backend: idxB},
	)

	// Given: five stored events, and B holding a stale document under an old layout
	events := summaries(time.Now().Add(-time.Hour).UnixMilli(), "r1", "r2", "r3", "r4", "r5")
	require.NoError(t, es.Put(ctx, events))
	require.NoError(t, idxB.Index(ctx, summaries(1, "stale")[0]))
	require.NoError(t, es.UpdateIndexVersion(ctx, o.metadataName("b"), IndexVersion-1, o.ConfigHash()))

	// When: the checker runs
	o.CheckRebuilds(ctx)

	// Then: B is rebuilt from the store alone
	state := waitDone(t, o, "b")
	assert.Equal(t, int64(5), state.Indexed)
	assert.Equal(t, IndexVersion, state.IndexVersion)
	assert.Equal(t, 100, state.PercentComplete())
	assert.Equal(t, int64(5), count(t, idxB))
	stale, err := idxB.FindByUUID(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, stale)

	meta, err := es.FindIndexMetadata(ctx, o.metadataName("b"))
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, IndexVersion, meta.Version)
	assert.Equal(t, o.ConfigHash(), meta.Hash)

	// And: A was not enabled for rebuilds and was left alone
	assert.Zero(t, count(t, idxA))
}

func TestRebuild_UpToDateBackendIsLeftAlone(t *testing.T) {
	ctx := context.Background()
	es := openEvents(t)
	idxA := openIndex(t, "a", config.BackendBleve)
	o := newOrchestrator(t, testConfig(t), es,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled, HonorDeletes: true, EnableRebuilder: true}, Backend: idxA},
	)

	// Given: current metadata and a populated index
	events := summaries(1000, "k1")
	require.NoError(t, es.Put(ctx, events))
	require.NoError(t, idxA.IndexMany(ctx, events))
	require.NoError(t, es.UpdateIndexVersion(ctx, o.metadataName("a"), IndexVersion, o.ConfigHash()))

	// When: checked
	o.CheckRebuilds(ctx)

	// Then: nothing is started
	s, err := o.states.Load("a")
	require.NoError(t, err)
	assert.Nil(t, s)
	_, running := o.rebuilders.Load("a")
	assert.False(t, running)
}

func TestRebuild_EmptyStoreDoesNotRebuildEmptyIndex(t *testing.T) {
	ctx := context.Background()
	es := openEvents(t)
	o := newOrchestrator(t, testConfig(t), es,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled, EnableRebuilder: true}, Backend: openIndex(t, "a", config.BackendBleve)},
	)
	require.NoError(t, es.UpdateIndexVersion(ctx, o.metadataName("a"), IndexVersion, o.ConfigHash()))

	o.CheckRebuilds(ctx)

	s, err := o.states.Load("a")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestRebuild_ChangedDetailsTriggerRebuild(t *testing.T) {
	ctx := context.Background()
	es := openEvents(t)
	idxA := openIndex(t, "a", config.BackendBleve)
	cfg := testConfig(t)
	cfg.IndexedDetails = []config.IndexedDetail{{Key: "zenoss.device.location", Name: "location", Type: "PATH"}}
	o := newOrchestrator(t, cfg, es,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled, HonorDeletes: true, EnableRebuilder: true}, Backend: idxA},
	)

	// Given: metadata written under a different detail configuration
	require.NoError(t, es.Put(ctx, summaries(1000, "d1", "d2")))
	require.NoError(t, es.UpdateIndexVersion(ctx, o.metadataName("a"), IndexVersion, ConfigHash(nil)))

	o.CheckRebuilds(ctx)

	state := waitDone(t, o, "a")
	assert.Equal(t, o.ConfigHash(), state.ConfigHash)
	assert.Equal(t, int64(2), count(t, idxA))
}

// TS05: an unfinished rebuild resumes from its watermark without clearing
func TestRebuild_ResumesUnfinishedState(t *testing.T) {
	ctx := context.Background()
	es := openEvents(t)
	idxA := openIndex(t, "a", config.BackendBleve)
	o := newOrchestrator(t, testConfig(t), es,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled, HonorDeletes: true, EnableRebuilder: true, BatchSize: 1}, Backend: idxA},
	)
	events := summaries(1000, "p1", "p2", "p3")
	require.NoError(t, es.Put(ctx, events))
	require.NoError(t, es.UpdateIndexVersion(ctx, o.metadataName("a"), IndexVersion, o.ConfigHash()))

	// Given: a run interrupted after p1, which the index already holds
	now := time.Now()
	s := rebuild.Begin(IndexVersion, o.ConfigHash(), now.UnixMilli(), now)
	s = rebuild.Update(s, 1, event.Watermark{LastSeen: events[0].LastSeen, UUID: "p1"}, now)
	require.NoError(t, o.states.Save("a", s))
	require.NoError(t, idxA.Index(ctx, events[0]))

	// When: checked
	o.CheckRebuilds(ctx)

	// Then: the run continues from p2 and keeps p1
	state := waitDone(t, o, "a")
	assert.Equal(t, s.ThroughTime, state.ThroughTime)
	assert.Equal(t, int64(3), state.Indexed)
	assert.Equal(t, int64(3), count(t, idxA))
}

func TestRebuild_AsyncBackendQueuesTasks(t *testing.T) {
	ctx := context.Background()
	es := openEvents(t)
	mem := queue.NewMemoryStore()
	qB := queue.New("b", mem)
	o := newOrchestrator(t, testConfig(t), es,
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: openIndex(t, "a", config.BackendBleve)},
		BackendSpec{Config: config.BackendConfig{ID: "b", Status: config.StatusStandby, AsyncUpdates: true, EnableRebuilder: true}, Backend: openIndex(t, "b", config.BackendBleve), Queue: qB},
	)
	events := summaries(1000, "q1", "q2")
	require.NoError(t, es.Put(ctx, events))

	// When: forced
	require.NoError(t, o.ForceRebuild(ctx, "b"))

	// Then: the run ends once every event and a flush are queued
	state := waitDone(t, o, "b")
	assert.Equal(t, int64(2), state.Indexed)
	tasks, err := qB.Poll(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []queue.Task{
		queue.IndexTask("q1", 1000),
		queue.IndexTask("q2", 1001),
		queue.FlushTask(),
	}, tasks)
}

func TestForceRebuild_UnknownBackend(t *testing.T) {
	o := newOrchestrator(t, testConfig(t), openEvents(t),
		BackendSpec{Config: config.BackendConfig{ID: "a", Status: config.StatusEnabled}, Backend: newMockBackend("a")},
	)
	assert.Error(t, o.ForceRebuild(context.Background(), "nope"))
}

func TestConfigHash(t *testing.T) {
	a := []config.IndexedDetail{{Key: "k1", Type: "STRING"}, {Key: "k2", Type: "PATH"}}
	reordered := []config.IndexedDetail{{Key: "k2", Type: "path"}, {Key: "k1", Type: "STRING"}}
	retyped := []config.IndexedDetail{{Key: "k1", Type: "STRING"}, {Key: "k2", Type: "STRING"}}

	assert.Equal(t, ConfigHash(a), ConfigHash(reordered))
	assert.NotEqual(t, ConfigHash(a), ConfigHash(retyped))
	assert.NotEqual(t, ConfigHash(a), ConfigHash(nil))
}
