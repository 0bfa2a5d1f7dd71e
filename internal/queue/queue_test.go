package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
)

func TestNew_ClampsTiming(t *testing.T) {
	tests := []struct {
		name             string
		poll, inProgress time.Duration
		wantPoll, wantIP time.Duration
	}{
		{"defaults", 0, 0, DefaultPollInterval, DefaultInProgressDuration},
		{"too small", time.Nanosecond, time.Millisecond, MinPollInterval, MinInProgressDuration},
		{"too large", time.Hour, 365 * 24 * time.Hour, MaxPollInterval, MaxInProgressDuration},
		{"in range", 5 * time.Millisecond, 2 * time.Minute, 5 * time.Millisecond, 2 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New("b1", NewMemoryStore(), WithPollInterval(tt.poll), WithInProgressDuration(tt.inProgress))
			assert.Equal(t, tt.wantPoll, q.PollInterval())
			assert.Equal(t, tt.wantIP, q.InProgressDuration())
		})
	}
}

func TestWorkQueue_PollTimesOutEmpty(t *testing.T) {
	q := New("b1", NewMemoryStore())
	start := time.Now()
	got, err := q.Poll(context.Background(), 10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

// TS06: a poller waiting on an empty queue sees a later add
func TestWorkQueue_PollWaitsForAdd(t *testing.T) {
	q := New("b1", NewMemoryStore())
	ctx := context.Background()

	var got []Task
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		got, err = q.Poll(ctx, 10, 2*time.Second)
		assert.NoError(t, err)
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Add(ctx, IndexTask("u1", 5)))
	wg.Wait()

	require.Len(t, got, 1)
	assert.Equal(t, IndexTask("u1", 5), got[0])
}

func TestWorkQueue_PollHonorsContext(t *testing.T) {
	q := New("b1", NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Poll(ctx, 1, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkQueue_CorruptTasksAreCompleted(t *testing.T) {
	// Given: a store holding an unparsable task next to a good one
	store := NewMemoryStore()
	_, err := store.Push(context.Background(), []string{"garbage", "op:FLUSH"})
	require.NoError(t, err)
	q := New("b1", store)

	// When: polled
	got, err := q.Poll(context.Background(), 10, time.Millisecond)

	// Then: only the good task is returned and the bad one is not left leased
	require.NoError(t, err)
	assert.Equal(t, []Task{FlushTask()}, got)
	assert.Equal(t, 1, store.Leased())
}

func TestWorkQueue_RequeueOldTasks(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore()
	q := New("b1", store, WithClock(func() time.Time { return now }), WithInProgressDuration(time.Minute))
	ctx := context.Background()

	require.NoError(t, q.AddAll(ctx, []Task{IndexTask("a", 1), IndexTask("b", 2)}))
	leased, err := q.Poll(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, leased, 2)
	require.NoError(t, q.Complete(ctx, leased[1]))

	n, err := q.RequeueOldTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	now = now.Add(2 * time.Minute)
	n, err = q.RequeueOldTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
	assert.True(t, q.IsReady(ctx))

	require.NoError(t, q.Clear(ctx))
	size, err = q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestFactory_Memory(t *testing.T) {
	f, err := NewFactory(context.Background(), config.QueueConfig{Type: config.QueueMemory})
	require.NoError(t, err)
	defer f.Close()

	a, b := f.Open("a"), f.Open("b")
	require.NoError(t, a.Add(context.Background(), FlushTask()))
	n, err := b.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFactory_UnknownType(t *testing.T) {
	_, err := NewFactory(context.Background(), config.QueueConfig{Type: "kafka"})
	assert.Error(t, err)
}
