package queue

import (
	"context"
	"log/slog"
	"time"
)

// Timing bounds.
const (
	MinPollInterval     = 100 * time.Microsecond
	MaxPollInterval     = time.Second
	DefaultPollInterval = time.Millisecond

	MinInProgressDuration     = time.Second
	MaxInProgressDuration     = 30 * 24 * time.Hour
	DefaultInProgressDuration = time.Minute
)

// WorkQueue is one backend's task queue.
type WorkQueue struct {
	name         string
	store        Store
	pollInterval time.Duration
	inProgress   time.Duration
	now          func() time.Time
}

// Option configures a WorkQueue.
type Option func(*WorkQueue)

// WithPollInterval sets how often Poll re-checks an empty queue.
func WithPollInterval(d time.Duration) Option {
	return func(q *WorkQueue) { q.pollInterval = clamp(d, MinPollInterval, MaxPollInterval, DefaultPollInterval) }
}

// WithInProgressDuration sets how long a lease lasts before RequeueOldTasks
// reclaims it.
func WithInProgressDuration(d time.Duration) Option {
	return func(q *WorkQueue) {
		q.inProgress = clamp(d, MinInProgressDuration, MaxInProgressDuration, DefaultInProgressDuration)
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *WorkQueue) { q.now = now }
}

// New wraps store as the queue called name.
func New(name string, store Store, opts ...Option) *WorkQueue {
	q := &WorkQueue{
		name:         name,
		store:        store,
		pollInterval: DefaultPollInterval,
		inProgress:   DefaultInProgressDuration,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func clamp(d, lo, hi, def time.Duration) time.Duration {
	switch {
	case d <= 0:
		return def
	case d < lo:
		return lo
	case d > hi:
		return hi
	default:
		return d
	}
}

// Name identifies the queue in logs and metrics.
func (q *WorkQueue) Name() string { return q.name }

// PollInterval is the effective, clamped poll interval.
func (q *WorkQueue) PollInterval() time.Duration { return q.pollInterval }

// InProgressDuration is the effective, clamped lease duration.
func (q *WorkQueue) InProgressDuration() time.Duration { return q.inProgress }

// Add queues t unless an identical task is queued or leased.
func (q *WorkQueue) Add(ctx context.Context, t Task) error {
	return q.AddAll(ctx, []Task{t})
}

// AddAll queues each task unless an identical one is queued or leased.
func (q *WorkQueue) AddAll(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	_, err := q.store.Push(ctx, taskStrings(tasks))
	return err
}

// Poll leases up to max tasks, waiting up to timeout for the queue to become
// non-empty. It returns an empty slice on timeout. Leased strings that do not
// parse are logged and completed.
func (q *WorkQueue) Poll(ctx context.Context, max int, timeout time.Duration) ([]Task, error) {
	if max <= 0 {
		return nil, nil
	}
	deadline := q.now().Add(timeout)
	for {
		raw, err := q.store.Lease(ctx, max, q.now())
		if err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			return q.decode(ctx, raw), nil
		}
		if !q.now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *WorkQueue) decode(ctx context.Context, raw []string) []Task {
	tasks := make([]Task, 0, len(raw))
	var bad []string
	for _, s := range raw {
		t, err := ParseTask(s)
		if err != nil {
			slog.Warn("queue_task_invalid",
				slog.String("queue", q.name),
				slog.String("task", s),
				slog.String("error", err.Error()))
			bad = append(bad, s)
			continue
		}
		tasks = append(tasks, t)
	}
	if len(bad) > 0 {
		if err := q.store.Complete(ctx, bad); err != nil {
			slog.Warn("queue_complete_failed",
				slog.String("queue", q.name),
				slog.String("error", err.Error()))
		}
	}
	return tasks
}

// Complete releases the lease on t.
func (q *WorkQueue) Complete(ctx context.Context, t Task) error {
	return q.CompleteAll(ctx, []Task{t})
}

// CompleteAll releases the leases on tasks.
func (q *WorkQueue) CompleteAll(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	return q.store.Complete(ctx, taskStrings(tasks))
}

// RequeueOldTasks puts back every task leased longer than the in-progress
// duration and returns how many were reclaimed.
func (q *WorkQueue) RequeueOldTasks(ctx context.Context) (int, error) {
	n, err := q.store.Requeue(ctx, q.now().Add(-q.inProgress))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("queue_tasks_requeued",
			slog.String("queue", q.name),
			slog.Int("count", n))
	}
	return n, nil
}

// Size is the number of queued tasks, not counting leased ones.
func (q *WorkQueue) Size(ctx context.Context) (int, error) {
	return q.store.Len(ctx)
}

// IsReady reports whether the underlying store answers.
func (q *WorkQueue) IsReady(ctx context.Context) bool {
	return q.store.Ping(ctx) == nil
}

// Clear drops every queued and leased task.
func (q *WorkQueue) Clear(ctx context.Context) error {
	return q.store.Clear(ctx)
}

// Close releases the store.
func (q *WorkQueue) Close() error {
	return q.store.Close()
}
