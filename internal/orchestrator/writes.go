package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/queue"
)

var errQueueNotReady = zerrors.New(zerrors.ErrCodeQueueUnavailable, "work queue is not ready", nil)

// Index writes one event to every backend.
func (o *Orchestrator) Index(ctx context.Context, e *event.Summary) error {
	return o.IndexMany(ctx, []*event.Summary{e})
}

// IndexMany writes events to every backend: queued as INDEX_EVENT tasks for
// asynchronous backends, applied directly to the others.
func (o *Orchestrator) IndexMany(ctx context.Context, events []*event.Summary) error {
	if len(events) == 0 {
		return nil
	}
	tasks := make([]queue.Task, len(events))
	for i, e := range events {
		tasks[i] = queue.IndexTask(e.UUID, e.LastSeen)
	}
	return o.fanOut(ctx, "index", o.order, func(ctx context.Context, b *backend) error {
		return o.submit(ctx, b, tasks, func(ctx context.Context) error {
			return b.impl.IndexMany(ctx, events)
		})
	})
}

// Delete removes one event from every backend that honors deletes.
func (o *Orchestrator) Delete(ctx context.Context, uuid string) error {
	return o.DeleteMany(ctx, []string{uuid})
}

// DeleteMany removes events from every backend that honors deletes. For an
// asynchronous backend the delete is queued as an INDEX_EVENT task with no
// revision; the processor deletes whatever the event store no longer has.
func (o *Orchestrator) DeleteMany(ctx context.Context, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}
	tasks := make([]queue.Task, len(uuids))
	for i, uuid := range uuids {
		tasks[i] = queue.IndexTask(uuid, 0)
	}
	return o.fanOut(ctx, "delete", o.deleters(), func(ctx context.Context, b *backend) error {
		return o.submit(ctx, b, tasks, func(ctx context.Context) error {
			return b.impl.DeleteMany(ctx, uuids)
		})
	})
}

// Clear empties every backend that honors deletes.
func (o *Orchestrator) Clear(ctx context.Context) error {
	return o.fanOut(ctx, "clear", o.deleters(), func(ctx context.Context, b *backend) error {
		WritesTotal.WithLabelValues(b.id, modeSync).Inc()
		return b.impl.Clear(ctx)
	})
}

// Purge drops events last seen before threshold from every backend that
// honors deletes.
func (o *Orchestrator) Purge(ctx context.Context, threshold time.Time) error {
	return o.fanOut(ctx, "purge", o.deleters(), func(ctx context.Context, b *backend) error {
		WritesTotal.WithLabelValues(b.id, modeSync).Inc()
		return b.impl.Purge(ctx, threshold)
	})
}

// Commit flushes every backend, through a FLUSH task where updates are
// asynchronous so the flush lands after the writes queued before it.
func (o *Orchestrator) Commit(ctx context.Context) error {
	flush := []queue.Task{queue.FlushTask()}
	return o.fanOut(ctx, "commit", o.order, func(ctx context.Context, b *backend) error {
		return o.submit(ctx, b, flush, b.impl.Flush)
	})
}

func (o *Orchestrator) deleters() []*backend {
	out := make([]*backend, 0, len(o.order))
	for _, b := range o.order {
		if b.cfg.HonorDeletes {
			out = append(out, b)
		}
	}
	return out
}

// submit queues tasks on b when it is asynchronous and its queue is usable,
// otherwise it runs apply. A failed push falls back to apply.
func (o *Orchestrator) submit(ctx context.Context, b *backend, tasks []queue.Task, apply func(context.Context) error) error {
	if b.async() {
		err := b.breaker.Execute(func() error {
			if !b.queue.IsReady(ctx) {
				return errQueueNotReady
			}
			return b.queue.AddAll(ctx, tasks)
		})
		if err == nil {
			WritesTotal.WithLabelValues(b.id, modeAsync).Inc()
			return nil
		}
		slog.Warn("queue_push_failed",
			slog.String("backend", b.id),
			slog.Int("tasks", len(tasks)),
			slog.String("breaker", b.breaker.State().String()),
			slog.String("error", err.Error()))
	}
	WritesTotal.WithLabelValues(b.id, modeSync).Inc()
	return apply(ctx)
}

// fanOut runs fn against each backend concurrently. A failing backend is
// logged and counted; the call fails only when every backend failed.
func (o *Orchestrator) fanOut(ctx context.Context, op string, targets []*backend, fn func(context.Context, *backend) error) error {
	if err := o.closed(); err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, b := range targets {
		g.Go(func() error {
			if err := fn(ctx, b); err != nil {
				errs[i] = err
				WriteFailures.WithLabelValues(b.id).Inc()
				slog.Warn("backend_write_failed",
					slog.String("backend", b.id),
					slog.String("op", op),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err == nil {
			return nil
		}
	}
	if len(targets) == 1 {
		return errs[0]
	}
	return zerrors.New(zerrors.ErrCodeIndexFailed,
		fmt.Sprintf("%s failed on all %d backends", op, len(targets)), errors.Join(errs...))
}
