package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/queue"
)

// sleep waits for d or until the orchestrator stops. It reports whether the
// caller should keep going.
func (o *Orchestrator) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-o.ctx.Done():
		return false
	case <-t.C:
		return !o.shuttingDown.Load()
	}
}

func every(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// ready reports whether b can take work from its queue right now.
func (o *Orchestrator) ready(b *backend) bool {
	if !b.impl.IsReady() {
		slog.Info("backend_not_ready", slog.String("backend", b.id))
		return false
	}
	if err := b.impl.Ping(o.ctx); err != nil {
		slog.Warn("backend_ping_failed", slog.String("backend", b.id), slog.String("error", err.Error()))
		return false
	}
	if !b.queue.IsReady(o.ctx) {
		slog.Warn("queue_not_ready", slog.String("backend", b.id))
		return false
	}
	return true
}

// grab polls b's queue and hands each batch to a processor goroutine, with
// at most max_outstanding_processors batches in flight across all backends.
func (o *Orchestrator) grab(b *backend) {
	slog.Info("grabber_started", slog.String("backend", b.id))
	defer slog.Info("grabber_stopped", slog.String("backend", b.id))

	delay := every(o.cfg.GrabberDelay, time.Millisecond)
	for o.sleep(delay) {
		if !o.ready(b) {
			if !o.sleep(notReadyDelay) {
				return
			}
			continue
		}
		if err := o.sem.Acquire(o.ctx, 1); err != nil {
			return
		}
		tasks, err := b.queue.Poll(o.ctx, b.batchSize(), pollTimeout)
		if err != nil || len(tasks) == 0 {
			o.sem.Release(1)
			if err != nil && o.ctx.Err() == nil {
				slog.Warn("queue_poll_failed", slog.String("backend", b.id), slog.String("error", err.Error()))
				o.sleep(notReadyDelay)
			}
			continue
		}

		// Counted before spawn so Close never sees a polled batch as idle.
		o.outstanding.Add(1)
		ProcessorsOutstanding.Inc()
		o.spawn(func() {
			defer func() {
				o.outstanding.Add(-1)
				ProcessorsOutstanding.Dec()
				o.sem.Release(1)
			}()
			// In-flight batches finish during shutdown.
			o.process(context.WithoutCancel(o.ctx), b, tasks)
		})
	}
}

// process applies one polled batch to b. Tasks whose work fails stay leased
// so the recycler hands them out again.
func (o *Orchestrator) process(ctx context.Context, b *backend, tasks []queue.Task) {
	start := time.Now()
	defer func() {
		ProcessDuration.WithLabelValues(b.id).Observe(time.Since(start).Seconds())
	}()
	slog.Debug("tasks_processing", slog.String("backend", b.id), slog.Int("tasks", len(tasks)))

	var flushes, unknown []queue.Task
	pending := make(map[string][]queue.Task, len(tasks))
	keys := make([]event.Key, 0, len(tasks))
	for _, t := range tasks {
		switch t.Op {
		case queue.OpFlush:
			flushes = append(flushes, t)
		case queue.OpIndexEvent:
			if _, seen := pending[t.UUID]; !seen {
				keys = append(keys, event.Key{UUID: t.UUID, LastSeen: t.LastSeen})
			}
			pending[t.UUID] = append(pending[t.UUID], t)
		default:
			unknown = append(unknown, t)
		}
	}

	if len(unknown) > 0 {
		slog.Error("task_op_unexpected", slog.String("backend", b.id), slog.String("task", unknown[0].String()))
		o.complete(ctx, b, unknown, string(queue.OpUnknown))
	}

	applied := false
	if len(keys) > 0 {
		var err error
		if applied, err = o.indexPending(ctx, b, keys, pending); err != nil {
			slog.Warn("events_lookup_failed",
				slog.String("backend", b.id),
				slog.Int("events", len(keys)),
				slog.String("error", err.Error()))
			return
		}
	}

	if len(flushes) > 0 || applied {
		if err := b.impl.Flush(ctx); err != nil {
			slog.Warn("backend_flush_failed", slog.String("backend", b.id), slog.String("error", err.Error()))
			return
		}
		o.complete(ctx, b, flushes, string(queue.OpFlush))
	}
}

// indexPending resolves keys against the event store, indexes what it finds
// and deletes what it does not. It reports whether any work reached the
// backend. Only a failed lookup is returned; backend failures are logged and
// leave their tasks leased.
func (o *Orchestrator) indexPending(ctx context.Context, b *backend, keys []event.Key, pending map[string][]queue.Task) (bool, error) {
	events, err := o.events.FindByKeys(ctx, keys)
	if err != nil {
		return false, err
	}
	if len(events) != len(keys) {
		slog.Info("events_found", slog.String("backend", b.id), slog.Int("found", len(events)), slog.Int("requested", len(keys)))
	}

	if len(events) > 0 {
		if err := b.impl.IndexMany(ctx, events); err != nil {
			slog.Warn("backend_index_failed",
				slog.String("backend", b.id),
				slog.Int("events", len(events)),
				slog.String("error", err.Error()))
			return false, nil
		}
	}
	applied := len(events) > 0
	done := make([]queue.Task, 0, len(pending))
	for _, e := range events {
		done = append(done, pending[e.UUID]...)
		delete(pending, e.UUID)
	}
	o.complete(ctx, b, done, string(queue.OpIndexEvent))

	if len(pending) == 0 {
		return applied, nil
	}
	missing := make([]string, 0, len(pending))
	gone := make([]queue.Task, 0, len(pending))
	for uuid, ts := range pending {
		missing = append(missing, uuid)
		gone = append(gone, ts...)
	}
	if b.cfg.HonorDeletes {
		slog.Debug("events_removed", slog.String("backend", b.id), slog.Int("events", len(missing)))
		if err := b.impl.DeleteMany(ctx, missing); err != nil {
			slog.Warn("backend_delete_failed",
				slog.String("backend", b.id),
				slog.Int("events", len(missing)),
				slog.String("error", err.Error()))
			return applied, nil
		}
		applied = true
	}
	o.complete(ctx, b, gone, string(queue.OpIndexEvent))
	return applied, nil
}

func (o *Orchestrator) complete(ctx context.Context, b *backend, tasks []queue.Task, op string) {
	if len(tasks) == 0 {
		return
	}
	if err := b.queue.CompleteAll(ctx, tasks); err != nil {
		slog.Warn("queue_complete_failed", slog.String("backend", b.id), slog.String("error", err.Error()))
		return
	}
	TasksProcessed.WithLabelValues(b.id, op).Add(float64(len(tasks)))
}

// recycle returns long-leased tasks to their queues.
func (o *Orchestrator) recycle() {
	period := every(o.cfg.RequeuePeriod, time.Second)
	for o.sleep(period) {
		o.requeueAll()
	}
}

func (o *Orchestrator) requeueAll() {
	for _, b := range o.order {
		if b.queue == nil {
			continue
		}
		if _, err := b.queue.RequeueOldTasks(o.ctx); err != nil && o.ctx.Err() == nil {
			slog.Warn("queue_requeue_failed", slog.String("backend", b.id), slog.String("error", err.Error()))
		}
	}
}

// logStatusPeriodically reports each unfinished rebuild and refreshes the
// queue and progress gauges.
func (o *Orchestrator) logStatusPeriodically() {
	o.logStatus()
	for o.sleep(statusPeriod) {
		o.logStatus()
	}
}

func (o *Orchestrator) logStatus() {
	for _, st := range o.Status(o.ctx) {
		QueueLength.WithLabelValues(st.ID).Set(float64(st.QueueLength))
		RebuildProgress.WithLabelValues(st.ID).Set(float64(st.RebuildPercent))
		if !st.Rebuilding {
			continue
		}
		attrs := []any{
			slog.String("backend", st.ID),
			slog.Int("percent", st.RebuildPercent),
			slog.Int64("indexed", st.RebuildIndexed),
			slog.Int("queue_length", st.QueueLength),
			slog.Int64("docs", st.Docs),
		}
		if st.RebuildETA != nil {
			attrs = append(attrs, slog.Time("eta", *st.RebuildETA))
		}
		slog.Info("rebuild_progress", attrs...)
	}
}
