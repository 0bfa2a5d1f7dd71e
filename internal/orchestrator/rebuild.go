package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zenoss/zenoss-zep-sub000/internal/queue"
	"github.com/zenoss/zenoss-zep-sub000/internal/rebuild"
)

type rebuilder struct {
	id       string
	cancel   context.CancelFunc
	done     chan struct{}
	expected atomic.Pointer[int64]
}

func (r *rebuilder) stop() {
	r.cancel()
	<-r.done
}

func (r *rebuilder) running() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// CheckRebuilds inspects every backend with the rebuilder enabled and starts
// or resumes a rebuild where one is needed.
func (o *Orchestrator) CheckRebuilds(ctx context.Context) {
	for _, b := range o.order {
		if !b.cfg.EnableRebuilder {
			continue
		}
		if err := o.checkRebuild(ctx, b); err != nil {
			slog.Warn("rebuild_check_failed", slog.String("backend", b.id), slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) checkRebuildsPeriodically() {
	interval := every(o.rebuildCfg.CheckInterval, time.Minute)
	for o.sleep(interval) {
		o.CheckRebuilds(o.ctx)
	}
}

func (o *Orchestrator) checkRebuild(ctx context.Context, b *backend) error {
	if r, ok := o.rebuilders.Load(b.id); ok && r.running() {
		return nil
	}

	state, err := o.states.Load(b.id)
	if err != nil {
		return err
	}
	if state != nil && !state.Done() {
		if state.IndexVersion == IndexVersion && state.ConfigHash == o.hash {
			slog.Info("rebuild_resuming",
				slog.String("backend", b.id),
				slog.Int64("indexed", state.Indexed),
				slog.Int64("through_time", state.ThroughTime))
			o.startRebuilder(b, state)
			return nil
		}
		return o.reset(ctx, b, "unfinished rebuild for an older layout")
	}

	reason, err := o.staleReason(ctx, b)
	if err != nil || reason == "" {
		return err
	}
	return o.reset(ctx, b, reason)
}

// staleReason explains why b must be rebuilt, or returns "" if it need not be.
func (o *Orchestrator) staleReason(ctx context.Context, b *backend) (string, error) {
	meta, err := o.events.FindIndexMetadata(ctx, o.metadataName(b.id))
	if err != nil {
		return "", err
	}
	switch {
	case meta == nil:
		return "no index metadata", nil
	case meta.Version != IndexVersion:
		return fmt.Sprintf("index version changed: previous=%d, new=%d", meta.Version, IndexVersion), nil
	case meta.Hash != o.hash:
		return "indexed details changed", nil
	}

	n, err := b.impl.Count(ctx)
	if err != nil {
		return "", err
	}
	if n > 0 {
		return "", nil
	}
	// An empty index only needs rebuilding if there is something to put in it.
	total, err := o.events.EstimateSize(ctx)
	if err != nil {
		return "", err
	}
	if total > 0 {
		return "index is empty", nil
	}
	return "", nil
}

// ForceRebuild rebuilds backend id from scratch, whatever its state.
func (o *Orchestrator) ForceRebuild(ctx context.Context, id string) error {
	if err := o.closed(); err != nil {
		return err
	}
	b, err := o.lookup(id)
	if err != nil {
		return err
	}
	return o.reset(ctx, b, "forced")
}

// reset clears b (when it honors deletes), records a new rebuild run and
// starts the rebuilder for it.
func (o *Orchestrator) reset(ctx context.Context, b *backend, reason string) error {
	slog.Info("rebuild_required", slog.String("backend", b.id), slog.String("reason", reason))
	o.stopRebuilder(b.id)

	if b.cfg.HonorDeletes {
		if err := b.impl.Clear(ctx); err != nil {
			return err
		}
	}

	now := o.now()
	state := rebuild.Begin(IndexVersion, o.hash, now.UnixMilli(), now)
	if err := o.states.Save(b.id, state); err != nil {
		return err
	}
	if err := o.events.UpdateIndexVersion(ctx, o.metadataName(b.id), IndexVersion, o.hash); err != nil {
		return err
	}
	o.startRebuilder(b, &state)
	return nil
}

func (o *Orchestrator) stopRebuilder(id string) {
	if r, ok := o.rebuilders.LoadAndDelete(id); ok {
		r.stop()
	}
}

// startRebuilder replaces any rebuilder for b. When the run has no expected
// total yet it is estimated in the background and recorded with the next
// saved batch.
func (o *Orchestrator) startRebuilder(b *backend, state *rebuild.State) {
	if o.shuttingDown.Load() {
		return
	}
	ctx, cancel := context.WithCancel(o.ctx)
	r := &rebuilder{id: b.id, cancel: cancel, done: make(chan struct{})}
	if old, loaded := o.rebuilders.LoadAndStore(b.id, r); loaded {
		old.stop()
	}

	if state.Expected == nil {
		o.spawn(func() {
			total, err := o.events.EstimateSize(ctx)
			if err != nil {
				slog.Warn("rebuild_estimate_failed", slog.String("backend", b.id), slog.String("error", err.Error()))
				return
			}
			r.expected.Store(&total)
		})
	}
	o.spawn(func() {
		defer close(r.done)
		defer cancel()
		o.runRebuild(ctx, b, r)
	})
}

func (o *Orchestrator) runRebuild(ctx context.Context, b *backend, r *rebuilder) {
	slog.Info("rebuild_started", slog.String("backend", b.id))
	delay := every(o.rebuildCfg.BatchDelay, time.Millisecond)

	var state *rebuild.State
	for {
		if !sleepCtx(ctx, delay) {
			return
		}
		if !b.impl.IsReady() || (b.async() && !b.queue.IsReady(ctx)) {
			slog.Info("rebuild_waiting", slog.String("backend", b.id))
			if !sleepCtx(ctx, notReadyDelay) {
				return
			}
			continue
		}

		if state == nil {
			s, err := o.states.Load(b.id)
			if err != nil {
				slog.Warn("rebuild_state_load_failed", slog.String("backend", b.id), slog.String("error", err.Error()))
				continue
			}
			if s == nil || s.Done() {
				slog.Info("rebuild_stopped", slog.String("backend", b.id))
				return
			}
			state = s
		}

		next, finished, err := o.rebuildBatch(ctx, b, *state)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("rebuild_batch_failed", slog.String("backend", b.id), slog.String("error", err.Error()))
			if !sleepCtx(ctx, notReadyDelay) {
				return
			}
			continue
		}
		if total := r.expected.Load(); total != nil && next.Expected == nil {
			next = rebuild.SetExpected(next, *total)
		}

		if err := o.states.Replace(b.id, *state, next); err != nil {
			if errors.Is(err, rebuild.ErrStateSuperseded) {
				slog.Info("rebuild_superseded", slog.String("backend", b.id))
				state = nil
				continue
			}
			slog.Warn("rebuild_state_save_failed", slog.String("backend", b.id), slog.String("error", err.Error()))
			continue
		}
		state = &next
		RebuildProgress.WithLabelValues(b.id).Set(float64(next.PercentComplete()))

		if finished {
			slog.Info("rebuild_finished",
				slog.String("backend", b.id),
				slog.Int64("indexed", next.Indexed),
				slog.Duration("elapsed", next.Updated.Sub(next.Began)))
			return
		}
	}
}

// rebuildBatch pushes the next batch of the run through b's write path and
// returns the state to record. finished is true once the scan is exhausted.
func (o *Orchestrator) rebuildBatch(ctx context.Context, b *backend, s rebuild.State) (next rebuild.State, finished bool, err error) {
	batch, err := o.events.ListBatch(ctx, s.Next, s.ThroughTime, b.batchSize(), b.async())
	if err != nil {
		return s, false, err
	}

	if batch.Len() == 0 {
		if err := o.submit(ctx, b, []queue.Task{queue.FlushTask()}, b.impl.Flush); err != nil {
			return s, false, err
		}
		return rebuild.End(s, 0, o.now()), true, nil
	}

	tasks := make([]queue.Task, len(batch.Keys))
	for i, k := range batch.Keys {
		tasks[i] = queue.IndexTask(k.UUID, k.LastSeen)
	}
	err = o.submit(ctx, b, tasks, func(ctx context.Context) error {
		events := batch.Events
		if events == nil {
			found, err := o.events.FindByKeys(ctx, batch.Keys)
			if err != nil {
				return err
			}
			events = found
		}
		return b.impl.IndexMany(ctx, events)
	})
	if err != nil {
		return s, false, err
	}
	return rebuild.Update(s, int64(batch.Len()), batch.Next, o.now()), false, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
