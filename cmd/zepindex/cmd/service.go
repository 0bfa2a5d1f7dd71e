package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
	"github.com/zenoss/zenoss-zep-sub000/internal/eventstore"
	"github.com/zenoss/zenoss-zep-sub000/internal/orchestrator"
	"github.com/zenoss/zenoss-zep-sub000/internal/queue"
	"github.com/zenoss/zenoss-zep-sub000/internal/store"
)

// service is everything a command needs to drive the orchestrator.
type service struct {
	cfg    *config.Config
	events *eventstore.Store
	queues *queue.Factory
	orch   *orchestrator.Orchestrator
}

// openService opens the event store, the queue connection and every
// non-DISABLED backend, then builds the orchestrator over them.
func openService(ctx context.Context, cfg *config.Config) (rt *service, err error) {
	rt = &service{cfg: cfg}
	var opened []store.Backend
	defer func() {
		if err == nil {
			return
		}
		for _, b := range opened {
			_ = b.Close()
		}
		if rt.queues != nil {
			_ = rt.queues.Close()
		}
		if rt.events != nil {
			_ = rt.events.Close()
		}
	}()

	rt.events, err = eventstore.Open(cfg.Store.Path, cfg.Store.Driver, cfg.Orchestrator.Name)
	if err != nil {
		return nil, err
	}
	rt.queues, err = queue.NewFactory(ctx, cfg.Queue)
	if err != nil {
		return nil, err
	}

	details := store.DetailsFromConfig(cfg.IndexedDetails)
	specs := make([]orchestrator.BackendSpec, 0, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		if bc.Status == config.StatusDisabled {
			slog.Info("backend_skipped", slog.String("backend", bc.ID), slog.String("status", bc.Status))
			continue
		}
		if existing := store.DetectType(bc.Path); existing != "" && existing != bc.Type {
			slog.Warn("backend_type_mismatch",
				slog.String("backend", bc.ID),
				slog.String("configured", bc.Type),
				slog.String("on_disk", existing))
		}
		idx, err := store.New(bc, details, cfg.Store.Driver)
		if err != nil {
			return nil, err
		}
		opened = append(opened, idx)

		spec := orchestrator.BackendSpec{Config: bc, Backend: idx}
		if bc.AsyncUpdates {
			spec.Queue = rt.queues.Open(bc.ID)
		}
		specs = append(specs, spec)
	}

	rt.orch, err = orchestrator.New(cfg, rt.events, specs)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// Close shuts the orchestrator down (closing backends, queues and the event
// store) and then the shared queue connection.
func (rt *service) Close() error {
	return errors.Join(rt.orch.Close(), rt.queues.Close())
}
