package preflight

import (
	"context"
	"fmt"
	"strings"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
	"github.com/zenoss/zenoss-zep-sub000/internal/eventstore"
	"github.com/zenoss/zenoss-zep-sub000/internal/queue"
	"github.com/zenoss/zenoss-zep-sub000/internal/store"
)

// CheckEventStore opens the canonical store and estimates its size.
func (c *Checker) CheckEventStore(ctx context.Context, cfg *config.Config) CheckResult {
	const name = "event_store"
	es, err := eventstore.Open(cfg.Store.Path, cfg.Store.Driver, cfg.Orchestrator.Name)
	if err != nil {
		return fail(name, err.Error())
	}
	defer func() { _ = es.Close() }()

	n, err := es.EstimateSize(ctx)
	if err != nil {
		return fail(name, err.Error())
	}
	r := pass(name, fmt.Sprintf("%d events (%s)", n, cfg.Store.Driver))
	r.Details = cfg.Store.Path
	return r
}

// CheckQueue connects to the queue store. It is only required when some
// backend uses async updates.
func (c *Checker) CheckQueue(ctx context.Context, cfg *config.Config) CheckResult {
	const name = "queue"
	required := false
	for _, b := range cfg.Backends {
		if b.AsyncUpdates && b.Status != config.StatusDisabled {
			required = true
		}
	}

	f, err := queue.NewFactory(ctx, cfg.Queue)
	if err != nil {
		r := fail(name, fmt.Sprintf("%s: %v", cfg.Queue.Type, err))
		r.Required = required
		if !required {
			r.Status = StatusWarn
		}
		return r
	}
	_ = f.Close()
	r := pass(name, cfg.Queue.Type)
	r.Required = required
	return r
}

// CheckEnabledBackend requires exactly one ENABLED backend.
func (c *Checker) CheckEnabledBackend(cfg *config.Config) CheckResult {
	const name = "enabled_backend"
	var enabled []string
	for _, b := range cfg.Backends {
		if b.Status == config.StatusEnabled {
			enabled = append(enabled, b.ID)
		}
	}
	switch len(enabled) {
	case 0:
		return fail(name, "no backend is ENABLED")
	case 1:
		return pass(name, enabled[0])
	default:
		return fail(name, "more than one ENABLED backend: "+strings.Join(enabled, ", "))
	}
}

// CheckBackendLayouts warns when a backend's directory holds an index of a
// different type than configured.
func (c *Checker) CheckBackendLayouts(cfg *config.Config) []CheckResult {
	results := make([]CheckResult, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		name := "backend:" + b.ID
		if b.Status == config.StatusDisabled {
			results = append(results, pass(name, "DISABLED"))
			continue
		}
		existing := store.DetectType(b.Path)
		switch {
		case existing == "":
			results = append(results, pass(name, fmt.Sprintf("%s %s (new)", b.Status, b.Type)))
		case existing != b.Type:
			r := pass(name, fmt.Sprintf("configured as %s but %s holds a %s index", b.Type, b.Path, existing))
			r.Status = StatusWarn
			r.Details = "The backend will be rebuilt from the event store"
			results = append(results, r)
		default:
			results = append(results, pass(name, fmt.Sprintf("%s %s", b.Status, b.Type)))
		}
	}
	return results
}
