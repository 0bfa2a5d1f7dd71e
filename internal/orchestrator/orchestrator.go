// Package orchestrator fans index writes out to every configured backend and
// serves reads from the enabled one. Asynchronous backends are fed through
// their work queues by background grabbers, and backends whose index is
// stale are rebuilt from the event store in batches.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/eventstore"
	"github.com/zenoss/zenoss-zep-sub000/internal/query"
	"github.com/zenoss/zenoss-zep-sub000/internal/queue"
	"github.com/zenoss/zenoss-zep-sub000/internal/rebuild"
	"github.com/zenoss/zenoss-zep-sub000/internal/store"
)

// IndexVersion is recorded in the index metadata of every rebuilt backend.
const IndexVersion = query.IndexVersion

const (
	// notReadyDelay is how long a grabber waits for an unavailable backend or queue.
	notReadyDelay = time.Second
	pollTimeout   = 500 * time.Millisecond
	drainPoll     = 10 * time.Millisecond
	statusPeriod  = time.Minute
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// EventStore is the part of the canonical store the orchestrator reads.
type EventStore interface {
	FindByKeys(ctx context.Context, keys []event.Key) ([]*event.Summary, error)
	ListBatch(ctx context.Context, cursor event.Watermark, throughTime int64, limit int, keysOnly bool) (eventstore.Batch, error)
	EstimateSize(ctx context.Context) (int64, error)
	FindIndexMetadata(ctx context.Context, name string) (*eventstore.IndexMetadata, error)
	UpdateIndexVersion(ctx context.Context, name string, version int, hash string) error
	Close() error
}

var _ EventStore = (*eventstore.Store)(nil)

// BackendSpec pairs a backend's configuration with its opened implementation.
type BackendSpec struct {
	Config  config.BackendConfig
	Backend store.Backend
	// Queue is required when Config.AsyncUpdates is set.
	Queue *queue.WorkQueue
}

type backend struct {
	id      string
	cfg     config.BackendConfig
	impl    store.Backend
	queue   *queue.WorkQueue
	breaker *zerrors.CircuitBreaker
}

func (b *backend) async() bool {
	return b.cfg.AsyncUpdates && b.queue != nil
}

func (b *backend) batchSize() int {
	if b.cfg.BatchSize > 0 {
		return b.cfg.BatchSize
	}
	return config.DefaultBatchSize
}

// Orchestrator owns the configured backends. Its configuration is fixed at
// construction.
type Orchestrator struct {
	name       string
	cfg        config.OrchestratorConfig
	rebuildCfg config.RebuildConfig
	events     EventStore
	states     *rebuild.FileStore
	hash       string

	// order keeps configuration order for fan-out and status output.
	order      []*backend
	backends   *xsync.MapOf[string, *backend]
	reader     *backend
	rebuilders *xsync.MapOf[string, *rebuilder]

	sem          *semaphore.Weighted
	outstanding  atomic.Int64
	shuttingDown atomic.Bool
	started      atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error

	now func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithStateStore sets where rebuild progress is kept, overriding
// rebuild.state_dir.
func WithStateStore(s *rebuild.FileStore) Option {
	return func(o *Orchestrator) { o.states = s }
}

// New validates specs and builds an orchestrator. DISABLED backends are
// dropped; the caller keeps ownership of them. Every other backend, its queue
// and the event store are closed by Close.
func New(cfg *config.Config, events EventStore, specs []BackendSpec, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		name:       cfg.Orchestrator.Name,
		cfg:        cfg.Orchestrator,
		rebuildCfg: cfg.Rebuild,
		events:     events,
		hash:       ConfigHash(cfg.IndexedDetails),
		backends:   xsync.NewMapOf[string, *backend](),
		rebuilders: xsync.NewMapOf[string, *rebuilder](),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.MaxOutstandingProcessors < 1 {
		o.cfg.MaxOutstandingProcessors = 1
	}
	o.sem = semaphore.NewWeighted(int64(o.cfg.MaxOutstandingProcessors))
	o.ctx, o.cancel = context.WithCancel(context.Background())

	if err := o.register(cfg.Queue, specs); err != nil {
		o.cancel()
		return nil, err
	}

	if o.states == nil {
		if cfg.Rebuild.StateDir == "" {
			o.cancel()
			return nil, zerrors.ConfigError("rebuild.state_dir is required", nil)
		}
		states, err := rebuild.NewFileStore(cfg.Rebuild.StateDir)
		if err != nil {
			o.cancel()
			return nil, err
		}
		o.states = states
	}
	return o, nil
}

func (o *Orchestrator) register(qcfg config.QueueConfig, specs []BackendSpec) error {
	owners := make(map[store.Backend]string, len(specs))
	for _, spec := range specs {
		id := spec.Config.ID
		if !validID.MatchString(id) {
			return zerrors.New(zerrors.ErrCodeInvalidBackendID,
				fmt.Sprintf("invalid backend id %q", id), nil).
				WithSuggestion("Backend ids may only contain letters, digits, '_', '-' and '.'")
		}
		if _, dup := o.backends.Load(id); dup {
			return zerrors.New(zerrors.ErrCodeDuplicateBackend,
				fmt.Sprintf("backend '%s' is configured twice", id), nil)
		}
		if spec.Backend == nil {
			return zerrors.ConfigError(fmt.Sprintf("unknown backend (%s) for %s", id, o.name), nil)
		}
		if prev, ok := owners[spec.Backend]; ok {
			return zerrors.New(zerrors.ErrCodeBackendRegisteredTwice,
				fmt.Sprintf("the backend (%s) has already been registered with a different ID: %s", id, prev), nil)
		}
		owners[spec.Backend] = id

		status := spec.Config.Status
		switch status {
		case config.StatusDisabled:
			slog.Info("backend_disabled", slog.String("backend", id))
			continue
		case config.StatusEnabled, config.StatusStandby:
		default:
			return zerrors.ConfigError(fmt.Sprintf("backend '%s': unknown status %q", id, status), nil)
		}
		if spec.Config.AsyncUpdates && spec.Queue == nil {
			return zerrors.ConfigError(fmt.Sprintf("backend '%s': async_updates requires a work queue", id), nil)
		}

		b := &backend{
			id:    id,
			cfg:   spec.Config,
			impl:  spec.Backend,
			queue: spec.Queue,
			breaker: zerrors.NewCircuitBreaker("queue:"+id,
				zerrors.WithMaxFailures(max(qcfg.BreakerFailures, 1)),
				zerrors.WithResetTimeout(qcfg.BreakerReset)),
		}
		if !b.cfg.AsyncUpdates {
			b.queue = nil
		}
		if status == config.StatusEnabled {
			if o.reader != nil {
				return zerrors.ConfigError(fmt.Sprintf(
					"backends '%s' and '%s' are both ENABLED; exactly one may serve reads", o.reader.id, id), nil)
			}
			o.reader = b
		}
		o.backends.Store(id, b)
		o.order = append(o.order, b)
	}

	if o.reader == nil {
		return zerrors.New(zerrors.ErrCodeNoEnabledBackend,
			fmt.Sprintf("no ENABLED backend configured for %s", o.name), nil).
			WithSuggestion("Set status: ENABLED on exactly one backend")
	}
	return nil
}

// Name is the orchestrator name, used as the index metadata prefix.
func (o *Orchestrator) Name() string { return o.name }

// ReaderID is the id of the backend serving reads.
func (o *Orchestrator) ReaderID() string { return o.reader.id }

// BackendIDs lists the active backends in configuration order.
func (o *Orchestrator) BackendIDs() []string {
	ids := make([]string, len(o.order))
	for i, b := range o.order {
		ids[i] = b.id
	}
	return ids
}

// ConfigHash is the fingerprint of the indexed details in effect.
func (o *Orchestrator) ConfigHash() string { return o.hash }

// metadataName is the index_metadata key for a backend.
func (o *Orchestrator) metadataName(id string) string {
	return o.name + ":" + id
}

// Start launches the background workers: a grabber per async backend, the
// recycler, the rebuild checker and the status logger. It runs one rebuild
// check synchronously first.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.shuttingDown.Load() {
		return zerrors.New(zerrors.ErrCodeBackendUnavailable, "orchestrator is closed", nil)
	}
	if !o.started.CompareAndSwap(false, true) {
		return nil
	}

	o.CheckRebuilds(ctx)

	for _, b := range o.order {
		if b.async() {
			o.spawn(func() { o.grab(b) })
		}
	}
	o.spawn(o.recycle)
	o.spawn(o.checkRebuildsPeriodically)
	o.spawn(o.logStatusPeriodically)

	slog.Info("orchestrator_started",
		slog.String("name", o.name),
		slog.String("reader", o.reader.id),
		slog.Int("backends", len(o.order)))
	return nil
}

func (o *Orchestrator) spawn(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}

// Close stops the workers, waits up to drain_timeout for in-flight task
// processors, and closes every backend, queue and the event store.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.shuttingDown.Store(true)
		o.cancel()
		o.rebuilders.Range(func(id string, r *rebuilder) bool {
			r.stop()
			return true
		})

		deadline := time.Now().Add(o.cfg.DrainTimeout)
		for o.outstanding.Load() > 0 && time.Now().Before(deadline) {
			time.Sleep(drainPoll)
		}
		if n := o.outstanding.Load(); n > 0 {
			slog.Warn("orchestrator_drain_timeout", slog.Int64("outstanding", n))
		} else {
			o.wg.Wait()
		}

		var errs []error
		for _, b := range o.order {
			b.impl.CloseSavedSearches()
			if err := b.impl.Close(); err != nil {
				slog.Warn("backend_close_failed", slog.String("backend", b.id), slog.String("error", err.Error()))
				errs = append(errs, err)
			}
			if b.queue != nil {
				if err := b.queue.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}
		if o.events != nil {
			if err := o.events.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			o.closeErr = errs[0]
		}
		slog.Info("orchestrator_closed", slog.String("name", o.name))
	})
	return o.closeErr
}

// NumDocs is the document count of the reading backend.
func (o *Orchestrator) NumDocs(ctx context.Context) (int64, error) {
	return o.reader.impl.Count(ctx)
}

// Size is the on-disk size of the reading backend.
func (o *Orchestrator) Size(ctx context.Context) (int64, error) {
	return o.reader.impl.SizeInBytes(ctx)
}

// BackendStatus is one backend's entry in Status.
type BackendStatus struct {
	ID           string `json:"id"`
	Type         string `json:"type,omitempty"`
	Status       string `json:"status"`
	Async        bool   `json:"async_updates"`
	HonorDeletes bool   `json:"honor_deletes"`
	Ready        bool   `json:"ready"`
	Docs         int64  `json:"docs"`
	QueueLength  int    `json:"queue_length"`
	Breaker      string `json:"queue_breaker,omitempty"`

	Rebuilding      bool       `json:"rebuilding"`
	RebuildPercent  int        `json:"rebuild_percent"`
	RebuildIndexed  int64      `json:"rebuild_indexed"`
	RebuildExpected *int64     `json:"rebuild_expected,omitempty"`
	RebuildETA      *time.Time `json:"rebuild_eta,omitempty"`
}

// Status reports every active backend. Failures to read a figure leave it
// zero rather than failing the report.
func (o *Orchestrator) Status(ctx context.Context) []BackendStatus {
	out := make([]BackendStatus, 0, len(o.order))
	for _, b := range o.order {
		st := BackendStatus{
			ID:           b.id,
			Type:         b.cfg.Type,
			Status:       b.cfg.Status,
			Async:        b.async(),
			HonorDeletes: b.cfg.HonorDeletes,
			Ready:        b.impl.IsReady(),
		}
		if n, err := b.impl.Count(ctx); err == nil {
			st.Docs = n
		}
		if b.queue != nil {
			if n, err := b.queue.Size(ctx); err == nil {
				st.QueueLength = n
			}
			st.Breaker = b.breaker.State().String()
		}
		if s, err := o.states.Load(b.id); err == nil && s != nil {
			st.Rebuilding = !s.Done()
			st.RebuildPercent = s.PercentComplete()
			st.RebuildIndexed = s.Indexed
			st.RebuildExpected = s.Expected
			if eta, ok := s.ETA(); ok && !s.Done() {
				st.RebuildETA = &eta
			}
		}
		out = append(out, st)
	}
	return out
}

func (o *Orchestrator) lookup(id string) (*backend, error) {
	b, ok := o.backends.Load(id)
	if !ok {
		return nil, zerrors.New(zerrors.ErrCodeInvalidInput, fmt.Sprintf("unknown backend %q", id), nil)
	}
	return b, nil
}

func (o *Orchestrator) closed() error {
	if o.shuttingDown.Load() {
		return zerrors.New(zerrors.ErrCodeBackendUnavailable, "orchestrator is shutting down", nil)
	}
	return nil
}
