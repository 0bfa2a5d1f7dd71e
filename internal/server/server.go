// Package server exposes the orchestrator over HTTP.
//
// Every route lives under /api/v1 and speaks JSON. Failures are written as
// {code, message, ...} with the status derived from the error category.
// Prometheus metrics are served on a separate path.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/orchestrator"
	"github.com/zenoss/zenoss-zep-sub000/internal/query"
)

// Indexer is the orchestrator surface the API needs.
type Indexer interface {
	IndexMany(ctx context.Context, events []*event.Summary) error
	Delete(ctx context.Context, uuid string) error
	Commit(ctx context.Context) error
	Clear(ctx context.Context) error
	Purge(ctx context.Context, threshold time.Time) error

	FindByUUID(ctx context.Context, uuid string) (*event.Summary, error)
	List(ctx context.Context, req *event.Request) (*event.Result, error)
	ListUUIDs(ctx context.Context, req *event.Request) (*event.UUIDResult, error)
	TagSeverities(ctx context.Context, filter *query.Filter) ([]event.TagSeverities, error)

	CreateSavedSearch(ctx context.Context, req *event.Request, timeout time.Duration) (string, error)
	SavedSearch(ctx context.Context, id string, offset, limit int) (*event.Result, error)
	SavedSearchUUIDs(ctx context.Context, id string, offset, limit int) (*event.UUIDResult, error)
	DeleteSavedSearch(ctx context.Context, id string) error

	ForceRebuild(ctx context.Context, id string) error
	Name() string
	ReaderID() string
	Status(ctx context.Context) []orchestrator.BackendStatus
}

// EventWriter stores events in the canonical store ahead of indexing.
type EventWriter interface {
	Put(ctx context.Context, events []*event.Summary) error
}

var _ Indexer = (*orchestrator.Orchestrator)(nil)

// Server routes HTTP requests to an Indexer.
type Server struct {
	cfg      config.ServerConfig
	idx      Indexer
	events   EventWriter
	router   *mux.Router
	registry *prometheus.Registry
}

// New builds the router. collectors are registered alongside the Go runtime
// and process collectors.
func New(cfg config.ServerConfig, idx Indexer, events EventWriter, extra ...prometheus.Collector) (*Server, error) {
	reg := prometheus.NewRegistry()
	all := append([]prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}, extra...)
	for _, c := range all {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	s := &Server{cfg: cfg, idx: idx, events: events, registry: reg}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(logRequests)

	metricsPath := s.cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Handle(metricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/events", s.handleIndex).Methods(http.MethodPost)
	api.HandleFunc("/events/search", s.handleList).Methods(http.MethodPost)
	api.HandleFunc("/events/search/uuids", s.handleListUUIDs).Methods(http.MethodPost)
	api.HandleFunc("/events/{uuid}", s.handleFind).Methods(http.MethodGet)
	api.HandleFunc("/events/{uuid}", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/commit", s.handleCommit).Methods(http.MethodPost)
	api.HandleFunc("/clear", s.handleClear).Methods(http.MethodPost)
	api.HandleFunc("/purge", s.handlePurge).Methods(http.MethodPost)
	api.HandleFunc("/tags/severities", s.handleTagSeverities).Methods(http.MethodPost)
	api.HandleFunc("/saved-searches", s.handleCreateSavedSearch).Methods(http.MethodPost)
	api.HandleFunc("/saved-searches/{id}", s.handleSavedSearch).Methods(http.MethodGet)
	api.HandleFunc("/saved-searches/{id}", s.handleDeleteSavedSearch).Methods(http.MethodDelete)
	api.HandleFunc("/backends/{id}/rebuild", s.handleRebuild).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errNotFound("no route for "+r.URL.Path))
	})
	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	slog.Info("http_listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		level := slog.LevelDebug
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(start)))
	})
}
