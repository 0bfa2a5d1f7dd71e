// Package savedsearch keeps open search cursors alive between page requests
// and closes them once they sit idle past their timeout.
package savedsearch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
)

// MinTimeout is the shortest idle timeout accepted by Create.
const MinTimeout = time.Second

// ErrInvalidTimeout is returned by Create for a timeout under MinTimeout.
var ErrInvalidTimeout = zerrors.New(zerrors.ErrCodeInvalidTimeout, "saved search timeout must be at least 1s", nil)

// ErrNotFound is returned for an unknown or expired saved search.
var ErrNotFound = zerrors.New(zerrors.ErrCodeSavedSearchNotFound, "saved search not found", nil)

// Cursor is the backend-specific handle a saved search pages through.
type Cursor = io.Closer

type handle struct {
	id        string
	backendID string
	timeout   time.Duration

	// mu guards everything below. The cursor is closed once the handle is
	// removed and no Use is running.
	mu      sync.Mutex
	cursor  Cursor
	timer   *time.Timer
	users   int
	removed bool
	once    sync.Once
}

func (h *handle) close() {
	h.once.Do(func() {
		if h.cursor == nil {
			return
		}
		if err := h.cursor.Close(); err != nil {
			slog.Warn("saved_search_close_failed",
				slog.String("id", h.id),
				slog.String("backend", h.backendID),
				slog.String("error", err.Error()))
		}
	})
}

// Registry owns every open saved search.
type Registry struct {
	searches *xsync.MapOf[string, *handle]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{searches: xsync.NewMapOf[string, *handle]()}
}

// Create opens a cursor and registers it under a new id. The search is
// closed after timeout without use.
func (r *Registry) Create(ctx context.Context, backendID string, timeout time.Duration, open func(context.Context) (Cursor, error)) (string, error) {
	if timeout < MinTimeout {
		return "", ErrInvalidTimeout
	}
	h := &handle{id: uuid.NewString(), backendID: backendID, timeout: timeout}
	r.searches.Store(h.id, h)

	cursor, err := open(ctx)
	if err != nil {
		r.remove(h)
		return "", err
	}
	h.mu.Lock()
	h.cursor = cursor
	h.mu.Unlock()
	r.arm(h)
	return h.id, nil
}

// Use runs fn with the search's cursor. The idle timer is paused while fn
// runs and restarted when it returns. A search removed while fn runs is
// closed when fn returns.
func (r *Registry) Use(id string, fn func(Cursor) error) error {
	h, ok := r.searches.Load(id)
	if !ok {
		return zerrors.Newf(zerrors.ErrCodeSavedSearchNotFound, "saved search not found: %s", id)
	}
	h.mu.Lock()
	if h.removed || h.cursor == nil {
		h.mu.Unlock()
		return zerrors.Newf(zerrors.ErrCodeSavedSearchNotFound, "saved search not found: %s", id)
	}
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.users++
	cursor := h.cursor
	h.mu.Unlock()
	defer r.release(h)

	return fn(cursor)
}

func (r *Registry) release(h *handle) {
	h.mu.Lock()
	h.users--
	idle, removed := h.users == 0, h.removed
	h.mu.Unlock()
	switch {
	case removed && idle:
		h.close()
	case idle:
		r.arm(h)
	}
}

func (r *Registry) arm(h *handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if h.removed || h.users > 0 {
		return
	}
	h.timer = time.AfterFunc(h.timeout, func() { r.expire(h) })
}

// expire removes h unless a Use began after its timer fired.
func (r *Registry) expire(h *handle) {
	h.mu.Lock()
	busy := h.users > 0 || h.removed
	h.mu.Unlock()
	if busy {
		return
	}
	slog.Debug("saved_search_expired",
		slog.String("id", h.id),
		slog.String("backend", h.backendID))
	r.remove(h)
}

func (r *Registry) remove(h *handle) {
	r.searches.Compute(h.id, func(cur *handle, loaded bool) (*handle, bool) {
		return cur, !loaded || cur == h
	})
	h.mu.Lock()
	h.removed = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	busy := h.users > 0
	h.mu.Unlock()
	if !busy {
		h.close()
	}
}

// Close closes and forgets the search. It returns ErrNotFound for an unknown id.
func (r *Registry) Close(id string) error {
	h, ok := r.searches.Load(id)
	if !ok {
		return zerrors.Newf(zerrors.ErrCodeSavedSearchNotFound, "saved search not found: %s", id)
	}
	r.remove(h)
	return nil
}

// CloseAll closes every search, including ones created while it runs.
func (r *Registry) CloseAll() {
	for r.searches.Size() > 0 {
		r.searches.Range(func(_ string, h *handle) bool {
			r.remove(h)
			return true
		})
	}
}

// IDs lists the open searches.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, r.searches.Size())
	r.searches.Range(func(id string, _ *handle) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// BackendID reports which backend owns the search.
func (r *Registry) BackendID(id string) (string, bool) {
	h, ok := r.searches.Load(id)
	if !ok {
		return "", false
	}
	return h.backendID, true
}
