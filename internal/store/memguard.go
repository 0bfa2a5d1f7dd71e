package store

import (
	"errors"
	"strings"

	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
)

// ErrOutOfMemory is returned when a read would materialize more than the
// backend's result budget.
var ErrOutOfMemory = zerrors.New(zerrors.ErrCodeOutOfMemory, "result set exceeds the memory budget", nil).
	WithSuggestion("Narrow the filter, lower the page size or raise max_result_mb")

const (
	// eventBytes approximates the decoded size of one event summary.
	eventBytes = 4 << 10
	// uuidBytes approximates one uuid held by a saved search snapshot.
	uuidBytes = 64
)

// MemoryGuard rejects reads whose estimated footprint exceeds a budget.
// A zero budget disables the guard.
type MemoryGuard struct {
	maxBytes int64
}

// NewMemoryGuard returns a guard limited to maxMB megabytes.
func NewMemoryGuard(maxMB int) *MemoryGuard {
	return &MemoryGuard{maxBytes: int64(maxMB) << 20}
}

// Check returns ErrOutOfMemory if n items of itemBytes each do not fit.
func (g *MemoryGuard) Check(n int, itemBytes int64) error {
	if g == nil || g.maxBytes <= 0 || n <= 0 {
		return nil
	}
	if int64(n)*itemBytes > g.maxBytes {
		return zerrors.Newf(zerrors.ErrCodeOutOfMemory,
			"result of %d items exceeds the %d MB budget", n, g.maxBytes>>20).
			WithSuggestion("Narrow the filter, lower the page size or raise max_result_mb")
	}
	return nil
}

// isOutOfMemory recognizes memory exhaustion reported by the guard or by
// the SQLite engine.
func isOutOfMemory(err error) bool {
	if err == nil {
		return false
	}
	if zerrors.HasCode(err, zerrors.ErrCodeOutOfMemory) || errors.Is(err, ErrOutOfMemory) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "out of memory") || strings.Contains(msg, "sqlite_nomem")
}
