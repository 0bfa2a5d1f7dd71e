package queue

import (
	"context"
	"time"
)

// Store is the shared state behind a WorkQueue. Tasks are opaque strings.
// Every method is atomic with respect to other callers of the same store.
type Store interface {
	// Push appends each task not already queued or leased and returns how
	// many were appended.
	Push(ctx context.Context, tasks []string) (int, error)

	// Lease moves up to max tasks from the front of the queue into the leased
	// set stamped with now, returning them in queue order.
	Lease(ctx context.Context, max int, now time.Time) ([]string, error)

	// Complete drops tasks from the leased set.
	Complete(ctx context.Context, tasks []string) error

	// Requeue moves tasks leased at or before cutoff back onto the queue,
	// skipping any already queued, and returns how many left the leased set.
	Requeue(ctx context.Context, cutoff time.Time) (int, error)

	// Len is the number of queued (not leased) tasks.
	Len(ctx context.Context) (int, error)

	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
