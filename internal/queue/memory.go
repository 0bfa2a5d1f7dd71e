package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/emirpasic/gods/lists/doublylinkedlist"
	"github.com/emirpasic/gods/trees/redblacktree"
)

// lease orders leased tasks by age so Requeue can stop at the first young one.
type lease struct {
	at   time.Time
	task string
}

func leaseComparator(a, b interface{}) int {
	la, lb := a.(lease), b.(lease)
	switch {
	case la.at.Before(lb.at):
		return -1
	case la.at.After(lb.at):
		return 1
	default:
		return strings.Compare(la.task, lb.task)
	}
}

// MemoryStore keeps the queue in process. It is safe for concurrent use but
// is not shared between processes.
type MemoryStore struct {
	mu      sync.Mutex
	fifo    *doublylinkedlist.List
	queued  map[string]struct{}
	leased  map[string]time.Time
	byLease *redblacktree.Tree
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		fifo:    doublylinkedlist.New(),
		queued:  make(map[string]struct{}),
		leased:  make(map[string]time.Time),
		byLease: redblacktree.NewWith(leaseComparator),
	}
}

func (m *MemoryStore) Push(_ context.Context, tasks []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := 0
	for _, t := range tasks {
		if m.present(t) {
			continue
		}
		m.enqueue(t)
		added++
	}
	return added, nil
}

func (m *MemoryStore) present(t string) bool {
	if _, ok := m.queued[t]; ok {
		return true
	}
	_, ok := m.leased[t]
	return ok
}

func (m *MemoryStore) enqueue(t string) {
	m.queued[t] = struct{}{}
	m.fifo.Add(t)
}

func (m *MemoryStore) Lease(_ context.Context, max int, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := min(max, m.fifo.Size())
	out := make([]string, 0, n)
	for range n {
		v, _ := m.fifo.Get(0)
		m.fifo.Remove(0)
		t := v.(string)
		delete(m.queued, t)
		m.leased[t] = now
		m.byLease.Put(lease{at: now, task: t}, struct{}{})
		out = append(out, t)
	}
	return out, nil
}

func (m *MemoryStore) Complete(_ context.Context, tasks []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range tasks {
		m.release(t)
	}
	return nil
}

func (m *MemoryStore) release(t string) {
	at, ok := m.leased[t]
	if !ok {
		return
	}
	delete(m.leased, t)
	m.byLease.Remove(lease{at: at, task: t})
}

func (m *MemoryStore) Requeue(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []lease
	it := m.byLease.Iterator()
	for it.Next() {
		l := it.Key().(lease)
		if l.at.After(cutoff) {
			break
		}
		expired = append(expired, l)
	}
	for _, l := range expired {
		m.release(l.task)
		if _, ok := m.queued[l.task]; !ok {
			m.enqueue(l.task)
		}
	}
	return len(expired), nil
}

func (m *MemoryStore) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fifo.Size(), nil
}

// Leased is the number of tasks currently leased.
func (m *MemoryStore) Leased() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leased)
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fifo.Clear()
	m.byLease.Clear()
	m.queued = make(map[string]struct{})
	m.leased = make(map[string]time.Time)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
