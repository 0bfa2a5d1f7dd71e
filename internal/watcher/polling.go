package watcher

import (
	"context"
	"os"
	"time"
)

type fileSnapshot struct {
	exists  bool
	modTime time.Time
	size    int64
}

func snapshot(path string) fileSnapshot {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fileSnapshot{}
	}
	return fileSnapshot{exists: true, modTime: info.ModTime(), size: info.Size()}
}

// poller compares stats of a fixed file set on every tick.
type poller struct {
	interval time.Duration
	paths    []string
	state    map[string]fileSnapshot
}

func newPoller(interval time.Duration, paths []string) *poller {
	p := &poller{
		interval: interval,
		paths:    paths,
		state:    make(map[string]fileSnapshot, len(paths)),
	}
	for _, path := range paths {
		p.state[path] = snapshot(path)
	}
	return p
}

// run calls emit for every change until ctx or stop ends it.
func (p *poller) run(ctx context.Context, stop <-chan struct{}, emit func(FileEvent)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			for _, e := range p.changes(time.Now()) {
				emit(e)
			}
		}
	}
}

func (p *poller) changes(now time.Time) []FileEvent {
	var out []FileEvent
	for _, path := range p.paths {
		prev, cur := p.state[path], snapshot(path)
		p.state[path] = cur
		switch {
		case !prev.exists && cur.exists:
			out = append(out, FileEvent{Path: path, Operation: OpCreate, Timestamp: now})
		case prev.exists && !cur.exists:
			out = append(out, FileEvent{Path: path, Operation: OpDelete, Timestamp: now})
		case cur.exists && (prev.modTime != cur.modTime || prev.size != cur.size):
			out = append(out, FileEvent{Path: path, Operation: OpModify, Timestamp: now})
		}
	}
	return out
}
