package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher follows a fixed set of files, using fsnotify on their parent
// directories with polling as a fallback.
type FileWatcher struct {
	opts      Options
	paths     map[string]bool
	ordered   []string
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	errors    chan error

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
}

// NewFileWatcher prepares a watcher for paths. Missing files are fine: their
// creation is reported.
func NewFileWatcher(paths []string, opts Options) (*FileWatcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to watch")
	}
	opts = opts.WithDefaults()
	w := &FileWatcher{
		opts:      opts,
		paths:     make(map[string]bool, len(paths)),
		debouncer: NewDebouncer(opts.DebounceWindow, opts.EventBufferSize),
		errors:    make(chan error, 8),
		stopCh:    make(chan struct{}),
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		if !w.paths[abs] {
			w.paths[abs] = true
			w.ordered = append(w.ordered, abs)
		}
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		} else {
			w.fsWatcher = fsw
		}
	}
	return w, nil
}

// Mode is "fsnotify" or "polling".
func (w *FileWatcher) Mode() string {
	if w.fsWatcher != nil {
		return "fsnotify"
	}
	return "polling"
}

// Paths returns the absolute paths being watched.
func (w *FileWatcher) Paths() []string {
	return append([]string(nil), w.ordered...)
}

// Start watches until ctx is done or Stop is called. Directories that cannot
// be watched with fsnotify switch the watcher to polling.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	if w.fsWatcher != nil {
		if err := w.addDirs(); err != nil {
			slog.Warn("fsnotify_add_failed", slog.String("error", err.Error()))
			w.mu.Lock()
			_ = w.fsWatcher.Close()
			w.fsWatcher = nil
			w.mu.Unlock()
		}
	}
	slog.Debug("watcher_started", slog.String("mode", w.Mode()), slog.Any("paths", w.ordered))

	if w.fsWatcher == nil {
		newPoller(w.opts.PollInterval, w.ordered).run(ctx, w.stopCh, w.debouncer.Add)
		return ctx.Err()
	}
	return w.loop(ctx)
}

func (w *FileWatcher) addDirs() error {
	seen := make(map[string]bool)
	for _, p := range w.ordered {
		dir := filepath.Dir(p)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := w.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return nil
}

func (w *FileWatcher) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if e, keep := w.convert(ev); keep {
				w.debouncer.Add(e)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *FileWatcher) convert(ev fsnotify.Event) (FileEvent, bool) {
	path := filepath.Clean(ev.Name)
	if !w.paths[path] {
		return FileEvent{}, false
	}
	e := FileEvent{Path: path, Timestamp: time.Now()}
	switch {
	case ev.Has(fsnotify.Create):
		e.Operation = OpCreate
	case ev.Has(fsnotify.Write):
		e.Operation = OpModify
	case ev.Has(fsnotify.Remove):
		e.Operation = OpDelete
	case ev.Has(fsnotify.Rename):
		e.Operation = OpRename
	default:
		return FileEvent{}, false
	}
	return e, true
}

// Events delivers coalesced batches. It is closed by Stop.
func (w *FileWatcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors carries non-fatal fsnotify errors.
func (w *FileWatcher) Errors() <-chan error {
	return w.errors
}

// Stop releases the watcher. Safe to call twice.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}
