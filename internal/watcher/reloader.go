package watcher

import (
	"context"
	"log/slog"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
)

// LoadFunc resolves the configuration afresh.
type LoadFunc func() (*config.Config, error)

// HashFunc fingerprints a set of indexed details.
type HashFunc func([]config.IndexedDetail) string

// Reloader reloads the configuration whenever one of its files changes and
// calls onChange with the new configuration when the indexed details differ
// from those in effect.
type Reloader struct {
	watcher  *FileWatcher
	load     LoadFunc
	hash     HashFunc
	onChange func(*config.Config)
	current  string
}

// NewReloader watches paths. current is the hash of the indexed details in
// effect now.
func NewReloader(paths []string, current string, load LoadFunc, hash HashFunc, onChange func(*config.Config), opts Options) (*Reloader, error) {
	w, err := NewFileWatcher(paths, opts)
	if err != nil {
		return nil, err
	}
	return &Reloader{
		watcher:  w,
		load:     load,
		hash:     hash,
		onChange: onChange,
		current:  current,
	}, nil
}

// Mode reports how files are being watched.
func (r *Reloader) Mode() string { return r.watcher.Mode() }

// Run blocks until ctx is done.
func (r *Reloader) Run(ctx context.Context) error {
	defer func() { _ = r.watcher.Stop() }()

	errc := make(chan error, 1)
	go func() { errc <- r.watcher.Start(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case err := <-r.watcher.Errors():
			slog.Warn("config_watch_error", slog.String("error", err.Error()))
		case batch, ok := <-r.watcher.Events():
			if !ok {
				return nil
			}
			r.reload(batch)
		}
	}
}

func (r *Reloader) reload(batch []FileEvent) {
	for _, e := range batch {
		slog.Debug("config_file_changed", slog.String("path", e.Path), slog.String("op", e.Operation.String()))
	}
	cfg, err := r.load()
	if err != nil {
		slog.Warn("config_reload_failed", slog.String("error", err.Error()))
		return
	}
	h := r.hash(cfg.IndexedDetails)
	if h == r.current {
		slog.Debug("config_reloaded", slog.String("details_hash", h))
		return
	}
	slog.Info("indexed_details_changed", slog.String("previous", r.current), slog.String("current", h))
	r.current = h
	r.onChange(cfg)
}
