package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_DetectsChanges(t *testing.T) {
	// Given: one existing and one missing file
	dir := t.TempDir()
	existing := filepath.Join(dir, "a.yaml")
	missing := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(existing, []byte("version: 1\n"), 0o644))
	p := newPoller(time.Second, []string{existing, missing})
	now := time.Now()

	// When: nothing changed
	assert.Empty(t, p.changes(now))

	// When: the first grows and the second appears
	require.NoError(t, os.WriteFile(existing, []byte("version: 1\ndata_dir: /x\n"), 0o644))
	require.NoError(t, os.WriteFile(missing, []byte("x: 1\n"), 0o644))

	// Then: a MODIFY and a CREATE are reported
	assert.Equal(t, []FileEvent{
		{Path: existing, Operation: OpModify, Timestamp: now},
		{Path: missing, Operation: OpCreate, Timestamp: now},
	}, p.changes(now))

	// When: the first is removed
	require.NoError(t, os.Remove(existing))

	// Then: a DELETE is reported
	assert.Equal(t, []FileEvent{{Path: existing, Operation: OpDelete, Timestamp: now}}, p.changes(now))
}

func TestNewFileWatcher_RequiresPaths(t *testing.T) {
	_, err := NewFileWatcher(nil, DefaultOptions())
	assert.Error(t, err)
}

func TestFileWatcher_Modes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	for _, polling := range []bool{false, true} {
		name := "fsnotify"
		if polling {
			name = "polling"
		}
		t.Run(name, func(t *testing.T) {
			// Given: a watcher on a file that does not exist yet
			w, err := NewFileWatcher([]string{path, path}, Options{
				DebounceWindow: 20 * time.Millisecond,
				PollInterval:   20 * time.Millisecond,
				ForcePolling:   polling,
			})
			require.NoError(t, err)
			defer func() { _ = w.Stop() }()
			assert.Len(t, w.Paths(), 1)
			if polling {
				assert.Equal(t, "polling", w.Mode())
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() { _ = w.Start(ctx) }()
			time.Sleep(100 * time.Millisecond)

			// When: an unrelated file and the watched file are written
			require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))
			require.NoError(t, os.WriteFile(path, []byte(name), 0o644))

			// Then: only the watched file is reported
			batch := nextBatch(t, w.Events(), 5*time.Second)
			require.Len(t, batch, 1)
			assert.Equal(t, path, batch[0].Path)
			assert.Contains(t, []Operation{OpCreate, OpModify}, batch[0].Operation)
		})
	}
}

func TestFileWatcher_StartTwice(t *testing.T) {
	w, err := NewFileWatcher([]string{filepath.Join(t.TempDir(), "c.yaml")}, Options{ForcePolling: true})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Start(ctx) }()
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.started
	}, time.Second, 5*time.Millisecond)

	assert.Error(t, w.Start(ctx))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
