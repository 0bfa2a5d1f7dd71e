// Package watcher reloads the configuration when its files change on disk.
//
// A FileWatcher follows a fixed set of files. It watches their parent
// directories with fsnotify so that editors which save by rename are seen,
// and it falls back to polling file stats where fsnotify is unavailable
// (network mounts, some container volumes). Bursts of events are coalesced
// per file before they are delivered.
//
// A Reloader sits on top: on every change it reloads the configuration and
// calls back only when the indexed details differ from the running ones.
//
//	r, err := watcher.NewReloader(paths, current, load, hash, onChange, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	go r.Run(ctx)
package watcher
