// Package preflight checks that zepindex can run against a configuration
// before any backend is opened for writing.
//
// The checks cover the data directory (writable, free space), the process
// file descriptor limit, the canonical event store, the work queue store and
// the configured backends:
//
//	checker := preflight.New(preflight.WithOutput(os.Stdout))
//	results := checker.RunAll(ctx, cfg)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
