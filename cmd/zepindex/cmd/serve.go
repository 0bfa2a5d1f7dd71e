package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
	"github.com/zenoss/zenoss-zep-sub000/internal/orchestrator"
	"github.com/zenoss/zenoss-zep-sub000/internal/preflight"
	"github.com/zenoss/zenoss-zep-sub000/internal/server"
	"github.com/zenoss/zenoss-zep-sub000/internal/watcher"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string
	var noWatch, skipChecks bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the indexing service and HTTP API",
		Long: `Run the orchestrator with its queue grabbers and rebuild checker, and
serve the HTTP API under /api/v1 and Prometheus metrics.

When the indexed details in the configuration change on disk, the service
restarts its backends so that the rebuild checker can reindex them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if !skipChecks {
				if err := preflightServe(cmd.Context(), cfg); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cfg, !noWatch)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Override server.listen")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not watch the config files for changes")
	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Skip the preflight checks")
	return cmd
}

// preflightServe logs every non-passing check and fails on critical ones.
func preflightServe(ctx context.Context, cfg *config.Config) error {
	checker := preflight.New(preflight.WithOutput(io.Discard))
	results := checker.RunAll(ctx, cfg)
	for _, r := range results {
		if r.Status != preflight.StatusPass {
			slog.Warn("preflight_check",
				slog.String("check", r.Name),
				slog.String("status", r.Status.String()),
				slog.String("message", r.Message))
		}
	}
	if checker.HasCriticalFailures(results) {
		return zerrors.New(zerrors.ErrCodeConfigInvalid, "preflight checks failed", nil).
			WithSuggestion("Run 'zepindex doctor' for details, or pass --skip-checks")
	}
	return nil
}

// runServe serves until ctx is done. A change to the indexed details stops
// the current generation and starts a new one with the reloaded config.
func runServe(ctx context.Context, opts *rootOptions, cfg *config.Config, watch bool) error {
	for {
		reloaded, err := serveGeneration(ctx, opts, cfg, watch)
		if err != nil || reloaded == nil || ctx.Err() != nil {
			return err
		}
		slog.Info("serve_restarting", slog.String("reason", "indexed details changed"))
		cfg = reloaded
	}
}

func serveGeneration(ctx context.Context, opts *rootOptions, cfg *config.Config, watch bool) (reloaded *config.Config, err error) {
	rt, err := openService(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, rt.Close())
	}()

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := rt.orch.Start(genCtx); err != nil {
		return nil, err
	}

	if paths := configPaths(opts.configDir); watch && len(paths) > 0 {
		next := make(chan *config.Config, 1)
		r, err := watcher.NewReloader(paths, rt.orch.ConfigHash(),
			func() (*config.Config, error) { return config.Load(opts.configDir) },
			orchestrator.ConfigHash,
			func(c *config.Config) {
				select {
				case next <- c:
				default:
				}
				cancel()
			},
			watcher.DefaultOptions())
		if err != nil {
			return nil, err
		}
		slog.Info("config_watch_started", slog.String("mode", r.Mode()))
		go func() { _ = r.Run(genCtx) }()
		defer func() {
			select {
			case reloaded = <-next:
			default:
			}
		}()
	}

	srv, err := server.New(cfg.Server, rt.orch, rt.events, orchestrator.Collectors()...)
	if err != nil {
		return nil, err
	}
	return nil, srv.ListenAndServe(genCtx)
}

// configPaths lists the config files that exist or could be created in a
// directory that does.
func configPaths(dir string) []string {
	candidates := []string{
		config.GetUserConfigPath(),
		filepath.Join(dir, ".zep.yaml"),
		filepath.Join(dir, ".zep.yml"),
	}
	var out []string
	for _, p := range candidates {
		if info, err := os.Stat(filepath.Dir(p)); err == nil && info.IsDir() {
			out = append(out, p)
		}
	}
	return out
}
