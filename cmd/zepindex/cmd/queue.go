package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
	"github.com/zenoss/zenoss-zep-sub000/internal/output"
	"github.com/zenoss/zenoss-zep-sub000/internal/queue"
)

func newQueueCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the work queues of async backends",
		Long: `Inspect the work queues of backends configured with async_updates.

Only shared queue stores (redis, sqlite) outlive the process; the memory
store is always empty here.`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show queued tasks per backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return withQueues(cmd.Context(), cfg, func(f *queue.Factory) error {
				return queueStats(cmd.Context(), cfg, f, output.New(cmd.OutOrStdout()))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear <backend-id>",
		Short: "Drop every queued task of a backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return withQueues(cmd.Context(), cfg, func(f *queue.Factory) error {
				return queueClear(cmd.Context(), cfg, f, args[0], output.New(cmd.OutOrStdout()))
			})
		},
	})
	return cmd
}

func withQueues(ctx context.Context, cfg *config.Config, fn func(*queue.Factory) error) error {
	f, err := queue.NewFactory(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return fn(f)
}

func queueStats(ctx context.Context, cfg *config.Config, f *queue.Factory, out *output.Writer) error {
	var rows [][]string
	for _, b := range cfg.Backends {
		if !b.AsyncUpdates {
			continue
		}
		q := f.Open(b.ID)
		n, err := q.Size(ctx)
		if err != nil {
			return err
		}
		ready := "yes"
		if !q.IsReady(ctx) {
			ready = "no"
		}
		rows = append(rows, []string{b.ID, b.Status, strconv.Itoa(n), ready})
	}
	if len(rows) == 0 {
		out.Status("", "No backend uses async_updates")
		return nil
	}
	out.Table([]string{"BACKEND", "STATUS", "QUEUED", "READY"}, rows)
	return nil
}

func queueClear(ctx context.Context, cfg *config.Config, f *queue.Factory, id string, out *output.Writer) error {
	for _, b := range cfg.Backends {
		if b.ID != id {
			continue
		}
		if !b.AsyncUpdates {
			return fmt.Errorf("backend %s does not use a work queue", id)
		}
		q := f.Open(id)
		n, err := q.Size(ctx)
		if err != nil {
			return err
		}
		if err := q.Clear(ctx); err != nil {
			return err
		}
		out.Successf("Cleared %d tasks from %s", n, id)
		return nil
	}
	return fmt.Errorf("unknown backend %s", id)
}
