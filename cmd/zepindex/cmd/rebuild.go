package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zenoss/zenoss-zep-sub000/internal/orchestrator"
	"github.com/zenoss/zenoss-zep-sub000/internal/output"
)

func newRebuildCmd(opts *rootOptions) *cobra.Command {
	var wait bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "rebuild <backend-id>",
		Short: "Rebuild a backend's index from the event store",
		Long: `Clear the backend (when it honors deletes) and start a new rebuild run.

Without --wait the run is recorded and the command exits; a running
'zepindex serve' resumes it. The service must not be running against the
same files while this command runs; use POST /api/v1/backends/{id}/rebuild
against a live service instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rt, err := openService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			return runRebuild(cmd.Context(), rt.orch, args[0], wait, interval, output.New(cmd.OutOrStdout()))
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Run the rebuild to completion in this process")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Progress reporting interval with --wait")
	return cmd
}

func runRebuild(ctx context.Context, o *orchestrator.Orchestrator, id string, wait bool, interval time.Duration, out *output.Writer) error {
	if err := o.ForceRebuild(ctx, id); err != nil {
		return err
	}
	if !wait {
		out.Successf("Rebuild of %s recorded", id)
		out.Status("", "It resumes the next time 'zepindex serve' starts")
		return nil
	}
	if err := o.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, ok := backendStatus(ctx, o, id)
		if !ok {
			return fmt.Errorf("backend %s disappeared", id)
		}
		if !st.Rebuilding && st.QueueLength == 0 {
			out.Progress(100, fmt.Sprintf("%s: %d events", id, st.RebuildIndexed))
			out.Successf("Rebuild of %s finished", id)
			return nil
		}
		out.Progress(st.RebuildPercent, fmt.Sprintf("%s: %d events", id, st.RebuildIndexed))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func backendStatus(ctx context.Context, o *orchestrator.Orchestrator, id string) (orchestrator.BackendStatus, bool) {
	for _, st := range o.Status(ctx) {
		if st.ID == id {
			return st, true
		}
	}
	return orchestrator.BackendStatus{}, false
}
