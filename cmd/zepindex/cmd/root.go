// Package cmd implements the zepindex CLI.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
	"github.com/zenoss/zenoss-zep-sub000/internal/logging"
	"github.com/zenoss/zenoss-zep-sub000/internal/profiling"
	"github.com/zenoss/zenoss-zep-sub000/pkg/version"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	debug     bool
	configDir string

	profile profiling.Config

	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the zepindex root command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "zepindex",
		Short: "Event summary indexing service",
		Long: `zepindex keeps one or more search index backends consistent with the
canonical event store, and serves searches from the ENABLED backend.

Backends can be added as STANDBY, rebuilt in the background, and promoted
to ENABLED without downtime.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.setupLogging(); err != nil {
				return err
			}
			return opts.startProfiling()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			err := opts.stopProfiling()
			opts.stopLogging()
			return err
		},
	}
	cmd.SetVersionTemplate("zepindex version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.configDir, "config", ".", "Directory holding .zep.yaml")
	cmd.PersistentFlags().StringVar(&opts.profile.CPUPath, "cpu-profile", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&opts.profile.HeapPath, "mem-profile", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&opts.profile.TracePath, "trace", "", "Write an execution trace to this file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newRebuildCmd(opts))
	cmd.AddCommand(newQueueCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints any error for the terminal.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprint(os.Stderr, zerrors.FormatForCLI(err))
	}
	return err
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configDir)
	if err != nil {
		return nil, zerrors.New(zerrors.ErrCodeConfigInvalid, err.Error(), err).
			WithSuggestion("Run 'zepindex config validate' for details")
	}
	return cfg, nil
}

// setupLogging configures slog from the config's logging section. An
// unreadable config leaves the default logger in place so that the command
// itself can report the problem.
func (o *rootOptions) setupLogging() error {
	lc := logging.DefaultConfig()
	if cfg, err := config.Load(o.configDir); err == nil {
		lc.Level = cfg.Logging.Level
		lc.FilePath = cfg.Logging.File
		lc.MaxSizeMB = cfg.Logging.MaxSizeMB
		lc.MaxFiles = cfg.Logging.MaxFiles
		lc.WriteToStderr = cfg.Logging.Stderr
	}
	if o.debug {
		lc.Level = "debug"
		if lc.FilePath == "" {
			lc.FilePath = logging.DefaultLogPath()
		}
	}

	logger, cleanup, err := logging.Setup(lc)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	o.loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("logging_configured",
		slog.String("level", lc.Level),
		slog.String("file", lc.FilePath),
		slog.String("version", version.Version))
	return nil
}

func (o *rootOptions) startProfiling() error {
	if !o.profile.Enabled() {
		return nil
	}
	s, err := profiling.Start(o.profile)
	if err != nil {
		return err
	}
	o.profiler = s
	slog.Info("profiling_started",
		slog.String("cpu", o.profile.CPUPath),
		slog.String("heap", o.profile.HeapPath),
		slog.String("trace", o.profile.TracePath))
	return nil
}

func (o *rootOptions) stopProfiling() error {
	if o.profiler == nil {
		return nil
	}
	err := o.profiler.Stop()
	o.profiler = nil
	return err
}

func (o *rootOptions) stopLogging() {
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
}
