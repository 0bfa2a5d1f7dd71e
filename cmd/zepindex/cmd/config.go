package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zenoss/zenoss-zep-sub000/configs"
	"github.com/zenoss/zenoss-zep-sub000/internal/config"
	"github.com/zenoss/zenoss-zep-sub000/internal/output"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the zepindex configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/zep/config.yaml)
  3. Project config (.zep.yaml in --config)
  4. Environment variables (ZEP_*)`,
		Example: `  # Write a project config with defaults
  zepindex config init

  # Show effective configuration
  zepindex config show --json

  # Roll back the last 'config init --force'
  zepindex config restore`,
	}

	cmd.AddCommand(newConfigInitCmd(opts))
	cmd.AddCommand(newConfigShowCmd(opts))
	cmd.AddCommand(newConfigValidateCmd(opts))
	cmd.AddCommand(newConfigRestoreCmd(opts))
	return cmd
}

// configTarget is the file init and restore act on.
func configTarget(opts *rootOptions, user bool) string {
	if user {
		return config.GetUserConfigPath()
	}
	path, _ := config.ProjectConfigPath(opts.configDir)
	return path
}

func newConfigInitCmd(opts *rootOptions) *cobra.Command {
	var force, user, effective bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with defaults",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			path := configTarget(opts, user)
			if effective {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				return runConfigInit(path, force, out, cfg.WriteYAML)
			}
			template := configs.ProjectConfigTemplate
			if user {
				template = configs.UserConfigTemplate
			}
			return runConfigInit(path, force, out, func(p string) error {
				if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
					return fmt.Errorf("failed to create config directory: %w", err)
				}
				if err := os.WriteFile(p, []byte(template), 0o644); err != nil {
					return fmt.Errorf("failed to write config file: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file, keeping a backup")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	cmd.Flags().BoolVar(&effective, "effective", false, "Write the effective configuration instead of the template")
	return cmd
}

// runConfigInit writes path with write, backing up an existing file when
// forced.
func runConfigInit(path string, force bool, out *output.Writer, write func(string) error) error {
	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warningf("Config already exists: %s", path)
			out.Status("", "Use --force to overwrite")
			return nil
		}
		backup, err := config.BackupFile(path)
		if err != nil {
			return err
		}
		if backup != "" {
			out.Statusf("", "Backed up to %s", filepath.Base(backup))
		}
	}
	if err := write(path); err != nil {
		return err
	}
	out.Successf("Created %s", path)
	return nil
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = w.Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newConfigValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			out.Successf("Configuration is valid (%d backends, %d indexed details)",
				len(cfg.Backends), len(cfg.IndexedDetails))
			return nil
		},
	}
}

func newConfigRestoreCmd(opts *rootOptions) *cobra.Command {
	var user bool

	cmd := &cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore a configuration backup",
		Long:  "Restore the newest backup, or the named one, over the current file.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var chosen string
			if len(args) == 1 {
				chosen = args[0]
			}
			return runConfigRestore(configTarget(opts, user), chosen, output.New(cmd.OutOrStdout()))
		},
	}
	cmd.Flags().BoolVar(&user, "user", false, "Restore the user config instead of the project config")
	return cmd
}

func runConfigRestore(path, chosen string, out *output.Writer) error {
	backups, err := config.ListBackups(path)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return fmt.Errorf("no backups of %s", path)
	}
	backup := backups[0]
	if chosen != "" {
		backup = ""
		for _, b := range backups {
			if b == chosen || filepath.Base(b) == chosen {
				backup = b
				break
			}
		}
		if backup == "" {
			return fmt.Errorf("no backup named %s", chosen)
		}
	}
	if err := config.RestoreFile(path, backup); err != nil {
		return err
	}
	out.Successf("Restored %s from %s", path, filepath.Base(backup))
	return nil
}
