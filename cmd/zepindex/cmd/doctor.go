package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
	"github.com/zenoss/zenoss-zep-sub000/internal/preflight"
)

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	var verbose, asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the service can run with the current configuration",
		Long: `Check the data directory, the event store, the queue store and every
configured backend. Exits non-zero when a required check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			checker := preflight.New(preflight.WithOutput(cmd.OutOrStdout()), preflight.WithVerbose(verbose))
			results := checker.RunAll(cmd.Context(), cfg)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}
			if checker.HasCriticalFailures(results) {
				return zerrors.New(zerrors.ErrCodeConfigInvalid, "preflight checks failed", nil).
					WithSuggestion("Fix the FAIL lines above and run 'zepindex doctor' again")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print check details")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
