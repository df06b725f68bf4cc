package main

import (
	"github.com/spf13/cobra"
)

func newPlotsCommand(configPath *string) *cobra.Command {
	var runFlag string

	cmd := &cobra.Command{
		Use:   "plots",
		Short: "Render training curves for a recorded run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadSetup(*configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runID, err := latestRunID(cmd.Context(), store, runFlag)
			if err != nil {
				return err
			}
			return writeRunPlots(cmd.Context(), cfg, store, runID, log)
		},
	}
	cmd.Flags().StringVar(&runFlag, "run", "", "run id (defaults to the most recent run)")
	return cmd
}
