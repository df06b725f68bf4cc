package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "egotrain",
		Short:         "Curriculum training for egocentric action recognition",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "config.toml", "configuration file path")

	rootCmd.AddCommand(newTrainCommand(&configFlag))
	rootCmd.AddCommand(newEvaluateCommand(&configFlag))
	rootCmd.AddCommand(newRunsCommand(&configFlag))
	rootCmd.AddCommand(newPlotsCommand(&configFlag))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
