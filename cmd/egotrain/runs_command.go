package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newRunsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorded training runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadSetup(*configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context())
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Run", "Started", "Status", "Best epoch", "Best action@1"})
			for _, run := range runs {
				best := "-"
				if run.BestEpoch >= 0 {
					best = fmt.Sprintf("%d", run.BestEpoch)
				}
				t.AppendRow(table.Row{
					run.ID,
					run.StartedAt.Format(time.RFC3339),
					run.Status,
					best,
					fmt.Sprintf("%.2f", run.BestAction),
				})
			}
			t.SetStyle(table.StyleLight)
			t.Render()
			return nil
		},
	}
}
