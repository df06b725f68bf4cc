package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"egotrain/checkpoints"
	"egotrain/distributed"
	"egotrain/meters"
	"egotrain/training"
)

func newEvaluateCommand(configPath *string) *cobra.Command {
	var checkpointFlag string
	var annotationsFlag string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a checkpoint on a split",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadSetup(*configPath)
			if err != nil {
				return err
			}

			ckptPath := checkpointFlag
			if ckptPath == "" {
				ckptPath = cfg.Test.CheckpointPath
			}
			if ckptPath == "" {
				// Fall back to the latest training checkpoint.
				ckptPath, err = checkpoints.LastCheckpoint(cfg.Output.Dir)
				if err != nil {
					return err
				}
				if ckptPath == "" {
					return fmt.Errorf("no checkpoint given and none found under %s", cfg.Output.Dir)
				}
			}

			annotations := annotationsFlag
			if annotations == "" {
				annotations = cfg.Data.AnnotationsVal
			}
			if annotations == "" {
				return fmt.Errorf("no annotations file for evaluation")
			}

			m, err := buildModel(cfg)
			if err != nil {
				return err
			}
			if _, err := checkpoints.Load(ckptPath, m, nil); err != nil {
				return err
			}
			log.Info("checkpoint loaded", "path", ckptPath)

			features, err := loadFeatures(cfg)
			if err != nil {
				return err
			}
			ds, err := loadSplit(cfg, annotations, features)
			if err != nil {
				return err
			}

			world, err := distributed.NewWorld(1)
			if err != nil {
				return err
			}
			group, err := world.Group(0)
			if err != nil {
				return err
			}

			summary, err := training.Evaluate(cmd.Context(), training.EvalOptions{
				Config:  cfg,
				Log:     log,
				Group:   group,
				Model:   m,
				Dataset: ds,
			})
			if err != nil {
				return err
			}
			meters.RenderEpochTable(os.Stdout, []meters.EpochSummary{summary})
			return nil
		},
	}
	cmd.Flags().StringVar(&checkpointFlag, "checkpoint", "", "checkpoint file to evaluate")
	cmd.Flags().StringVar(&annotationsFlag, "annotations", "", "annotations file (defaults to data.annotations_val)")
	return cmd
}
