package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"egotrain/config"
	"egotrain/dataset"
	"egotrain/distributed"
	"egotrain/meters"
	"egotrain/plots"
	"egotrain/runstore"
	"egotrain/solver"
	"egotrain/training"
)

func newTrainCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Run the curriculum training schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadSetup(*configPath)
			if err != nil {
				return err
			}
			if !cfg.Train.Enabled {
				return fmt.Errorf("training is disabled in %s", *configPath)
			}
			return runTrain(cmd.Context(), cfg, log)
		},
	}
}

func runTrain(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	// One training process per output directory.
	lock := flock.New(filepath.Join(cfg.Output.Dir, "train.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire training lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another training run holds %s", lock.Path())
	}
	defer lock.Unlock()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	snapshot, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("snapshot config: %w", err)
	}
	runID, err := store.CreateRun(ctx, string(snapshot))
	if err != nil {
		return err
	}
	log.Info("run created", "run_id", runID, "workers", cfg.Distributed.NumWorkers)

	features, err := loadFeatures(cfg)
	if err != nil {
		return err
	}

	world, err := distributed.NewWorld(cfg.Distributed.NumWorkers)
	if err != nil {
		return err
	}

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
		master  *training.Trainer
	)
	fail := func(err error) {
		errOnce.Do(func() { runErr = err })
	}

	for rank := 0; rank < world.Size(); rank++ {
		group, err := world.Group(rank)
		if err != nil {
			return err
		}
		trainer, err := buildTrainer(cfg, log, group, features, store, runID)
		if err != nil {
			return err
		}
		if group.IsMaster() {
			master = trainer
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := trainer.Run(ctx); err != nil {
				fail(err)
			}
		}()
	}
	wg.Wait()

	if runErr != nil {
		if err := store.FinishRun(context.Background(), runID, "failed"); err != nil {
			log.Error("mark run failed", "error", err)
		}
		return runErr
	}
	if err := store.FinishRun(ctx, runID, "finished"); err != nil {
		return err
	}

	meters.RenderEpochTable(os.Stdout, master.Summaries())
	return writeRunPlots(ctx, cfg, store, runID, log)
}

// buildTrainer assembles one rank's trainer. Each rank holds its own model
// and dataset copies; only the read-only feature table is shared. The run
// store is wired to the master rank alone.
func buildTrainer(cfg *config.Config, log *slog.Logger, group *distributed.Group, features dataset.FeatureSource, store *runstore.Store, runID string) (*training.Trainer, error) {
	train, err := loadSplit(cfg, cfg.Data.AnnotationsTrain, features)
	if err != nil {
		return nil, err
	}
	var val *dataset.EpicKitchens
	if cfg.Data.AnnotationsVal != "" {
		val, err = loadSplit(cfg, cfg.Data.AnnotationsVal, features)
		if err != nil {
			return nil, err
		}
	}

	m, err := buildModel(cfg)
	if err != nil {
		return nil, err
	}
	optim, err := solver.NewSGD(m.Parameters(), solver.SGDConfig{
		LR:          cfg.Solver.BaseLR,
		Momentum:    cfg.Solver.Momentum,
		WeightDecay: cfg.Solver.WeightDecay,
	})
	if err != nil {
		return nil, err
	}
	sched := buildSchedule(cfg)
	if err := sched.Validate(); err != nil {
		return nil, err
	}

	opts := training.Options{
		Config:    cfg,
		Log:       log.With("rank", group.Rank()),
		Group:     group,
		Model:     m,
		Optimizer: optim,
		Schedule:  sched,
		Train:     train,
		Val:       val,
	}
	if group.IsMaster() {
		opts.Store = store
		opts.RunID = runID
	}
	return training.New(opts)
}

// writeRunPlots renders the loss and accuracy curves for a finished run.
func writeRunPlots(ctx context.Context, cfg *config.Config, store *runstore.Store, runID string, log *slog.Logger) error {
	trainHist, err := store.EpochHistory(ctx, runID, "train")
	if err != nil {
		return err
	}
	valHist, err := store.EpochHistory(ctx, runID, "val")
	if err != nil {
		return err
	}
	if len(trainHist) == 0 {
		return nil
	}

	plotDir := filepath.Join(cfg.Output.Dir, "plots")
	lossPath, err := plots.LossCurve(plotDir, trainHist)
	if err != nil {
		return err
	}
	accPath, err := plots.AccuracyCurves(plotDir, trainHist, valHist)
	if err != nil {
		return err
	}
	log.Info("plots written", "loss", lossPath, "accuracy", accPath)
	return nil
}
