package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"egotrain/config"
	"egotrain/dataset"
	"egotrain/logging"
	"egotrain/model"
	"egotrain/runstore"
	"egotrain/solver"
	"egotrain/training"
)

// featuresFile is the feature table filename inside data.features_dir.
const featuresFile = "features.csv"

func loadSetup(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Writer: os.Stderr,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func loadFeatures(cfg *config.Config) (*dataset.CSVFeatureSource, error) {
	path := filepath.Join(cfg.Data.FeaturesDir, featuresFile)
	return dataset.LoadFeaturesCSV(path, cfg.Data.FeatureDim)
}

func loadSplit(cfg *config.Config, annotationsPath string, features dataset.FeatureSource) (*dataset.EpicKitchens, error) {
	rows, err := dataset.LoadAnnotations(annotationsPath)
	if err != nil {
		return nil, err
	}
	return dataset.NewEpicKitchens(rows, features, cfg.Data.HistoryLen)
}

func buildModel(cfg *config.Config) (*model.TwoStreamClassifier, error) {
	mc := model.ClassifierConfig{
		FeatureDim: cfg.Data.FeatureDim,
		HiddenDim:  cfg.Model.HiddenDim,
		NumVerb:    cfg.Model.NumVerbClasses,
		NumNoun:    cfg.Model.NumNounClasses,
		Seed:       cfg.Model.Seed,
	}
	if cfg.Model.Recurrent {
		mc.HistoryDim = training.HistoryDim(cfg.Data.HistoryLen, cfg.Model.NumVerbClasses, cfg.Model.NumNounClasses)
	}
	if cfg.Model.Detection {
		mc.ProposalDim = cfg.Model.ProposalDim
	}
	return model.NewTwoStreamClassifier(mc)
}

func buildSchedule(cfg *config.Config) solver.Schedule {
	return solver.Schedule{
		Policy:        cfg.Solver.LRPolicy,
		BaseLR:        cfg.Solver.BaseLR,
		MaxEpoch:      cfg.Solver.MaxEpoch,
		Steps:         cfg.Solver.Steps,
		RelativeLRs:   cfg.Solver.LRs,
		WarmupEpochs:  cfg.Solver.WarmupEpochs,
		WarmupStartLR: cfg.Solver.WarmupStartLR,
	}
}

func openStore(cfg *config.Config) (*runstore.Store, error) {
	return runstore.Open(filepath.Join(cfg.Output.Dir, "runs.db"))
}

// latestRunID resolves an explicit run id, or the most recent run when
// empty.
func latestRunID(ctx context.Context, store *runstore.Store, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("no runs recorded yet")
	}
	return runs[0].ID, nil
}
