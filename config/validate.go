package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateData(); err != nil {
		return err
	}
	if err := c.validateModel(); err != nil {
		return err
	}
	if err := c.validateSolver(); err != nil {
		return err
	}
	if err := c.validateTrain(); err != nil {
		return err
	}
	if err := c.validateDistributed(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateData() error {
	if c.Train.Enabled && c.Data.AnnotationsTrain == "" {
		return errors.New("data.annotations_train must be set when training is enabled")
	}
	if c.Data.BatchSize < 1 {
		return errors.New("data.batch_size must be at least 1")
	}
	if c.Data.FeatureDim < 1 {
		return errors.New("data.feature_dim must be at least 1")
	}
	if c.Data.HistoryLen < 0 {
		return errors.New("data.history_len must not be negative")
	}
	if c.Data.LoaderWorkers < 1 {
		return errors.New("data.loader_workers must be at least 1")
	}
	return nil
}

func (c *Config) validateModel() error {
	if c.Model.NumVerbClasses < 1 || c.Model.NumNounClasses < 1 {
		return errors.New("model.num_verb_classes and model.num_noun_classes must be at least 1")
	}
	if c.Model.Detection && c.Model.ProposalDim < 1 {
		return errors.New("model.proposal_dim must be set for the detection variant")
	}
	return nil
}

func (c *Config) validateSolver() error {
	if c.Solver.BaseLR <= 0 {
		return errors.New("solver.base_lr must be positive")
	}
	if c.Solver.MaxEpoch < 1 {
		return errors.New("solver.max_epoch must be at least 1")
	}
	switch c.Solver.LRPolicy {
	case "cosine":
	case "steps":
		if len(c.Solver.Steps) == 0 {
			return errors.New("solver.steps must be set for the steps policy")
		}
		if len(c.Solver.LRs) != len(c.Solver.Steps)+1 {
			return fmt.Errorf("solver.lrs needs %d entries for %d steps, got %d",
				len(c.Solver.Steps)+1, len(c.Solver.Steps), len(c.Solver.LRs))
		}
	default:
		return fmt.Errorf("unknown solver.lr_policy %q", c.Solver.LRPolicy)
	}
	if c.Solver.WarmupEpochs < 0 {
		return errors.New("solver.warmup_epochs must not be negative")
	}
	return nil
}

func (c *Config) validateTrain() error {
	if !c.Train.Enabled {
		return nil
	}
	if c.Train.FreezeEpoch < 0 {
		return errors.New("train.freeze_epoch must not be negative")
	}
	if c.Train.FreezeEpoch >= c.Solver.MaxEpoch {
		return fmt.Errorf("train.freeze_epoch (%d) must be below solver.max_epoch (%d)",
			c.Train.FreezeEpoch, c.Solver.MaxEpoch)
	}
	if c.Train.AutoResume && c.Train.FinetunePath != "" {
		return errors.New("train.auto_resume and train.finetune_path are mutually exclusive")
	}
	return nil
}

func (c *Config) validateDistributed() error {
	if c.Distributed.NumWorkers < 1 {
		return errors.New("distributed.num_workers must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	return nil
}
