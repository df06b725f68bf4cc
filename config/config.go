// Package config loads and validates TOML run configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Data configures annotation and feature inputs.
type Data struct {
	AnnotationsTrain string `toml:"annotations_train"`
	AnnotationsVal   string `toml:"annotations_val"`
	FeaturesDir      string `toml:"features_dir"`
	FeatureDim       int    `toml:"feature_dim"`
	HistoryLen       int    `toml:"history_len"`
	BatchSize        int    `toml:"batch_size"`
	LoaderWorkers    int    `toml:"loader_workers"`
}

// Model configures the classifier and its forward variant.
type Model struct {
	Recurrent      bool  `toml:"recurrent"`
	Detection      bool  `toml:"detection"`
	HiddenDim      int   `toml:"hidden_dim"`
	NumVerbClasses int   `toml:"num_verb_classes"`
	NumNounClasses int   `toml:"num_noun_classes"`
	ProposalDim    int   `toml:"proposal_dim"`
	Seed           int64 `toml:"seed"`
}

// Solver configures optimization and the learning rate schedule.
type Solver struct {
	BaseLR        float64   `toml:"base_lr"`
	LRPolicy      string    `toml:"lr_policy"`
	Steps         []int     `toml:"steps"`
	LRs           []float64 `toml:"lrs"`
	MaxEpoch      int       `toml:"max_epoch"`
	Momentum      float64   `toml:"momentum"`
	WeightDecay   float64   `toml:"weight_decay"`
	WarmupEpochs  float64   `toml:"warmup_epochs"`
	WarmupStartLR float64   `toml:"warmup_start_lr"`
}

// Train configures the training loop and the curriculum schedule.
type Train struct {
	Enabled          bool   `toml:"enabled"`
	FreezeEpoch      int    `toml:"freeze_epoch"`
	CheckpointPeriod int    `toml:"checkpoint_period"`
	EvalPeriod       int    `toml:"eval_period"`
	AutoResume       bool   `toml:"auto_resume"`
	FinetunePath     string `toml:"finetune_path"`
	LogPeriod        int    `toml:"log_period"`
}

// Test configures standalone evaluation.
type Test struct {
	Enabled        bool   `toml:"enabled"`
	BatchSize      int    `toml:"batch_size"`
	CheckpointPath string `toml:"checkpoint_path"`
}

// BN configures normalization statistics handling.
type BN struct {
	FreezeStats       bool `toml:"freeze_stats"`
	PreciseEnabled    bool `toml:"precise_enabled"`
	NumBatchesPrecise int  `toml:"num_batches_precise"`
}

// Distributed configures the in-process worker group.
type Distributed struct {
	NumWorkers int `toml:"num_workers"`
}

// Output configures run artifacts.
type Output struct {
	Dir string `toml:"dir"`
}

// Logging configures log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration for a run.
type Config struct {
	Data        Data        `toml:"data"`
	Model       Model       `toml:"model"`
	Solver      Solver      `toml:"solver"`
	Train       Train       `toml:"train"`
	Test        Test        `toml:"test"`
	BN          BN          `toml:"bn"`
	Distributed Distributed `toml:"distributed"`
	Output      Output      `toml:"output"`
	Logging     Logging     `toml:"logging"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load parses the file at path, applies defaults, and validates.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML bytes, applies defaults, and validates.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteSample writes the annotated sample configuration to path. It refuses
// to overwrite an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}
