package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseSampleConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse sample: %v", err)
	}
	if !cfg.Model.Recurrent {
		t.Error("sample should enable the recurrent variant")
	}
	if cfg.Train.FreezeEpoch != 10 {
		t.Errorf("FreezeEpoch = %d, want 10", cfg.Train.FreezeEpoch)
	}
	if cfg.Solver.LRPolicy != "cosine" {
		t.Errorf("LRPolicy = %q, want cosine", cfg.Solver.LRPolicy)
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg, err := Parse([]byte(`
[data]
annotations_train = "train.csv"
[train]
enabled = true
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Data.BatchSize != defaultBatchSize {
		t.Errorf("BatchSize = %d, want default %d", cfg.Data.BatchSize, defaultBatchSize)
	}
	if cfg.Solver.MaxEpoch != defaultMaxEpoch {
		t.Errorf("MaxEpoch = %d, want default %d", cfg.Solver.MaxEpoch, defaultMaxEpoch)
	}
	if cfg.Test.BatchSize != cfg.Data.BatchSize {
		t.Errorf("Test.BatchSize = %d, want data batch size", cfg.Test.BatchSize)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Logging.Format = %q", cfg.Logging.Format)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "train without annotations",
			mutate: func(c *Config) { c.Train.Enabled = true; c.Data.AnnotationsTrain = "" },
			want:   "annotations_train",
		},
		{
			name:   "bad lr policy",
			mutate: func(c *Config) { c.Solver.LRPolicy = "linear" },
			want:   "lr_policy",
		},
		{
			name: "steps policy without steps",
			mutate: func(c *Config) {
				c.Solver.LRPolicy = "steps"
				c.Solver.Steps = nil
			},
			want: "solver.steps",
		},
		{
			name: "steps policy with mismatched lrs",
			mutate: func(c *Config) {
				c.Solver.LRPolicy = "steps"
				c.Solver.Steps = []int{10, 20}
				c.Solver.LRs = []float64{1, 0.1}
			},
			want: "solver.lrs",
		},
		{
			name: "freeze epoch past max epoch",
			mutate: func(c *Config) {
				c.Train.Enabled = true
				c.Data.AnnotationsTrain = "train.csv"
				c.Train.FreezeEpoch = 30
				c.Solver.MaxEpoch = 30
			},
			want: "freeze_epoch",
		},
		{
			name: "auto resume with finetune",
			mutate: func(c *Config) {
				c.Train.Enabled = true
				c.Data.AnnotationsTrain = "train.csv"
				c.Train.AutoResume = true
				c.Train.FinetunePath = "ckpt.json"
			},
			want: "mutually exclusive",
		},
		{
			name:   "detection without proposal dim",
			mutate: func(c *Config) { c.Model.Detection = true },
			want:   "proposal_dim",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "trace" },
			want:   "logging.level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("Load accepted a missing file")
	}
}

func TestWriteSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if _, err := Parse(raw); err != nil {
		t.Errorf("written sample does not parse: %v", err)
	}
	if err := WriteSample(path); err == nil {
		t.Error("WriteSample overwrote an existing file")
	}
}
