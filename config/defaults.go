package config

const (
	defaultFeatureDim       = 2048
	defaultHistoryLen       = 5
	defaultBatchSize        = 32
	defaultLoaderWorkers    = 4
	defaultHiddenDim        = 512
	defaultNumVerbClasses   = 125
	defaultNumNounClasses   = 352
	defaultBaseLR           = 0.01
	defaultLRPolicy         = "cosine"
	defaultMaxEpoch         = 30
	defaultMomentum         = 0.9
	defaultFreezeEpoch      = 10
	defaultCheckpointPeriod = 5
	defaultEvalPeriod       = 1
	defaultLogPeriod        = 10
	defaultNumBatchesBN     = 200
	defaultWorldSize        = 1
	defaultOutputDir        = "./output"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

func (c *Config) applyDefaults() {
	if c.Data.FeatureDim == 0 {
		c.Data.FeatureDim = defaultFeatureDim
	}
	if c.Data.HistoryLen == 0 {
		c.Data.HistoryLen = defaultHistoryLen
	}
	if c.Data.BatchSize == 0 {
		c.Data.BatchSize = defaultBatchSize
	}
	if c.Data.LoaderWorkers == 0 {
		c.Data.LoaderWorkers = defaultLoaderWorkers
	}
	if c.Model.HiddenDim == 0 {
		c.Model.HiddenDim = defaultHiddenDim
	}
	if c.Model.NumVerbClasses == 0 {
		c.Model.NumVerbClasses = defaultNumVerbClasses
	}
	if c.Model.NumNounClasses == 0 {
		c.Model.NumNounClasses = defaultNumNounClasses
	}
	if c.Solver.BaseLR == 0 {
		c.Solver.BaseLR = defaultBaseLR
	}
	if c.Solver.LRPolicy == "" {
		c.Solver.LRPolicy = defaultLRPolicy
	}
	if c.Solver.MaxEpoch == 0 {
		c.Solver.MaxEpoch = defaultMaxEpoch
	}
	if c.Solver.Momentum == 0 {
		c.Solver.Momentum = defaultMomentum
	}
	if c.Train.FreezeEpoch == 0 {
		c.Train.FreezeEpoch = defaultFreezeEpoch
	}
	if c.Train.CheckpointPeriod == 0 {
		c.Train.CheckpointPeriod = defaultCheckpointPeriod
	}
	if c.Train.EvalPeriod == 0 {
		c.Train.EvalPeriod = defaultEvalPeriod
	}
	if c.Train.LogPeriod == 0 {
		c.Train.LogPeriod = defaultLogPeriod
	}
	if c.Test.BatchSize == 0 {
		c.Test.BatchSize = c.Data.BatchSize
	}
	if c.BN.NumBatchesPrecise == 0 {
		c.BN.NumBatchesPrecise = defaultNumBatchesBN
	}
	if c.Distributed.NumWorkers == 0 {
		c.Distributed.NumWorkers = defaultWorldSize
	}
	if c.Output.Dir == "" {
		c.Output.Dir = defaultOutputDir
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
