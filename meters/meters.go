// Package meters tracks and reports training and evaluation statistics.
// Train and val meters keep short windowed averages for per-iteration logs
// and full-epoch accumulators for epoch summaries.
package meters

import (
	"fmt"
	"log/slog"
	"time"
)

// windowSize bounds the deque behind per-iteration averages.
const windowSize = 10

// ScalarMeter keeps a bounded window of recent values plus a running total.
type ScalarMeter struct {
	window []float64
	total  float64
	count  int
}

// Add records one value.
func (m *ScalarMeter) Add(v float64) {
	m.window = append(m.window, v)
	if len(m.window) > windowSize {
		m.window = m.window[1:]
	}
	m.total += v
	m.count++
}

// WindowAverage returns the mean over the recent window.
func (m *ScalarMeter) WindowAverage() float64 {
	if len(m.window) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m.window {
		sum += v
	}
	return sum / float64(len(m.window))
}

// GlobalAverage returns the mean over every value since the last Reset.
func (m *ScalarMeter) GlobalAverage() float64 {
	if m.count == 0 {
		return 0
	}
	return m.total / float64(m.count)
}

// Reset clears the window and the running total.
func (m *ScalarMeter) Reset() {
	m.window = m.window[:0]
	m.total = 0
	m.count = 0
}

// Stats carries the per-batch quantities a meter accumulates. Accuracies are
// percentages over the batch.
type Stats struct {
	VerbTop1   float64
	VerbTop5   float64
	NounTop1   float64
	NounTop5   float64
	ActionTop1 float64
	ActionTop5 float64
	Loss       float64
	LR         float64
}

// EpochSummary is one finished epoch as reported by LogEpochStats.
type EpochSummary struct {
	Split      string
	Epoch      int
	Loss       float64
	LR         float64
	VerbTop1   float64
	VerbTop5   float64
	NounTop1   float64
	NounTop5   float64
	ActionTop1 float64
	ActionTop5 float64
	Duration   time.Duration
}

// accumulator weights per-batch percentages by batch size so epoch numbers
// are exact over uneven final batches.
type accumulator struct {
	weighted map[string]float64
	samples  int
}

func newAccumulator() *accumulator {
	return &accumulator{weighted: make(map[string]float64)}
}

func (a *accumulator) add(s Stats, batchSize int) {
	n := float64(batchSize)
	a.weighted["verb1"] += s.VerbTop1 * n
	a.weighted["verb5"] += s.VerbTop5 * n
	a.weighted["noun1"] += s.NounTop1 * n
	a.weighted["noun5"] += s.NounTop5 * n
	a.weighted["action1"] += s.ActionTop1 * n
	a.weighted["action5"] += s.ActionTop5 * n
	a.weighted["loss"] += s.Loss * n
	a.samples += batchSize
}

func (a *accumulator) mean(key string) float64 {
	if a.samples == 0 {
		return 0
	}
	return a.weighted[key] / float64(a.samples)
}

func (a *accumulator) reset() {
	a.weighted = make(map[string]float64)
	a.samples = 0
}

// TrainMeter measures one training epoch.
type TrainMeter struct {
	log        *slog.Logger
	epochIters int
	logPeriod  int

	iterStart time.Time
	iterTime  ScalarMeter
	epochTic  time.Time

	loss  ScalarMeter
	lr    float64
	epoch *accumulator
}

// NewTrainMeter sets up a meter for an epoch of epochIters iterations,
// logging every logPeriod iterations.
func NewTrainMeter(epochIters, logPeriod int, log *slog.Logger) *TrainMeter {
	if logPeriod <= 0 {
		logPeriod = 1
	}
	return &TrainMeter{
		log:        log,
		epochIters: epochIters,
		logPeriod:  logPeriod,
		epoch:      newAccumulator(),
		epochTic:   time.Now(),
	}
}

// UpdateEpochIters changes the expected iteration count. Used when the epoch
// length changes between training phases.
func (m *TrainMeter) UpdateEpochIters(n int) {
	m.epochIters = n
}

// EpochIters returns the expected iteration count for the current epoch.
func (m *TrainMeter) EpochIters() int {
	return m.epochIters
}

// IterTic marks the start of one iteration.
func (m *TrainMeter) IterTic() {
	m.iterStart = time.Now()
}

// IterToc marks the end of one iteration.
func (m *TrainMeter) IterToc() {
	m.iterTime.Add(time.Since(m.iterStart).Seconds())
}

// UpdateStats records one batch worth of statistics.
func (m *TrainMeter) UpdateStats(s Stats, batchSize int) {
	m.loss.Add(s.Loss)
	m.lr = s.LR
	m.epoch.add(s, batchSize)
}

// LogIterStats emits a windowed progress line every log period.
func (m *TrainMeter) LogIterStats(epoch, iter int) {
	if (iter+1)%m.logPeriod != 0 {
		return
	}
	remaining := float64(m.epochIters - iter - 1)
	eta := time.Duration(m.iterTime.WindowAverage()*remaining) * time.Second
	m.log.Info("train iter",
		"epoch", epoch,
		"iter", fmt.Sprintf("%d/%d", iter+1, m.epochIters),
		"loss", m.loss.WindowAverage(),
		"lr", m.lr,
		"iter_time", m.iterTime.WindowAverage(),
		"eta", eta.Round(time.Second).String(),
	)
}

// LogEpochStats emits the epoch summary and returns it.
func (m *TrainMeter) LogEpochStats(epoch int) EpochSummary {
	s := EpochSummary{
		Split:      "train",
		Epoch:      epoch,
		Loss:       m.epoch.mean("loss"),
		LR:         m.lr,
		VerbTop1:   m.epoch.mean("verb1"),
		VerbTop5:   m.epoch.mean("verb5"),
		NounTop1:   m.epoch.mean("noun1"),
		NounTop5:   m.epoch.mean("noun5"),
		ActionTop1: m.epoch.mean("action1"),
		ActionTop5: m.epoch.mean("action5"),
		Duration:   time.Since(m.epochTic),
	}
	m.log.Info("train epoch",
		"epoch", epoch,
		"loss", s.Loss,
		"verb_top1", s.VerbTop1,
		"noun_top1", s.NounTop1,
		"action_top1", s.ActionTop1,
		"duration", s.Duration.Round(time.Second).String(),
	)
	return s
}

// Reset prepares the meter for a new epoch.
func (m *TrainMeter) Reset() {
	m.loss.Reset()
	m.iterTime.Reset()
	m.epoch.reset()
	m.epochTic = time.Now()
}

// ValMeter measures one validation epoch and tracks the best epoch seen.
type ValMeter struct {
	log        *slog.Logger
	epochIters int
	logPeriod  int

	iterStart time.Time
	iterTime  ScalarMeter
	epochTic  time.Time

	epoch *accumulator

	split        *Stats
	splitSamples int

	bestActionTop1 float64
	bestEpoch      int
	haveBest       bool
}

// NewValMeter sets up a validation meter.
func NewValMeter(epochIters, logPeriod int, log *slog.Logger) *ValMeter {
	if logPeriod <= 0 {
		logPeriod = 1
	}
	return &ValMeter{
		log:        log,
		epochIters: epochIters,
		logPeriod:  logPeriod,
		epoch:      newAccumulator(),
		epochTic:   time.Now(),
		bestEpoch:  -1,
	}
}

// IterTic marks the start of one iteration.
func (m *ValMeter) IterTic() {
	m.iterStart = time.Now()
}

// IterToc marks the end of one iteration.
func (m *ValMeter) IterToc() {
	m.iterTime.Add(time.Since(m.iterStart).Seconds())
}

// UpdateStats records one batch worth of statistics.
func (m *ValMeter) UpdateStats(s Stats, batchSize int) {
	m.epoch.add(s, batchSize)
}

// UpdateSplitStats installs exact split-level accuracies computed from
// predictions pooled across the whole split. They replace the batch-weighted
// accumulators in the epoch summary; detection shards are uneven across
// ranks, so only pooled numbers are exact there.
func (m *ValMeter) UpdateSplitStats(s Stats, samples int) {
	m.split = &s
	m.splitSamples = samples
}

// LogIterStats emits a windowed progress line every log period.
func (m *ValMeter) LogIterStats(epoch, iter int) {
	if (iter+1)%m.logPeriod != 0 {
		return
	}
	m.log.Info("val iter",
		"epoch", epoch,
		"iter", fmt.Sprintf("%d/%d", iter+1, m.epochIters),
		"iter_time", m.iterTime.WindowAverage(),
	)
}

// LogEpochStats emits the epoch summary. The second return is true when this
// epoch set a new best action top-1 accuracy.
func (m *ValMeter) LogEpochStats(epoch int) (EpochSummary, bool) {
	s := EpochSummary{
		Split:      "val",
		Epoch:      epoch,
		VerbTop1:   m.epoch.mean("verb1"),
		VerbTop5:   m.epoch.mean("verb5"),
		NounTop1:   m.epoch.mean("noun1"),
		NounTop5:   m.epoch.mean("noun5"),
		ActionTop1: m.epoch.mean("action1"),
		ActionTop5: m.epoch.mean("action5"),
		Duration:   time.Since(m.epochTic),
	}
	if m.split != nil {
		s.VerbTop1 = m.split.VerbTop1
		s.VerbTop5 = m.split.VerbTop5
		s.NounTop1 = m.split.NounTop1
		s.NounTop5 = m.split.NounTop5
		s.ActionTop1 = m.split.ActionTop1
		s.ActionTop5 = m.split.ActionTop5
	}
	best := !m.haveBest || s.ActionTop1 > m.bestActionTop1
	if best {
		m.bestActionTop1 = s.ActionTop1
		m.bestEpoch = epoch
		m.haveBest = true
	}
	samples := m.epoch.samples
	if m.split != nil {
		samples = m.splitSamples
	}
	m.log.Info("val epoch",
		"epoch", epoch,
		"samples", samples,
		"verb_top1", s.VerbTop1,
		"noun_top1", s.NounTop1,
		"action_top1", s.ActionTop1,
		"best_epoch", m.bestEpoch,
		"best_action_top1", m.bestActionTop1,
	)
	return s, best
}

// BestEpoch reports the best epoch so far and its action top-1 accuracy.
// The flag is false until at least one epoch finished.
func (m *ValMeter) BestEpoch() (int, float64, bool) {
	return m.bestEpoch, m.bestActionTop1, m.haveBest
}

// Reset prepares the meter for a new epoch. Best-epoch tracking survives.
func (m *ValMeter) Reset() {
	m.iterTime.Reset()
	m.epoch.reset()
	m.split = nil
	m.splitSamples = 0
	m.epochTic = time.Now()
}

// TestMeter accumulates statistics over a single evaluation run.
type TestMeter struct {
	log   *slog.Logger
	epoch *accumulator
	tic   time.Time

	split        *Stats
	splitSamples int
}

// NewTestMeter sets up a test meter.
func NewTestMeter(log *slog.Logger) *TestMeter {
	return &TestMeter{log: log, epoch: newAccumulator(), tic: time.Now()}
}

// UpdateStats records one batch worth of statistics.
func (m *TestMeter) UpdateStats(s Stats, batchSize int) {
	m.epoch.add(s, batchSize)
}

// UpdateSplitStats installs exact split-level accuracies pooled across the
// whole split, replacing the batch-weighted accumulators in the summary.
func (m *TestMeter) UpdateSplitStats(s Stats, samples int) {
	m.split = &s
	m.splitSamples = samples
}

// Finalize emits and returns the aggregate summary.
func (m *TestMeter) Finalize() EpochSummary {
	s := EpochSummary{
		Split:      "test",
		VerbTop1:   m.epoch.mean("verb1"),
		VerbTop5:   m.epoch.mean("verb5"),
		NounTop1:   m.epoch.mean("noun1"),
		NounTop5:   m.epoch.mean("noun5"),
		ActionTop1: m.epoch.mean("action1"),
		ActionTop5: m.epoch.mean("action5"),
		Duration:   time.Since(m.tic),
	}
	samples := m.epoch.samples
	if m.split != nil {
		s.VerbTop1 = m.split.VerbTop1
		s.VerbTop5 = m.split.VerbTop5
		s.NounTop1 = m.split.NounTop1
		s.NounTop5 = m.split.NounTop5
		s.ActionTop1 = m.split.ActionTop1
		s.ActionTop5 = m.split.ActionTop5
		samples = m.splitSamples
	}
	m.log.Info("test results",
		"samples", samples,
		"verb_top1", s.VerbTop1,
		"noun_top1", s.NounTop1,
		"action_top1", s.ActionTop1,
	)
	return s
}
