package training

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"egotrain/checkpoints"
	"egotrain/config"
	"egotrain/dataset"
	"egotrain/distributed"
	"egotrain/meters"
	"egotrain/metrics"
	"egotrain/model"
	"egotrain/runstore"
	"egotrain/solver"
)

// ProposalSource supplies region proposals for detection configurations.
// Proposal generation lives outside this package.
type ProposalSource func(batch *dataset.Batch) (*mat.Dense, error)

// Options wires a trainer together. Config, Log, Group, Model, Optimizer,
// Schedule, and Train are required; the rest are optional.
type Options struct {
	Config    *config.Config
	Log       *slog.Logger
	Group     *distributed.Group
	Model     model.Model
	Optimizer *solver.SGD
	Schedule  solver.Schedule
	Train     *dataset.EpicKitchens
	Val       *dataset.EpicKitchens
	Proposals ProposalSource
	Store     *runstore.Store
	RunID     string
}

// Trainer drives the curriculum training loop: a shuffled warmup phase with
// most parameters frozen, then sequential epochs that mix ground-truth and
// self-predicted history labels at a rate that ramps to 1 by the final
// epoch.
type Trainer struct {
	cfg   *config.Config
	log   *slog.Logger
	group *distributed.Group

	model     model.Model
	variant   model.Variant
	optim     *solver.SGD
	sched     solver.Schedule
	train     *dataset.EpicKitchens
	val       *dataset.EpicKitchens
	proposals ProposalSource
	store     *runstore.Store
	runID     string

	// Collectives are resolved once so every rank runs the same reduction
	// calls on every iteration.
	collective bool

	rng        *rand.Rand
	trainMeter *meters.TrainMeter
	valMeter   *meters.ValMeter
	summaries  []meters.EpochSummary
}

// New validates the options and builds a trainer.
func New(opts Options) (*Trainer, error) {
	if opts.Config == nil || opts.Model == nil || opts.Optimizer == nil || opts.Train == nil {
		return nil, fmt.Errorf("training: missing required options")
	}
	if opts.Group == nil {
		return nil, fmt.Errorf("training: missing process group")
	}
	if opts.Log == nil {
		return nil, fmt.Errorf("training: missing logger")
	}
	variant := model.ResolveVariant(opts.Config.Model.Recurrent, opts.Config.Model.Detection)
	if variant == model.VariantRecurrent {
		if _, ok := opts.Model.(model.RecurrentModel); !ok {
			return nil, fmt.Errorf("training: recurrent variant needs a RecurrentModel")
		}
	}
	if variant == model.VariantDetection {
		if _, ok := opts.Model.(model.DetectionModel); !ok {
			return nil, fmt.Errorf("training: detection variant needs a DetectionModel")
		}
		if opts.Proposals == nil {
			return nil, fmt.Errorf("training: detection variant needs a proposal source")
		}
	}
	t := &Trainer{
		cfg:        opts.Config,
		log:        opts.Log,
		group:      opts.Group,
		model:      opts.Model,
		variant:    variant,
		optim:      opts.Optimizer,
		sched:      opts.Schedule,
		train:      opts.Train,
		val:        opts.Val,
		proposals:  opts.Proposals,
		store:      opts.Store,
		runID:      opts.RunID,
		collective: opts.Group.Collective(),
		rng:        rand.New(rand.NewSource(opts.Config.Model.Seed + int64(opts.Group.Rank()))),
	}
	if su, ok := t.model.(model.StatsUpdater); ok && t.cfg.BN.FreezeStats {
		su.FreezeStats(true)
	}
	return t, nil
}

// Summaries returns the epoch summaries recorded so far, train and val
// interleaved in completion order.
func (t *Trainer) Summaries() []meters.EpochSummary {
	return t.summaries
}

// SampleRate returns the curriculum mixing rate for an epoch: zero before
// the freeze epoch, then a linear ramp reaching 1 at the final epoch.
func (t *Trainer) SampleRate(epoch int) float64 {
	freeze := t.cfg.Train.FreezeEpoch
	if epoch < freeze {
		return 0
	}
	return float64(epoch-freeze+1) / float64(t.cfg.Solver.MaxEpoch-freeze)
}

// Run executes the full training schedule, resuming from the latest
// checkpoint when configured.
func (t *Trainer) Run(ctx context.Context) error {
	startEpoch, err := t.restore()
	if err != nil {
		return err
	}

	maxEpoch := t.cfg.Solver.MaxEpoch
	freeze := t.cfg.Train.FreezeEpoch
	t.trainMeter = meters.NewTrainMeter(0, t.cfg.Train.LogPeriod, t.log)
	t.valMeter = meters.NewValMeter(0, t.cfg.Train.LogPeriod, t.log)

	for epoch := startEpoch; epoch < maxEpoch; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		sampleRate := t.SampleRate(epoch)
		curriculum := epoch >= freeze
		// Reasserted every epoch so a resumed run lands with the right
		// parameters trainable.
		if curriculum {
			t.model.ApplyFreeze(model.FreezeNone)
		} else {
			t.model.ApplyFreeze(model.FreezeAllButLast)
		}

		loader, err := t.epochLoader(epoch, curriculum)
		if err != nil {
			return err
		}

		if curriculum {
			// Populate every record's temp label from the current model
			// before any mixed batch is consumed.
			if err := t.selfPredictionPass(ctx, epoch, sampleRate); err != nil {
				return err
			}
		}

		t.log.Info("epoch start",
			"epoch", epoch,
			"phase", phaseName(curriculum),
			"sample_rate", sampleRate,
			"batches", loader.Len(),
		)
		if err := t.trainEpoch(ctx, epoch, sampleRate, loader, !curriculum); err != nil {
			return err
		}

		if err := t.preciseStats(ctx); err != nil {
			return err
		}

		isBest := false
		if t.val != nil && checkpoints.IsEvalEpoch(epoch, t.cfg.Train.EvalPeriod) {
			isBest, err = t.evalEpoch(ctx, epoch)
			if err != nil {
				return err
			}
		}
		if err := t.checkpoint(epoch, sampleRate, isBest); err != nil {
			return err
		}
	}
	return nil
}

func phaseName(curriculum bool) string {
	if curriculum {
		return "curriculum"
	}
	return "shuffle"
}

// restore implements auto-resume and fine-tune loading. It returns the
// first epoch to run.
func (t *Trainer) restore() (int, error) {
	outputDir := t.cfg.Output.Dir
	switch {
	case t.cfg.Train.AutoResume && checkpoints.HasCheckpoint(outputDir):
		path, err := checkpoints.LastCheckpoint(outputDir)
		if err != nil {
			return 0, err
		}
		state, err := checkpoints.Load(path, t.model, t.optim)
		if err != nil {
			return 0, err
		}
		t.log.Info("resumed from checkpoint", "path", path, "epoch", state.Epoch)
		return state.Epoch + 1, nil
	case t.cfg.Train.FinetunePath != "":
		// Weights only: epoch counter and optimizer state start fresh.
		if _, err := checkpoints.Load(t.cfg.Train.FinetunePath, t.model, nil); err != nil {
			return 0, err
		}
		t.log.Info("loaded fine-tune weights", "path", t.cfg.Train.FinetunePath)
		return 0, nil
	}
	return 0, nil
}

// epochLoader builds the loader for one training epoch: shuffled batches
// before the freeze epoch, the sequential schedule after.
func (t *Trainer) epochLoader(epoch int, curriculum bool) (*dataset.Loader, error) {
	var (
		sampler dataset.BatchSampler
		err     error
	)
	if curriculum {
		sampler, err = dataset.NewSequentialBatchSampler(t.train.Records(), t.cfg.Data.BatchSize)
	} else {
		sampler, err = dataset.NewRandomBatchSampler(t.train.Len(), t.cfg.Data.BatchSize, t.cfg.Model.Seed)
	}
	if err != nil {
		return nil, err
	}
	loader := dataset.NewLoader(t.train, sampler, t.cfg.Data.LoaderWorkers)
	if !curriculum {
		if err := loader.Shuffle(epoch); err != nil {
			return nil, err
		}
	}
	return loader, nil
}

// selfPredictionPass runs the model over the training set in sequential
// order with gradients off, storing each record's predicted labels as its
// temp label. Sequential order makes every history reference point at an
// already-predicted record, so mixing during this pass never reads an
// unset label.
func (t *Trainer) selfPredictionPass(ctx context.Context, epoch int, sampleRate float64) error {
	sampler, err := dataset.NewSequentialBatchSampler(t.train.Records(), t.cfg.Data.BatchSize)
	if err != nil {
		return err
	}
	loader := dataset.NewLoader(t.train, sampler, t.cfg.Data.LoaderWorkers)

	t.train.InvalidateTempLabels()
	t.model.Eval()
	t.log.Info("self-prediction pass", "epoch", epoch, "batches", loader.Len())

	it := loader.Iter()
	defer it.Stop()
	for batch := range it.C {
		if err := ctx.Err(); err != nil {
			return err
		}
		verb, noun, err := t.forward(batch, sampleRate)
		if err != nil {
			return err
		}
		verbPred := metrics.ArgmaxRows(verb)
		nounPred := metrics.ArgmaxRows(noun)
		for i, idx := range batch.Indexes {
			t.train.Record(idx).SetTempLabel(verbPred[i], nounPred[i])
		}
	}
	return it.Err()
}

// forward dispatches one batch through the configured model variant.
func (t *Trainer) forward(batch *dataset.Batch, sampleRate float64) (*mat.Dense, *mat.Dense, error) {
	switch t.variant {
	case model.VariantRecurrent:
		history, err := BuildHistory(t.train, batch.History, sampleRate, t.rng,
			t.cfg.Model.NumVerbClasses, t.cfg.Model.NumNounClasses)
		if err != nil {
			return nil, nil, err
		}
		return t.model.(model.RecurrentModel).ForwardWithHistory(batch.Features, history)
	case model.VariantDetection:
		boxes, err := t.proposals(batch)
		if err != nil {
			return nil, nil, err
		}
		return t.model.(model.DetectionModel).ForwardWithProposals(batch.Features, boxes)
	default:
		return t.model.Forward(batch.Features)
	}
}

// trainEpoch runs one optimization epoch. truncate limits warmup epochs to
// a tenth of the schedule.
func (t *Trainer) trainEpoch(ctx context.Context, epoch int, sampleRate float64, loader *dataset.Loader, truncate bool) error {
	iters := loader.Len()
	if truncate {
		iters = iters / 10
		if iters < 1 {
			iters = 1
		}
	}
	t.trainMeter.Reset()
	t.trainMeter.UpdateEpochIters(iters)
	t.model.Train()

	it := loader.Iter()
	defer it.Stop()

	i := 0
	for batch := range it.C {
		if i >= iters {
			it.Stop()
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		t.trainMeter.IterTic()

		lr := t.sched.EpochLR(float64(epoch) + float64(i)/float64(iters))
		t.optim.SetLR(lr)

		verb, noun, err := t.forward(batch, sampleRate)
		if err != nil {
			return err
		}

		verbLoss, dVerb, err := solver.CrossEntropy(verb, batch.Verbs)
		if err != nil {
			return err
		}
		nounLoss, dNoun, err := solver.CrossEntropy(noun, batch.Nouns)
		if err != nil {
			return err
		}
		loss := solver.MultiTaskLoss(verbLoss, nounLoss)
		if err := solver.CheckFinite(loss); err != nil {
			// Halt rather than skip: a diverged step must never reach a
			// checkpoint.
			return fmt.Errorf("training: epoch %d iter %d: %w", epoch, i, err)
		}

		t.optim.ZeroGrad()
		if err := t.model.Backward(dVerb, dNoun); err != nil {
			return err
		}
		t.optim.Step()

		stats, err := t.batchStats(verb, noun, batch, loss, lr)
		if err != nil {
			return err
		}
		t.trainMeter.UpdateStats(stats, batch.Size())
		t.trainMeter.IterToc()
		t.trainMeter.LogIterStats(epoch, i)
		i++
	}
	if err := it.Err(); err != nil {
		return err
	}

	summary := t.trainMeter.LogEpochStats(epoch)
	return t.record(summary)
}

// batchStats computes batch accuracies and reduces them across the worker
// group before they reach the meter. Reduction happens first so every rank
// logs identical values.
func (t *Trainer) batchStats(verb, noun *mat.Dense, batch *dataset.Batch, loss, lr float64) (meters.Stats, error) {
	ks := []int{1, 5}
	verbAcc, err := metrics.TopKAccuracies(verb, batch.Verbs, ks)
	if err != nil {
		return meters.Stats{}, err
	}
	nounAcc, err := metrics.TopKAccuracies(noun, batch.Nouns, ks)
	if err != nil {
		return meters.Stats{}, err
	}
	actionAcc, err := metrics.MultitaskTopKAccuracies(verb, noun, batch.Verbs, batch.Nouns, ks)
	if err != nil {
		return meters.Stats{}, err
	}

	vals := []float64{loss, verbAcc[0], verbAcc[1], nounAcc[0], nounAcc[1], actionAcc[0], actionAcc[1]}
	if t.collective {
		vals = t.group.AllReduce(vals)
	}
	return meters.Stats{
		Loss:       vals[0],
		VerbTop1:   vals[1],
		VerbTop5:   vals[2],
		NounTop1:   vals[3],
		NounTop5:   vals[4],
		ActionTop1: vals[5],
		ActionTop5: vals[6],
		LR:         lr,
	}, nil
}

// hitStride is the number of indicator values encoded per sample: verb,
// noun, and joint action hits at top-1 and top-5.
const hitStride = 6

// sampleHits flattens one batch's per-sample top-k hit indicators,
// hitStride values per sample, for pooling across ranks.
func sampleHits(verb, noun *mat.Dense, batch *dataset.Batch) ([]float64, error) {
	ks := []int{1, 5}
	verbHits, err := metrics.TopKHits(verb, batch.Verbs, ks)
	if err != nil {
		return nil, err
	}
	nounHits, err := metrics.TopKHits(noun, batch.Nouns, ks)
	if err != nil {
		return nil, err
	}

	out := make([]float64, 0, len(verbHits)*hitStride)
	for i := range verbHits {
		v1, v5 := verbHits[i][0], verbHits[i][1]
		n1, n5 := nounHits[i][0], nounHits[i][1]
		out = append(out, v1, v5, n1, n5, v1*n1, v5*n5)
	}
	return out, nil
}

// poolHitStats turns pooled hit indicators back into split-level accuracy
// percentages, returning the pooled sample count alongside.
func poolHitStats(hits []float64) (meters.Stats, int, error) {
	if len(hits)%hitStride != 0 {
		return meters.Stats{}, 0, fmt.Errorf("training: pooled hits length %d not a multiple of %d", len(hits), hitStride)
	}
	samples := len(hits) / hitStride
	if samples == 0 {
		return meters.Stats{}, 0, fmt.Errorf("training: no pooled predictions")
	}

	var sums [hitStride]float64
	for i, v := range hits {
		sums[i%hitStride] += v
	}
	n := float64(samples)
	return meters.Stats{
		VerbTop1:   sums[0] / n * 100.0,
		VerbTop5:   sums[1] / n * 100.0,
		NounTop1:   sums[2] / n * 100.0,
		NounTop5:   sums[3] / n * 100.0,
		ActionTop1: sums[4] / n * 100.0,
		ActionTop5: sums[5] / n * 100.0,
	}, samples, nil
}

// evalEpoch mirrors the training per-iteration protocol without gradients.
// Validation history always comes from ground truth; val records never
// receive temp labels.
func (t *Trainer) evalEpoch(ctx context.Context, epoch int) (bool, error) {
	sampler, err := dataset.NewSequentialBatchSampler(t.val.Records(), t.cfg.Data.BatchSize)
	if err != nil {
		return false, err
	}
	loader := dataset.NewLoader(t.val, sampler, t.cfg.Data.LoaderWorkers)

	t.valMeter.Reset()
	t.model.Eval()

	it := loader.Iter()
	defer it.Stop()
	var localHits []float64
	i := 0
	for batch := range it.C {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		t.valMeter.IterTic()
		verb, noun, err := t.evalForward(batch)
		if err != nil {
			return false, err
		}
		if t.variant == model.VariantDetection {
			hits, err := sampleHits(verb, noun, batch)
			if err != nil {
				return false, err
			}
			localHits = append(localHits, hits...)
		}
		stats, err := t.batchStats(verb, noun, batch, 0, 0)
		if err != nil {
			return false, err
		}
		t.valMeter.UpdateStats(stats, batch.Size())
		t.valMeter.IterToc()
		t.valMeter.LogIterStats(epoch, i)
		i++
	}
	if err := it.Err(); err != nil {
		return false, err
	}

	// Detection shards are uneven across ranks, so batch-weighted averages
	// are not exact. Gather every rank's per-sample hits and compute the
	// split-level accuracies from the pooled set.
	if t.variant == model.VariantDetection {
		pooled := localHits
		if t.collective {
			pooled = pooled[:0:0]
			for _, ranks := range t.group.AllGatherUnaligned(localHits) {
				pooled = append(pooled, ranks...)
			}
		}
		stats, samples, err := poolHitStats(pooled)
		if err != nil {
			return false, err
		}
		t.valMeter.UpdateSplitStats(stats, samples)
		if t.group.IsMaster() {
			t.log.Info("pooled detection predictions", "epoch", epoch, "samples", samples)
		}
	}

	summary, best := t.valMeter.LogEpochStats(epoch)
	if err := t.record(summary); err != nil {
		return false, err
	}
	if best && t.store != nil && t.group.IsMaster() {
		if err := t.store.SetBest(context.Background(), t.runID, epoch, summary.ActionTop1); err != nil {
			return false, err
		}
	}
	return best, nil
}

// evalForward dispatches the validation forward pass. The recurrent history
// is built over the validation dataset at rate zero.
func (t *Trainer) evalForward(batch *dataset.Batch) (*mat.Dense, *mat.Dense, error) {
	if t.variant == model.VariantRecurrent {
		history, err := BuildHistory(t.val, batch.History, 0, t.rng,
			t.cfg.Model.NumVerbClasses, t.cfg.Model.NumNounClasses)
		if err != nil {
			return nil, nil, err
		}
		return t.model.(model.RecurrentModel).ForwardWithHistory(batch.Features, history)
	}
	return t.forward(batch, 0)
}

// preciseStats re-estimates running feature statistics over the training
// set after an epoch, when enabled.
func (t *Trainer) preciseStats(ctx context.Context) error {
	if !t.cfg.BN.PreciseEnabled {
		return nil
	}
	su, ok := t.model.(model.StatsUpdater)
	if !ok {
		return nil
	}
	sampler, err := dataset.NewRandomBatchSampler(t.train.Len(), t.cfg.Data.BatchSize, t.cfg.Model.Seed)
	if err != nil {
		return err
	}
	loader := dataset.NewLoader(t.train, sampler, t.cfg.Data.LoaderWorkers)

	su.ResetRunningStats()
	it := loader.Iter()
	defer it.Stop()
	i := 0
	for batch := range it.C {
		if i >= t.cfg.BN.NumBatchesPrecise {
			it.Stop()
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		su.AccumulateStats(batch.Features)
		i++
	}
	return it.Err()
}

// checkpoint saves periodic and best-epoch checkpoints on the master rank.
func (t *Trainer) checkpoint(epoch int, sampleRate float64, isBest bool) error {
	if !t.group.IsMaster() {
		return nil
	}
	if !isBest && !checkpoints.IsCheckpointEpoch(epoch, t.cfg.Train.CheckpointPeriod) {
		return nil
	}
	state := checkpoints.TrainingState{
		Epoch:        epoch,
		SampleRate:   sampleRate,
		LearningRate: t.optim.LR(),
	}
	path, err := checkpoints.Save(t.cfg.Output.Dir, t.model, t.optim, state, t.runID, isBest)
	if err != nil {
		return err
	}
	t.log.Info("checkpoint saved", "path", path, "epoch", epoch, "best", isBest)
	return nil
}

// record appends an epoch summary and persists it on the master rank.
func (t *Trainer) record(summary meters.EpochSummary) error {
	t.summaries = append(t.summaries, summary)
	if t.store == nil || !t.group.IsMaster() {
		return nil
	}
	return t.store.RecordEpoch(context.Background(), t.runID, summary)
}
