package training

import (
	"context"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"egotrain/config"
	"egotrain/dataset"
	"egotrain/distributed"
	"egotrain/meters"
	"egotrain/metrics"
	"egotrain/model"
)

// EvalOptions wires a standalone evaluation run. The model arrives already
// loaded; checkpoint handling is the caller's job.
type EvalOptions struct {
	Config    *config.Config
	Log       *slog.Logger
	Group     *distributed.Group
	Model     model.Model
	Dataset   *dataset.EpicKitchens
	Proposals ProposalSource
}

// Evaluate runs the model over one split in sequential order and returns
// the aggregate summary. History labels come from ground truth only.
func Evaluate(ctx context.Context, opts EvalOptions) (meters.EpochSummary, error) {
	if opts.Config == nil || opts.Model == nil || opts.Dataset == nil || opts.Group == nil || opts.Log == nil {
		return meters.EpochSummary{}, fmt.Errorf("training: missing required eval options")
	}
	variant := model.ResolveVariant(opts.Config.Model.Recurrent, opts.Config.Model.Detection)
	if variant == model.VariantDetection && opts.Proposals == nil {
		return meters.EpochSummary{}, fmt.Errorf("training: detection variant needs a proposal source")
	}

	batchSize := opts.Config.Test.BatchSize
	sampler, err := dataset.NewSequentialBatchSampler(opts.Dataset.Records(), batchSize)
	if err != nil {
		return meters.EpochSummary{}, err
	}
	loader := dataset.NewLoader(opts.Dataset, sampler, opts.Config.Data.LoaderWorkers)

	collective := opts.Group.Collective()
	meter := meters.NewTestMeter(opts.Log)
	opts.Model.Eval()
	opts.Log.Info("evaluation start", "samples", opts.Dataset.Len(), "batches", loader.Len())

	it := loader.Iter()
	defer it.Stop()
	var localHits []float64
	for batch := range it.C {
		if err := ctx.Err(); err != nil {
			return meters.EpochSummary{}, err
		}
		verb, noun, err := evalForward(opts, variant, batch)
		if err != nil {
			return meters.EpochSummary{}, err
		}
		if variant == model.VariantDetection {
			hits, err := sampleHits(verb, noun, batch)
			if err != nil {
				return meters.EpochSummary{}, err
			}
			localHits = append(localHits, hits...)
		}
		stats, err := evalStats(opts.Group, collective, verb, noun, batch)
		if err != nil {
			return meters.EpochSummary{}, err
		}
		meter.UpdateStats(stats, batch.Size())
	}
	if err := it.Err(); err != nil {
		return meters.EpochSummary{}, err
	}

	// Detection accuracies come from predictions pooled over the full split.
	if variant == model.VariantDetection {
		pooled := localHits
		if collective {
			pooled = pooled[:0:0]
			for _, ranks := range opts.Group.AllGatherUnaligned(localHits) {
				pooled = append(pooled, ranks...)
			}
		}
		stats, samples, err := poolHitStats(pooled)
		if err != nil {
			return meters.EpochSummary{}, err
		}
		meter.UpdateSplitStats(stats, samples)
	}
	return meter.Finalize(), nil
}

func evalForward(opts EvalOptions, variant model.Variant, batch *dataset.Batch) (*mat.Dense, *mat.Dense, error) {
	switch variant {
	case model.VariantRecurrent:
		history, err := BuildHistory(opts.Dataset, batch.History, 0, nil,
			opts.Config.Model.NumVerbClasses, opts.Config.Model.NumNounClasses)
		if err != nil {
			return nil, nil, err
		}
		return opts.Model.(model.RecurrentModel).ForwardWithHistory(batch.Features, history)
	case model.VariantDetection:
		boxes, err := opts.Proposals(batch)
		if err != nil {
			return nil, nil, err
		}
		return opts.Model.(model.DetectionModel).ForwardWithProposals(batch.Features, boxes)
	default:
		return opts.Model.Forward(batch.Features)
	}
}

func evalStats(group *distributed.Group, collective bool, verb, noun *mat.Dense, batch *dataset.Batch) (meters.Stats, error) {
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
	vals := []float64{verbAcc[0], verbAcc[1], nounAcc[0], nounAcc[1], actionAcc[0], actionAcc[1]}
	if collective {
		vals = group.AllReduce(vals)
	}
	return meters.Stats{
		VerbTop1:   vals[0],
		VerbTop5:   vals[1],
		NounTop1:   vals[2],
		NounTop5:   vals[3],
		ActionTop1: vals[4],
		ActionTop5: vals[5],
	}, nil
}
