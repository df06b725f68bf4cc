// Package training runs the curriculum training and evaluation loops.
package training

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"egotrain/dataset"
)

// BuildHistory assembles the one-hot label-history tensor for one batch.
// history holds one window per sample, each a slice of prior record indices
// within the same video (-1 for padding). Every valid position draws an
// independent coin against sampleRate: with probability sampleRate the
// record's self-predicted temp label is used, otherwise the ground-truth
// annotation. Within each position the noun one-hot block comes first,
// then the verb block. Padding and missing labels stay zero. rng may be
// nil when sampleRate is zero; no draws happen then.
//
// The coin is drawn per position, not per sample. Windows can therefore mix
// sources; that matches the trained models and changing it would invalidate
// their checkpoints.
func BuildHistory(ds *dataset.EpicKitchens, history [][]int, sampleRate float64, rng *rand.Rand, numVerb, numNoun int) (*mat.Dense, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("training: empty history batch")
	}
	window := len(history[0])
	width := numNoun + numVerb
	out := mat.NewDense(len(history), window*width, nil)

	for i, indices := range history {
		if len(indices) != window {
			return nil, fmt.Errorf("training: ragged history window: %d vs %d", len(indices), window)
		}
		for pos, idx := range indices {
			if idx < 0 {
				continue
			}
			rec := ds.Record(idx)
			label := rec.Label()
			if sampleRate > 0 && rng.Float64() < sampleRate {
				temp, err := rec.TempLabel()
				if err != nil {
					return nil, fmt.Errorf("training: history for record %s: %w", rec.Index(), err)
				}
				label = temp
			}
			base := pos * width
			if label.Noun >= 0 {
				if label.Noun >= numNoun {
					return nil, fmt.Errorf("training: noun class %d out of range", label.Noun)
				}
				out.Set(i, base+label.Noun, 1)
			}
			if label.Verb >= 0 {
				if label.Verb >= numVerb {
					return nil, fmt.Errorf("training: verb class %d out of range", label.Verb)
				}
				out.Set(i, base+numNoun+label.Verb, 1)
			}
		}
	}
	return out, nil
}

// HistoryDim returns the width of the history tensor for the given window
// length and class counts.
func HistoryDim(window, numVerb, numNoun int) int {
	return window * (numVerb + numNoun)
}
