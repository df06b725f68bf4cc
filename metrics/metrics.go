// Package metrics computes top-k classification accuracies for the verb,
// noun and joint action tasks.
package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// topKRanks returns, per row of preds, the class indices ordered by
// descending score, truncated to maxK.
func topKRanks(preds *mat.Dense, maxK int) ([][]int, error) {
	rows, cols := preds.Dims()
	if maxK > cols {
		return nil, fmt.Errorf("metrics: k=%d exceeds %d classes", maxK, cols)
	}
	ranks := make([][]int, rows)
	row := make([]float64, cols)
	inds := make([]int, cols)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, preds)
		floats.Argsort(row, inds)
		top := make([]int, maxK)
		for k := 0; k < maxK; k++ {
			top[k] = inds[cols-1-k]
		}
		ranks[i] = top
	}
	return ranks, nil
}

// TopKCorrect counts, for each k in ks, how many rows of preds rank the
// true label within the top k scores.
func TopKCorrect(preds *mat.Dense, labels []int, ks []int) ([]float64, error) {
	rows, _ := preds.Dims()
	if rows != len(labels) {
		return nil, fmt.Errorf("metrics: %d prediction rows for %d labels", rows, len(labels))
	}
	maxK := 0
	for _, k := range ks {
		if k <= 0 {
			return nil, fmt.Errorf("metrics: k must be positive, got %d", k)
		}
		if k > maxK {
			maxK = k
		}
	}
	ranks, err := topKRanks(preds, maxK)
	if err != nil {
		return nil, err
	}

	correct := make([]float64, len(ks))
	for i, top := range ranks {
		for ki, k := range ks {
			for _, cls := range top[:k] {
				if cls == labels[i] {
					correct[ki]++
					break
				}
			}
		}
	}
	return correct, nil
}

// TopKHits returns, per prediction row, a 0/1 indicator for each k in ks
// telling whether the true label ranks within the top k scores. Callers
// that pool predictions across uneven shards aggregate these instead of
// batch-level accuracies.
func TopKHits(preds *mat.Dense, labels []int, ks []int) ([][]float64, error) {
	rows, _ := preds.Dims()
	if rows != len(labels) {
		return nil, fmt.Errorf("metrics: %d prediction rows for %d labels", rows, len(labels))
	}
	maxK := 0
	for _, k := range ks {
		if k <= 0 {
			return nil, fmt.Errorf("metrics: k must be positive, got %d", k)
		}
		if k > maxK {
			maxK = k
		}
	}
	ranks, err := topKRanks(preds, maxK)
	if err != nil {
		return nil, err
	}

	hits := make([][]float64, rows)
	for i, top := range ranks {
		hits[i] = make([]float64, len(ks))
		for ki, k := range ks {
			if contains(top[:k], labels[i]) {
				hits[i][ki] = 1
			}
		}
	}
	return hits, nil
}

// TopKAccuracies returns top-k accuracies as percentages.
func TopKAccuracies(preds *mat.Dense, labels []int, ks []int) ([]float64, error) {
	correct, err := TopKCorrect(preds, labels, ks)
	if err != nil {
		return nil, err
	}
	rows, _ := preds.Dims()
	accs := make([]float64, len(ks))
	for i, c := range correct {
		accs[i] = c / float64(rows) * 100.0
	}
	return accs, nil
}

// MultitaskTopKAccuracies returns, as percentages, the fraction of samples
// whose verb AND noun labels both rank within the top k of their task's
// predictions. This is the joint "action" accuracy.
func MultitaskTopKAccuracies(verbPreds, nounPreds *mat.Dense, verbLabels, nounLabels []int, ks []int) ([]float64, error) {
	rows, _ := verbPreds.Dims()
	nounRows, _ := nounPreds.Dims()
	if rows != nounRows {
		return nil, fmt.Errorf("metrics: verb batch %d != noun batch %d", rows, nounRows)
	}
	if rows != len(verbLabels) || rows != len(nounLabels) {
		return nil, fmt.Errorf("metrics: batch %d with %d verb and %d noun labels", rows, len(verbLabels), len(nounLabels))
	}
	maxK := 0
	for _, k := range ks {
		if k <= 0 {
			return nil, fmt.Errorf("metrics: k must be positive, got %d", k)
		}
		if k > maxK {
			maxK = k
		}
	}
	verbRanks, err := topKRanks(verbPreds, maxK)
	if err != nil {
		return nil, err
	}
	nounRanks, err := topKRanks(nounPreds, maxK)
	if err != nil {
		return nil, err
	}

	accs := make([]float64, len(ks))
	for i := 0; i < rows; i++ {
		for ki, k := range ks {
			if contains(verbRanks[i][:k], verbLabels[i]) && contains(nounRanks[i][:k], nounLabels[i]) {
				accs[ki]++
			}
		}
	}
	for i := range accs {
		accs[i] = accs[i] / float64(rows) * 100.0
	}
	return accs, nil
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// ArgmaxRows returns the highest-scoring class per row.
func ArgmaxRows(preds *mat.Dense) []int {
	rows, cols := preds.Dims()
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		best := 0
		bestVal := preds.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := preds.At(i, j); v > bestVal {
				bestVal = v
				best = j
			}
		}
		out[i] = best
	}
	return out
}
