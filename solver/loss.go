package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrNonFiniteLoss reports numerical divergence. Training halts on it
// rather than skipping the batch, so checkpoints never absorb a corrupted
// update.
var ErrNonFiniteLoss = errors.New("solver: non-finite loss")

// CrossEntropy computes mean-reduced softmax cross-entropy and the
// gradient of that loss with respect to the logits. Labels index classes;
// every label must be in range.
func CrossEntropy(logits *mat.Dense, labels []int) (float64, *mat.Dense, error) {
	rows, cols := logits.Dims()
	if rows != len(labels) {
		return 0, nil, fmt.Errorf("solver: %d logit rows for %d labels", rows, len(labels))
	}

	grad := mat.NewDense(rows, cols, nil)
	total := 0.0
	for i := 0; i < rows; i++ {
		label := labels[i]
		if label < 0 || label >= cols {
			return 0, nil, fmt.Errorf("solver: label %d out of range [0, %d)", label, cols)
		}

		// Log-sum-exp with max subtraction for stability.
		maxVal := logits.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := logits.At(i, j); v > maxVal {
				maxVal = v
			}
		}
		sumExp := 0.0
		for j := 0; j < cols; j++ {
			sumExp += math.Exp(logits.At(i, j) - maxVal)
		}
		logSumExp := maxVal + math.Log(sumExp)
		total += logSumExp - logits.At(i, label)

		for j := 0; j < cols; j++ {
			p := math.Exp(logits.At(i, j)-maxVal) / sumExp
			if j == label {
				p -= 1.0
			}
			grad.Set(i, j, p/float64(rows))
		}
	}
	return total / float64(rows), grad, nil
}

// MultiTaskLoss averages the per-task losses 50/50.
func MultiTaskLoss(verbLoss, nounLoss float64) float64 {
	return 0.5 * (verbLoss + nounLoss)
}

// CheckFinite returns ErrNonFiniteLoss when the loss is NaN or infinite.
func CheckFinite(loss float64) error {
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return fmt.Errorf("%w: %v", ErrNonFiniteLoss, loss)
	}
	return nil
}
