package solver

import (
	"fmt"
	"math"
)

// Schedule computes the learning rate from a continuous epoch position
// (epoch + iteration fraction), so the rate moves within an epoch rather
// than stepping once per epoch boundary.
type Schedule struct {
	Policy        string // "cosine" or "steps"
	BaseLR        float64
	MaxEpoch      int
	Steps         []int     // steps policy: epoch boundaries
	RelativeLRs   []float64 // steps policy: multiplier per interval
	WarmupEpochs  float64
	WarmupStartLR float64
}

// Validate checks schedule consistency.
func (s Schedule) Validate() error {
	switch s.Policy {
	case "cosine":
	case "steps":
		if len(s.RelativeLRs) != len(s.Steps)+1 {
			return fmt.Errorf("solver: steps policy needs %d relative lrs for %d steps, got %d",
				len(s.Steps)+1, len(s.Steps), len(s.RelativeLRs))
		}
	default:
		return fmt.Errorf("solver: unknown lr policy %q", s.Policy)
	}
	if s.BaseLR <= 0 {
		return fmt.Errorf("solver: base lr must be positive, got %g", s.BaseLR)
	}
	if s.MaxEpoch <= 0 {
		return fmt.Errorf("solver: max epoch must be positive, got %d", s.MaxEpoch)
	}
	return nil
}

// EpochLR returns the learning rate at the given continuous epoch.
func (s Schedule) EpochLR(epoch float64) float64 {
	if s.WarmupEpochs > 0 && epoch < s.WarmupEpochs {
		// Linear ramp from the warmup start rate to the schedule's value
		// at the end of warmup.
		target := s.policyLR(s.WarmupEpochs)
		alpha := (target - s.WarmupStartLR) / s.WarmupEpochs
		return s.WarmupStartLR + epoch*alpha
	}
	return s.policyLR(epoch)
}

func (s Schedule) policyLR(epoch float64) float64 {
	switch s.Policy {
	case "cosine":
		return s.BaseLR * (math.Cos(math.Pi*epoch/float64(s.MaxEpoch)) + 1.0) * 0.5
	case "steps":
		idx := 0
		for i, step := range s.Steps {
			if epoch >= float64(step) {
				idx = i + 1
			}
		}
		return s.BaseLR * s.RelativeLRs[idx]
	default:
		return s.BaseLR
	}
}
