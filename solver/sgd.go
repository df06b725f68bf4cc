// Package solver provides the optimizer, the learning-rate schedules and
// the classification losses for the training loop.
package solver

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"egotrain/model"
)

// SGDConfig holds the optimizer hyperparameters.
type SGDConfig struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
}

// SGD implements stochastic gradient descent with momentum and weight
// decay over the model's parameter slices. Frozen parameters are skipped
// entirely, so freezing never leaks stale momentum into later updates.
type SGD struct {
	params   []*model.Parameter
	lr       float64
	momentum float64
	decay    float64
	velocity map[*model.Parameter]*mat.Dense
}

// NewSGD builds the optimizer for the given parameters.
func NewSGD(params []*model.Parameter, cfg SGDConfig) (*SGD, error) {
	if cfg.LR <= 0 {
		return nil, fmt.Errorf("solver: learning rate must be positive, got %g", cfg.LR)
	}
	if cfg.Momentum < 0 || cfg.Momentum >= 1 {
		return nil, fmt.Errorf("solver: momentum must be in [0, 1), got %g", cfg.Momentum)
	}
	return &SGD{
		params:   params,
		lr:       cfg.LR,
		momentum: cfg.Momentum,
		decay:    cfg.WeightDecay,
		velocity: make(map[*model.Parameter]*mat.Dense, len(params)),
	}, nil
}

// LR returns the current learning rate.
func (s *SGD) LR() float64 { return s.lr }

// SetLR sets the learning rate. The loop calls this every iteration with
// the continuous-epoch schedule value.
func (s *SGD) SetLR(lr float64) { s.lr = lr }

// ZeroGrad clears all gradient accumulators.
func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}

// Step applies one update to every unfrozen parameter.
func (s *SGD) Step() {
	for _, p := range s.params {
		if p.Frozen {
			continue
		}
		rows, cols := p.Value.Dims()
		vel := s.velocity[p]
		if vel == nil {
			vel = mat.NewDense(rows, cols, nil)
			s.velocity[p] = vel
		}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				g := p.Grad.At(i, j)
				if s.decay != 0 {
					g += s.decay * p.Value.At(i, j)
				}
				v := s.momentum*vel.At(i, j) + g
				vel.Set(i, j, v)
				p.Value.Set(i, j, p.Value.At(i, j)-s.lr*v)
			}
		}
	}
}

// State exports the momentum buffers for checkpointing, keyed by
// parameter name.
func (s *SGD) State() map[string][]float64 {
	out := make(map[string][]float64, len(s.velocity))
	for p, vel := range s.velocity {
		raw := vel.RawMatrix()
		data := make([]float64, len(raw.Data))
		copy(data, raw.Data)
		out[p.Name] = data
	}
	return out
}

// LoadState restores momentum buffers exported by State. Unknown names
// are ignored; shape mismatches fail.
func (s *SGD) LoadState(state map[string][]float64) error {
	byName := make(map[string]*model.Parameter, len(s.params))
	for _, p := range s.params {
		byName[p.Name] = p
	}
	for name, data := range state {
		p, ok := byName[name]
		if !ok {
			continue
		}
		rows, cols := p.Value.Dims()
		if len(data) != rows*cols {
			return fmt.Errorf("solver: momentum for %s has %d values, want %d", name, len(data), rows*cols)
		}
		buf := make([]float64, len(data))
		copy(buf, data)
		s.velocity[p] = mat.NewDense(rows, cols, buf)
	}
	return nil
}
