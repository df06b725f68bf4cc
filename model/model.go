// Package model defines the model surface the training loop drives, plus a
// reference classifier used for tests and CPU runs. Backbone architectures
// are external collaborators; the loop only depends on the interfaces here.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Variant is the closed set of forward-pass shapes. It is resolved once
// from configuration; the loop dispatches on it at the call site instead
// of re-checking flags per iteration.
type Variant int

const (
	// VariantPlain feeds image features alone.
	VariantPlain Variant = iota
	// VariantRecurrent additionally feeds the label-history tensor.
	VariantRecurrent
	// VariantDetection additionally feeds region proposals.
	VariantDetection
)

func (v Variant) String() string {
	switch v {
	case VariantPlain:
		return "plain"
	case VariantRecurrent:
		return "recurrent"
	case VariantDetection:
		return "detection"
	default:
		return "unknown"
	}
}

// ResolveVariant maps the configuration flags to a Variant. The recurrent
// head takes precedence over detection, matching the loop's dispatch order.
func ResolveVariant(recurrent, detection bool) Variant {
	switch {
	case recurrent:
		return VariantRecurrent
	case detection:
		return VariantDetection
	default:
		return VariantPlain
	}
}

// FreezePolicy selects which parameters receive gradient updates.
type FreezePolicy int

const (
	// FreezeAllButLast trains only the classification heads.
	FreezeAllButLast FreezePolicy = iota
	// FreezeNone trains every parameter.
	FreezeNone
)

// Parameter is one trainable tensor with its gradient accumulator.
type Parameter struct {
	Name   string
	Value  *mat.Dense
	Grad   *mat.Dense
	Frozen bool
}

// ZeroGrad clears the gradient accumulator.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Model is the minimal surface the training loop needs: a two-task forward
// pass, gradient accumulation from the task logit gradients, and
// train/eval/freeze mode control.
type Model interface {
	// Forward computes verb and noun logits, one row per sample.
	Forward(features *mat.Dense) (verb, noun *mat.Dense, err error)
	// Backward accumulates parameter gradients from logit gradients for
	// the most recent Forward call.
	Backward(dVerb, dNoun *mat.Dense) error
	// Parameters returns all trainable tensors.
	Parameters() []*Parameter
	// Train puts the model in training mode (running stats update).
	Train()
	// Eval puts the model in inference mode.
	Eval()
	// ApplyFreeze sets the parameter freeze policy.
	ApplyFreeze(policy FreezePolicy)
}

// RecurrentModel extends Model with the label-history conditioned forward
// pass used by the curriculum.
type RecurrentModel interface {
	Model
	// ForwardWithHistory additionally consumes the one-hot label-history
	// tensor (one row per sample).
	ForwardWithHistory(features, history *mat.Dense) (verb, noun *mat.Dense, err error)
}

// DetectionModel extends Model with a proposal-conditioned forward pass.
type DetectionModel interface {
	Model
	// ForwardWithProposals additionally consumes per-sample region
	// proposals.
	ForwardWithProposals(features, boxes *mat.Dense) (verb, noun *mat.Dense, err error)
}

// StatsUpdater is implemented by models with batch-norm style running
// statistics that can be re-estimated precisely after training.
type StatsUpdater interface {
	// ResetRunningStats clears accumulated statistics.
	ResetRunningStats()
	// AccumulateStats folds one batch of features into the statistics.
	AccumulateStats(features *mat.Dense)
	// FreezeStats stops running-stat updates during training.
	FreezeStats(frozen bool)
}
