package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

const (
	statsEps      = 1e-5
	statsMomentum = 0.1
)

// ClassifierConfig sizes the reference classifier.
type ClassifierConfig struct {
	FeatureDim  int
	HiddenDim   int
	NumVerb     int
	NumNoun     int
	HistoryDim  int // 0 disables the history encoder
	ProposalDim int // 0 disables proposal conditioning
	Seed        int64
}

// TwoStreamClassifier is the reference implementation of the model
// interfaces: a feature normalizer with running statistics, a shared
// hidden layer, optional history and proposal projections into the hidden
// state, and per-task linear heads. Gradients are accumulated manually so
// the optimizer stays a plain parameter-update step.
type TwoStreamClassifier struct {
	cfg ClassifierConfig

	backboneW *Parameter
	backboneB *Parameter
	historyW  *Parameter
	proposalW *Parameter
	verbW     *Parameter
	verbB     *Parameter
	nounW     *Parameter
	nounB     *Parameter

	// Feature running statistics.
	mean        []float64
	variance    []float64
	statCount   float64
	statSum     []float64
	statSumSq   []float64
	statsFrozen bool

	training bool

	// Forward cache for Backward.
	cacheInput   *mat.Dense // normalized features
	cacheHistory *mat.Dense
	cacheBoxes   *mat.Dense
	cacheHidden  *mat.Dense // post-activation
}

// NewTwoStreamClassifier builds the classifier with deterministic
// initialization from cfg.Seed.
func NewTwoStreamClassifier(cfg ClassifierConfig) (*TwoStreamClassifier, error) {
	if cfg.FeatureDim <= 0 || cfg.HiddenDim <= 0 {
		return nil, fmt.Errorf("model: feature and hidden dims must be positive, got %d/%d", cfg.FeatureDim, cfg.HiddenDim)
	}
	if cfg.NumVerb <= 0 || cfg.NumNoun <= 0 {
		return nil, fmt.Errorf("model: class counts must be positive, got %d/%d", cfg.NumVerb, cfg.NumNoun)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	newParam := func(name string, rows, cols int) *Parameter {
		data := make([]float64, rows*cols)
		scale := 1.0 / math.Sqrt(float64(rows))
		for i := range data {
			data[i] = rng.NormFloat64() * scale
		}
		return &Parameter{
			Name:  name,
			Value: mat.NewDense(rows, cols, data),
			Grad:  mat.NewDense(rows, cols, nil),
		}
	}

	m := &TwoStreamClassifier{
		cfg:       cfg,
		backboneW: newParam("backbone.weight", cfg.FeatureDim, cfg.HiddenDim),
		backboneB: newParam("backbone.bias", 1, cfg.HiddenDim),
		verbW:     newParam("head.verb.weight", cfg.HiddenDim, cfg.NumVerb),
		verbB:     newParam("head.verb.bias", 1, cfg.NumVerb),
		nounW:     newParam("head.noun.weight", cfg.HiddenDim, cfg.NumNoun),
		nounB:     newParam("head.noun.bias", 1, cfg.NumNoun),
		mean:      make([]float64, cfg.FeatureDim),
		variance:  make([]float64, cfg.FeatureDim),
		statSum:   make([]float64, cfg.FeatureDim),
		statSumSq: make([]float64, cfg.FeatureDim),
		training:  true,
	}
	for i := range m.variance {
		m.variance[i] = 1.0
	}
	if cfg.HistoryDim > 0 {
		m.historyW = newParam("history.weight", cfg.HistoryDim, cfg.HiddenDim)
	}
	if cfg.ProposalDim > 0 {
		m.proposalW = newParam("proposal.weight", cfg.ProposalDim, cfg.HiddenDim)
	}
	return m, nil
}

// Parameters returns all trainable tensors.
func (m *TwoStreamClassifier) Parameters() []*Parameter {
	params := []*Parameter{m.backboneW, m.backboneB}
	if m.historyW != nil {
		params = append(params, m.historyW)
	}
	if m.proposalW != nil {
		params = append(params, m.proposalW)
	}
	return append(params, m.verbW, m.verbB, m.nounW, m.nounB)
}

// Train enables training mode.
func (m *TwoStreamClassifier) Train() { m.training = true }

// Eval enables inference mode.
func (m *TwoStreamClassifier) Eval() { m.training = false }

// ApplyFreeze sets the freeze policy. FreezeAllButLast leaves only the
// task heads trainable.
func (m *TwoStreamClassifier) ApplyFreeze(policy FreezePolicy) {
	frozen := policy == FreezeAllButLast
	m.backboneW.Frozen = frozen
	m.backboneB.Frozen = frozen
	if m.historyW != nil {
		m.historyW.Frozen = frozen
	}
	if m.proposalW != nil {
		m.proposalW.Frozen = frozen
	}
	m.verbW.Frozen = false
	m.verbB.Frozen = false
	m.nounW.Frozen = false
	m.nounB.Frozen = false
}

// FreezeStats stops running-stat updates during training.
func (m *TwoStreamClassifier) FreezeStats(frozen bool) { m.statsFrozen = frozen }

// ResetRunningStats clears the feature statistics accumulators.
func (m *TwoStreamClassifier) ResetRunningStats() {
	m.statCount = 0
	for i := range m.statSum {
		m.statSum[i] = 0
		m.statSumSq[i] = 0
	}
}

// AccumulateStats folds one batch into the feature statistics and
// refreshes the running mean and variance from the totals.
func (m *TwoStreamClassifier) AccumulateStats(features *mat.Dense) {
	rows, cols := features.Dims()
	if cols != m.cfg.FeatureDim {
		return
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := features.At(i, j)
			m.statSum[j] += v
			m.statSumSq[j] += v * v
		}
	}
	m.statCount += float64(rows)
	if m.statCount == 0 {
		return
	}
	for j := 0; j < cols; j++ {
		mean := m.statSum[j] / m.statCount
		m.mean[j] = mean
		m.variance[j] = m.statSumSq[j]/m.statCount - mean*mean
		if m.variance[j] < 0 {
			m.variance[j] = 0
		}
	}
}

// normalize standardizes features with the running statistics, updating
// them from the batch first when training and not frozen.
func (m *TwoStreamClassifier) normalize(features *mat.Dense) *mat.Dense {
	rows, cols := features.Dims()
	if m.training && !m.statsFrozen {
		for j := 0; j < cols; j++ {
			var sum, sumSq float64
			for i := 0; i < rows; i++ {
				v := features.At(i, j)
				sum += v
				sumSq += v * v
			}
			batchMean := sum / float64(rows)
			batchVar := sumSq/float64(rows) - batchMean*batchMean
			if batchVar < 0 {
				batchVar = 0
			}
			m.mean[j] = (1-statsMomentum)*m.mean[j] + statsMomentum*batchMean
			m.variance[j] = (1-statsMomentum)*m.variance[j] + statsMomentum*batchVar
		}
	}
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, (features.At(i, j)-m.mean[j])/math.Sqrt(m.variance[j]+statsEps))
		}
	}
	return out
}

// Forward computes verb and noun logits from features alone.
func (m *TwoStreamClassifier) Forward(features *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	return m.forward(features, nil, nil)
}

// ForwardWithHistory computes logits conditioned on the label-history
// tensor.
func (m *TwoStreamClassifier) ForwardWithHistory(features, history *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	if m.historyW == nil {
		return nil, nil, fmt.Errorf("model: classifier built without a history encoder")
	}
	if history == nil {
		return nil, nil, fmt.Errorf("model: nil history tensor")
	}
	return m.forward(features, history, nil)
}

// ForwardWithProposals computes logits conditioned on region proposals.
func (m *TwoStreamClassifier) ForwardWithProposals(features, boxes *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	if m.proposalW == nil {
		return nil, nil, fmt.Errorf("model: classifier built without proposal conditioning")
	}
	if boxes == nil {
		return nil, nil, fmt.Errorf("model: nil proposal tensor")
	}
	return m.forward(features, nil, boxes)
}

func (m *TwoStreamClassifier) forward(features, history, boxes *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	rows, cols := features.Dims()
	if cols != m.cfg.FeatureDim {
		return nil, nil, fmt.Errorf("model: feature dim %d, want %d", cols, m.cfg.FeatureDim)
	}

	xn := m.normalize(features)

	var z mat.Dense
	z.Mul(xn, m.backboneW.Value)
	if history != nil {
		var hz mat.Dense
		hz.Mul(history, m.historyW.Value)
		z.Add(&z, &hz)
	}
	if boxes != nil {
		var bz mat.Dense
		bz.Mul(boxes, m.proposalW.Value)
		z.Add(&z, &bz)
	}
	hidden := mat.NewDense(rows, m.cfg.HiddenDim, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < m.cfg.HiddenDim; j++ {
			hidden.Set(i, j, math.Tanh(z.At(i, j)+m.backboneB.Value.At(0, j)))
		}
	}

	verb := m.headLogits(hidden, m.verbW, m.verbB)
	noun := m.headLogits(hidden, m.nounW, m.nounB)

	m.cacheInput = xn
	m.cacheHistory = history
	m.cacheBoxes = boxes
	m.cacheHidden = hidden
	return verb, noun, nil
}

func (m *TwoStreamClassifier) headLogits(hidden *mat.Dense, w, b *Parameter) *mat.Dense {
	var out mat.Dense
	out.Mul(hidden, w.Value)
	rows, cols := out.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, out.At(i, j)+b.Value.At(0, j))
		}
	}
	return &out
}

// Backward accumulates parameter gradients from the logit gradients of
// the most recent forward pass.
func (m *TwoStreamClassifier) Backward(dVerb, dNoun *mat.Dense) error {
	if m.cacheHidden == nil {
		return fmt.Errorf("model: backward without a prior forward")
	}
	rows, _ := m.cacheHidden.Dims()

	accumHead := func(w, b *Parameter, dOut *mat.Dense) {
		var dW mat.Dense
		dW.Mul(m.cacheHidden.T(), dOut)
		w.Grad.Add(w.Grad, &dW)
		_, cols := dOut.Dims()
		for j := 0; j < cols; j++ {
			sum := 0.0
			for i := 0; i < rows; i++ {
				sum += dOut.At(i, j)
			}
			b.Grad.Set(0, j, b.Grad.At(0, j)+sum)
		}
	}
	accumHead(m.verbW, m.verbB, dVerb)
	accumHead(m.nounW, m.nounB, dNoun)

	// Back through the heads into the shared hidden state.
	var dHidden mat.Dense
	dHidden.Mul(dVerb, m.verbW.Value.T())
	var dHiddenNoun mat.Dense
	dHiddenNoun.Mul(dNoun, m.nounW.Value.T())
	dHidden.Add(&dHidden, &dHiddenNoun)

	// Tanh derivative.
	dZ := mat.NewDense(rows, m.cfg.HiddenDim, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < m.cfg.HiddenDim; j++ {
			a := m.cacheHidden.At(i, j)
			dZ.Set(i, j, dHidden.At(i, j)*(1-a*a))
		}
	}

	var dBackbone mat.Dense
	dBackbone.Mul(m.cacheInput.T(), dZ)
	m.backboneW.Grad.Add(m.backboneW.Grad, &dBackbone)
	for j := 0; j < m.cfg.HiddenDim; j++ {
		sum := 0.0
		for i := 0; i < rows; i++ {
			sum += dZ.At(i, j)
		}
		m.backboneB.Grad.Set(0, j, m.backboneB.Grad.At(0, j)+sum)
	}
	if m.cacheHistory != nil {
		var dHist mat.Dense
		dHist.Mul(m.cacheHistory.T(), dZ)
		m.historyW.Grad.Add(m.historyW.Grad, &dHist)
	}
	if m.cacheBoxes != nil {
		var dProp mat.Dense
		dProp.Mul(m.cacheBoxes.T(), dZ)
		m.proposalW.Grad.Add(m.proposalW.Grad, &dProp)
	}
	return nil
}
