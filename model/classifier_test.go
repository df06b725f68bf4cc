package model

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func testClassifier(t *testing.T, histDim int) *TwoStreamClassifier {
	t.Helper()
	m, err := NewTwoStreamClassifier(ClassifierConfig{
		FeatureDim: 6,
		HiddenDim:  5,
		NumVerb:    4,
		NumNoun:    3,
		HistoryDim: histDim,
		Seed:       1,
	})
	if err != nil {
		t.Fatalf("NewTwoStreamClassifier: %v", err)
	}
	return m
}

func TestForwardShapes(t *testing.T) {
	m := testClassifier(t, 0)
	features := mat.NewDense(2, 6, nil)

	verb, noun, err := m.Forward(features)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if r, c := verb.Dims(); r != 2 || c != 4 {
		t.Errorf("verb logits %dx%d, want 2x4", r, c)
	}
	if r, c := noun.Dims(); r != 2 || c != 3 {
		t.Errorf("noun logits %dx%d, want 2x3", r, c)
	}
}

func TestForwardWithHistoryRequiresEncoder(t *testing.T) {
	m := testClassifier(t, 0)
	if _, _, err := m.ForwardWithHistory(mat.NewDense(1, 6, nil), mat.NewDense(1, 7, nil)); err == nil {
		t.Fatal("history forward accepted without an encoder")
	}

	mh := testClassifier(t, 7)
	if _, _, err := mh.ForwardWithHistory(mat.NewDense(1, 6, nil), mat.NewDense(1, 7, nil)); err != nil {
		t.Fatalf("ForwardWithHistory: %v", err)
	}
}

func TestHistoryChangesLogits(t *testing.T) {
	m := testClassifier(t, 7)
	m.Eval()
	features := mat.NewDense(1, 6, []float64{1, 2, 3, 4, 5, 6})

	histA := mat.NewDense(1, 7, []float64{1, 0, 0, 0, 0, 0, 0})
	histB := mat.NewDense(1, 7, []float64{0, 0, 0, 1, 0, 0, 0})

	verbA, _, err := m.ForwardWithHistory(features, histA)
	if err != nil {
		t.Fatalf("ForwardWithHistory: %v", err)
	}
	a := verbA.At(0, 0)
	verbB, _, err := m.ForwardWithHistory(features, histB)
	if err != nil {
		t.Fatalf("ForwardWithHistory: %v", err)
	}
	if b := verbB.At(0, 0); a == b {
		t.Error("logits identical for different history tensors")
	}
}

func TestApplyFreeze(t *testing.T) {
	m := testClassifier(t, 7)

	m.ApplyFreeze(FreezeAllButLast)
	for _, p := range m.Parameters() {
		isHead := p == m.verbW || p == m.verbB || p == m.nounW || p == m.nounB
		if isHead && p.Frozen {
			t.Errorf("%s frozen under all-but-last", p.Name)
		}
		if !isHead && !p.Frozen {
			t.Errorf("%s not frozen under all-but-last", p.Name)
		}
	}

	m.ApplyFreeze(FreezeNone)
	for _, p := range m.Parameters() {
		if p.Frozen {
			t.Errorf("%s frozen under freeze-none", p.Name)
		}
	}
}

func TestBackwardBeforeForward(t *testing.T) {
	m := testClassifier(t, 0)
	if err := m.Backward(mat.NewDense(1, 4, nil), mat.NewDense(1, 3, nil)); err == nil {
		t.Fatal("backward accepted without a forward")
	}
}

func TestBackwardAccumulatesGradients(t *testing.T) {
	m := testClassifier(t, 0)
	m.Eval() // keep running stats fixed for determinism
	features := mat.NewDense(2, 6, []float64{
		1, -1, 0.5, 2, -0.5, 0.25,
		0.1, 0.9, -1.2, 0.4, 1.5, -0.3,
	})
	if _, _, err := m.Forward(features); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	dVerb := mat.NewDense(2, 4, []float64{1, 0, 0, 0, 0, 1, 0, 0})
	dNoun := mat.NewDense(2, 3, []float64{0, 1, 0, 1, 0, 0})
	if err := m.Backward(dVerb, dNoun); err != nil {
		t.Fatalf("Backward: %v", err)
	}

	nonZero := 0
	for _, p := range m.Parameters() {
		if mat.Norm(p.Grad, 2) > 0 {
			nonZero++
		}
	}
	if nonZero != len(m.Parameters()) {
		t.Errorf("%d of %d parameters received gradients", nonZero, len(m.Parameters()))
	}
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	m := testClassifier(t, 0)
	m.Eval()
	features := mat.NewDense(1, 6, []float64{0.5, -0.2, 0.1, 0.8, -0.4, 0.3})

	// Scalar objective: the first verb logit. Its gradient with respect to
	// any weight should match a central finite difference.
	objective := func() float64 {
		verb, _, err := m.Forward(features)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		return verb.At(0, 0)
	}

	objective()
	dVerb := mat.NewDense(1, 4, []float64{1, 0, 0, 0})
	dNoun := mat.NewDense(1, 3, nil)
	if err := m.Backward(dVerb, dNoun); err != nil {
		t.Fatalf("Backward: %v", err)
	}

	const eps = 1e-6
	checks := []struct {
		param *Parameter
		row   int
		col   int
	}{
		{m.verbW, 2, 0},
		{m.backboneW, 1, 3},
		{m.backboneB, 0, 2},
	}
	for _, chk := range checks {
		orig := chk.param.Value.At(chk.row, chk.col)
		chk.param.Value.Set(chk.row, chk.col, orig+eps)
		up := objective()
		chk.param.Value.Set(chk.row, chk.col, orig-eps)
		down := objective()
		chk.param.Value.Set(chk.row, chk.col, orig)

		numeric := (up - down) / (2 * eps)
		analytic := chk.param.Grad.At(chk.row, chk.col)
		if math.Abs(numeric-analytic) > 1e-4 {
			t.Errorf("%s[%d,%d]: analytic %g, numeric %g", chk.param.Name, chk.row, chk.col, analytic, numeric)
		}
	}
}

func TestStatsAccumulation(t *testing.T) {
	m := testClassifier(t, 0)
	m.ResetRunningStats()
	m.AccumulateStats(mat.NewDense(2, 6, []float64{
		2, 0, 0, 0, 0, 0,
		4, 0, 0, 0, 0, 0,
	}))

	if got := m.mean[0]; got != 3 {
		t.Errorf("mean[0] = %v, want 3", got)
	}
	if got := m.variance[0]; got != 1 {
		t.Errorf("variance[0] = %v, want 1", got)
	}
}
