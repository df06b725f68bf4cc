package meters

import (
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScalarMeterWindow(t *testing.T) {
	var m ScalarMeter
	for i := 1; i <= 15; i++ {
		m.Add(float64(i))
	}
	// Window holds the last 10 values: 6..15.
	if got, want := m.WindowAverage(), 10.5; got != want {
		t.Errorf("WindowAverage = %v, want %v", got, want)
	}
	if got, want := m.GlobalAverage(), 8.0; got != want {
		t.Errorf("GlobalAverage = %v, want %v", got, want)
	}
	m.Reset()
	if m.WindowAverage() != 0 || m.GlobalAverage() != 0 {
		t.Error("meter not zero after Reset")
	}
}

func TestTrainMeterEpochWeighting(t *testing.T) {
	m := NewTrainMeter(2, 1, discard())
	// A full batch of 4 at 100% and a trailing batch of 1 at 0%.
	m.UpdateStats(Stats{VerbTop1: 100, Loss: 2.0, LR: 0.1}, 4)
	m.UpdateStats(Stats{VerbTop1: 0, Loss: 1.0, LR: 0.1}, 1)

	s := m.LogEpochStats(3)
	if s.Epoch != 3 || s.Split != "train" {
		t.Fatalf("summary header %+v", s)
	}
	if got, want := s.VerbTop1, 80.0; math.Abs(got-want) > 1e-12 {
		t.Errorf("VerbTop1 = %v, want %v", got, want)
	}
	if got, want := s.Loss, 1.8; math.Abs(got-want) > 1e-12 {
		t.Errorf("Loss = %v, want %v", got, want)
	}
	if s.LR != 0.1 {
		t.Errorf("LR = %v, want 0.1", s.LR)
	}
}

func TestTrainMeterUpdateEpochIters(t *testing.T) {
	m := NewTrainMeter(10, 1, discard())
	m.UpdateEpochIters(100)
	if m.EpochIters() != 100 {
		t.Errorf("EpochIters = %d, want 100", m.EpochIters())
	}
}

func TestTrainMeterResetClearsEpoch(t *testing.T) {
	m := NewTrainMeter(5, 1, discard())
	m.UpdateStats(Stats{VerbTop1: 100, Loss: 5}, 2)
	m.Reset()
	s := m.LogEpochStats(0)
	if s.VerbTop1 != 0 || s.Loss != 0 {
		t.Errorf("stats survived Reset: %+v", s)
	}
}

func TestValMeterBestTracking(t *testing.T) {
	m := NewValMeter(1, 1, discard())

	if _, _, ok := m.BestEpoch(); ok {
		t.Error("BestEpoch reported before any epoch")
	}

	m.UpdateStats(Stats{ActionTop1: 40}, 8)
	if _, best := m.LogEpochStats(0); !best {
		t.Error("first epoch not reported best")
	}

	m.Reset()
	m.UpdateStats(Stats{ActionTop1: 35}, 8)
	if _, best := m.LogEpochStats(1); best {
		t.Error("worse epoch reported best")
	}

	m.Reset()
	m.UpdateStats(Stats{ActionTop1: 50}, 8)
	if _, best := m.LogEpochStats(2); !best {
		t.Error("improved epoch not reported best")
	}

	epoch, acc, ok := m.BestEpoch()
	if !ok || epoch != 2 || acc != 50 {
		t.Errorf("BestEpoch = %d, %v, %v; want 2, 50, true", epoch, acc, ok)
	}
}

func TestValMeterSplitStatsOverride(t *testing.T) {
	m := NewValMeter(1, 1, discard())

	// Batch-weighted numbers say 100, the pooled split says 50: the summary
	// and best tracking must follow the pooled values.
	m.UpdateStats(Stats{ActionTop1: 100, VerbTop1: 100}, 4)
	m.UpdateSplitStats(Stats{ActionTop1: 50, VerbTop1: 50}, 8)
	s, best := m.LogEpochStats(0)
	if !best {
		t.Error("first epoch not reported best")
	}
	if s.ActionTop1 != 50 || s.VerbTop1 != 50 {
		t.Errorf("summary = %v/%v, want pooled 50/50", s.VerbTop1, s.ActionTop1)
	}
	if _, acc, _ := m.BestEpoch(); acc != 50 {
		t.Errorf("best accuracy = %v, want pooled 50", acc)
	}

	// Reset drops the override; the next epoch is batch-weighted again.
	m.Reset()
	m.UpdateStats(Stats{ActionTop1: 60}, 4)
	s, _ = m.LogEpochStats(1)
	if s.ActionTop1 != 60 {
		t.Errorf("ActionTop1 = %v after Reset, want 60", s.ActionTop1)
	}
}

func TestTestMeterSplitStatsOverride(t *testing.T) {
	m := NewTestMeter(discard())
	m.UpdateStats(Stats{ActionTop1: 100}, 4)
	m.UpdateSplitStats(Stats{ActionTop1: 25, NounTop5: 75}, 8)

	s := m.Finalize()
	if s.ActionTop1 != 25 || s.NounTop5 != 75 {
		t.Errorf("summary = %+v, want pooled values", s)
	}
}

func TestTestMeterFinalize(t *testing.T) {
	m := NewTestMeter(discard())
	m.UpdateStats(Stats{VerbTop1: 50, NounTop1: 25, ActionTop1: 25}, 4)
	m.UpdateStats(Stats{VerbTop1: 100, NounTop1: 100, ActionTop1: 100}, 4)

	s := m.Finalize()
	if s.Split != "test" {
		t.Errorf("Split = %q", s.Split)
	}
	if got, want := s.ActionTop1, 62.5; math.Abs(got-want) > 1e-12 {
		t.Errorf("ActionTop1 = %v, want %v", got, want)
	}
}

func TestRenderEpochTable(t *testing.T) {
	var sb strings.Builder
	RenderEpochTable(&sb, []EpochSummary{
		{Split: "train", Epoch: 0, Loss: 1.234, VerbTop1: 10, NounTop1: 20, ActionTop1: 5, ActionTop5: 30},
		{Split: "val", Epoch: 0, VerbTop1: 12, NounTop1: 22, ActionTop1: 6, ActionTop5: 32},
	})
	out := sb.String()
	for _, want := range []string{"train", "val", "1.2340", "Action@1"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
	// Val rows carry no training loss.
	if !strings.Contains(out, "-") {
		t.Error("val row should render loss as a dash")
	}
}
