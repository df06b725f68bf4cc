package training

import (
	"errors"
	"math/rand"
	"testing"

	"egotrain/dataset"
)

type constFeatures struct{ dim int }

func (f constFeatures) Features(rec *dataset.VideoRecord) ([]float64, error) {
	return make([]float64, f.dim), nil
}

func (f constFeatures) Dim() int { return f.dim }

// historyDataset builds one video of n segments with known labels.
func historyDataset(t *testing.T, n, historyLen int) *dataset.EpicKitchens {
	t.Helper()
	rows := make([]dataset.AnnotationRow, n)
	for i := range rows {
		rows[i] = dataset.AnnotationRow{
			NarrationID:   "P01_01_" + string(rune('a'+i)),
			ParticipantID: "P01",
			VideoID:       "P01_01",
			StartFrame:    1 + i*10,
			StopFrame:     11 + i*10,
			VerbClass:     i % 4,
			NounClass:     i % 6,
		}
	}
	ds, err := dataset.NewEpicKitchens(rows, constFeatures{dim: 3}, historyLen)
	if err != nil {
		t.Fatalf("NewEpicKitchens: %v", err)
	}
	return ds
}

func TestBuildHistoryGroundTruthOnly(t *testing.T) {
	const numVerb, numNoun = 4, 6
	ds := historyDataset(t, 5, 2)
	// Temp labels deliberately unset: rate zero must never read them.
	for trial := 0; trial < 20; trial++ {
		rng := rand.New(rand.NewSource(int64(trial)))
		h, err := BuildHistory(ds, [][]int{{0, 1}, {2, 3}}, 0.0, rng, numVerb, numNoun)
		if err != nil {
			t.Fatalf("BuildHistory: %v", err)
		}
		width := numVerb + numNoun
		for row, indices := range [][]int{{0, 1}, {2, 3}} {
			for pos, idx := range indices {
				label := ds.Record(idx).Label()
				base := pos * width
				if h.At(row, base+label.Noun) != 1 {
					t.Fatalf("trial %d: noun one-hot missing at row %d pos %d", trial, row, pos)
				}
				if h.At(row, base+numNoun+label.Verb) != 1 {
					t.Fatalf("trial %d: verb one-hot missing at row %d pos %d", trial, row, pos)
				}
			}
		}
	}
}

func TestBuildHistorySelfPredictedOnly(t *testing.T) {
	const numVerb, numNoun = 4, 6
	ds := historyDataset(t, 3, 1)
	// Temp labels differ from ground truth at every record.
	for i := 0; i < ds.Len(); i++ {
		ds.Record(i).SetTempLabel(3-(i%4), 5-(i%6))
	}
	for trial := 0; trial < 20; trial++ {
		rng := rand.New(rand.NewSource(int64(trial)))
		h, err := BuildHistory(ds, [][]int{{1}}, 1.0, rng, numVerb, numNoun)
		if err != nil {
			t.Fatalf("BuildHistory: %v", err)
		}
		temp, err := ds.Record(1).TempLabel()
		if err != nil {
			t.Fatalf("TempLabel: %v", err)
		}
		if h.At(0, temp.Noun) != 1 || h.At(0, numNoun+temp.Verb) != 1 {
			t.Fatalf("trial %d: history not built from temp label", trial)
		}
		gt := ds.Record(1).Label()
		if h.At(0, gt.Noun) == 1 && gt.Noun != temp.Noun {
			t.Fatalf("trial %d: ground-truth noun leaked at rate 1.0", trial)
		}
	}
}

func TestBuildHistoryPaddingStaysZero(t *testing.T) {
	ds := historyDataset(t, 3, 2)
	h, err := BuildHistory(ds, [][]int{{-1, 0}}, 0.0, nil, 4, 6)
	if err != nil {
		t.Fatalf("BuildHistory: %v", err)
	}
	width := 4 + 6
	for j := 0; j < width; j++ {
		if h.At(0, j) != 0 {
			t.Fatalf("padding position not zero at column %d", j)
		}
	}
}

func TestBuildHistoryUnsetTempLabelFails(t *testing.T) {
	ds := historyDataset(t, 3, 1)
	rng := rand.New(rand.NewSource(1))
	_, err := BuildHistory(ds, [][]int{{0}}, 1.0, rng, 4, 6)
	if !errors.Is(err, dataset.ErrTempLabelInvalid) {
		t.Fatalf("err = %v, want ErrTempLabelInvalid", err)
	}
}

func TestBuildHistoryRaggedWindow(t *testing.T) {
	ds := historyDataset(t, 3, 2)
	if _, err := BuildHistory(ds, [][]int{{0, 1}, {0}}, 0.0, nil, 4, 6); err == nil {
		t.Fatal("ragged window accepted")
	}
}

func TestBuildHistoryMissingLabelStaysZero(t *testing.T) {
	rows := []dataset.AnnotationRow{
		{NarrationID: "a", ParticipantID: "P01", VideoID: "P01_01", StartFrame: 1, StopFrame: 11, VerbClass: -1, NounClass: -1},
		{NarrationID: "b", ParticipantID: "P01", VideoID: "P01_01", StartFrame: 11, StopFrame: 21, VerbClass: 1, NounClass: 1},
	}
	ds, err := dataset.NewEpicKitchens(rows, constFeatures{dim: 3}, 1)
	if err != nil {
		t.Fatalf("NewEpicKitchens: %v", err)
	}
	h, err := BuildHistory(ds, [][]int{{0}}, 0.0, nil, 4, 6)
	if err != nil {
		t.Fatalf("BuildHistory: %v", err)
	}
	for j := 0; j < 10; j++ {
		if h.At(0, j) != 0 {
			t.Fatalf("unlabeled record produced a one-hot at column %d", j)
		}
	}
}

func TestHistoryDim(t *testing.T) {
	if got := HistoryDim(5, 125, 352); got != 5*(125+352) {
		t.Errorf("HistoryDim = %d", got)
	}
}
