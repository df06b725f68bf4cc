package dataset

import (
	"fmt"
)

// FeatureSource provides the per-segment feature vector consumed by the
// model. Video decoding and the visual backbone live behind this interface;
// tests substitute synthetic sources.
type FeatureSource interface {
	// Features returns the feature vector for one record.
	Features(rec *VideoRecord) ([]float64, error)
	// Dim returns the feature vector length.
	Dim() int
}

// Sample is one dataset entry as consumed by the loader.
type Sample struct {
	Index       int
	Features    []float64
	History     []int // prior record indices within the same video, -1 padded, oldest first
	Verb        int
	Noun        int
	NarrationID string
}

// EpicKitchens holds the record list for one split plus the precomputed
// label-history index windows. Records keep annotation-file order, so all
// entries of one untrimmed video are contiguous.
type EpicKitchens struct {
	records    []*VideoRecord
	history    [][]int
	features   FeatureSource
	historyLen int
}

// NewEpicKitchens builds the dataset for one split. historyLen is the
// number of prior same-video records whose labels condition the recurrent
// head; windows are padded with -1 where a video has no further history.
func NewEpicKitchens(rows []AnnotationRow, features FeatureSource, historyLen int) (*EpicKitchens, error) {
	if features == nil {
		return nil, fmt.Errorf("dataset: nil feature source")
	}
	if historyLen < 0 {
		return nil, fmt.Errorf("dataset: negative history length %d", historyLen)
	}

	records := make([]*VideoRecord, len(rows))
	for i, row := range rows {
		records[i] = NewVideoRecord(row.NarrationID, row)
	}

	history := make([][]int, len(records))
	for i := range records {
		window := make([]int, historyLen)
		for j := range window {
			window[j] = -1
		}
		// Walk back over records of the same untrimmed video, filling the
		// window most-recent-last.
		for back := 1; back <= historyLen; back++ {
			prev := i - back
			if prev < 0 || records[prev].UntrimmedVideoName() != records[i].UntrimmedVideoName() {
				break
			}
			window[historyLen-back] = prev
		}
		history[i] = window
	}

	return &EpicKitchens{
		records:    records,
		history:    history,
		features:   features,
		historyLen: historyLen,
	}, nil
}

// Len returns the number of records.
func (d *EpicKitchens) Len() int { return len(d.records) }

// HistoryLen returns the label-history window length.
func (d *EpicKitchens) HistoryLen() int { return d.historyLen }

// FeatureDim returns the feature vector length.
func (d *EpicKitchens) FeatureDim() int { return d.features.Dim() }

// Record returns the record at index i.
func (d *EpicKitchens) Record(i int) *VideoRecord { return d.records[i] }

// Records returns the backing record slice. Callers mutate only the temp
// label slots.
func (d *EpicKitchens) Records() []*VideoRecord { return d.records }

// InvalidateTempLabels clears every record's temp label validity.
func (d *EpicKitchens) InvalidateTempLabels() {
	for _, rec := range d.records {
		rec.InvalidateTemp()
	}
}

// Sample assembles the loader-facing view of record i.
func (d *EpicKitchens) Sample(i int) (Sample, error) {
	if i < 0 || i >= len(d.records) {
		return Sample{}, fmt.Errorf("dataset: index %d out of range [0, %d)", i, len(d.records))
	}
	rec := d.records[i]
	feats, err := d.features.Features(rec)
	if err != nil {
		return Sample{}, fmt.Errorf("features for %s: %w", rec.Index(), err)
	}
	label := rec.Label()
	return Sample{
		Index:       i,
		Features:    feats,
		History:     d.history[i],
		Verb:        label.Verb,
		Noun:        label.Noun,
		NarrationID: rec.Index(),
	}, nil
}
