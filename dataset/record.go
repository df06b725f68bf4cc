package dataset

import (
	"errors"
	"strings"
)

// ErrTempLabelInvalid is returned when TempLabel is read without a prior
// SetTempLabel since the last InvalidateTemp. It signals a caller ordering
// bug, not a recoverable condition.
var ErrTempLabelInvalid = errors.New("dataset: temp label read before set")

// Label holds the verb and noun classes for one annotated action segment.
// A class of -1 means the annotation carries no label (test-set entries).
type Label struct {
	Verb int
	Noun int
}

// AnnotationRow is one row of the annotation file. VerbClass and NounClass
// are -1 when the source row has no class columns.
type AnnotationRow struct {
	NarrationID   string
	ParticipantID string
	VideoID       string
	StartFrame    int
	StopFrame     int
	VerbClass     int
	NounClass     int
}

// VideoRecord wraps one annotated video segment. The annotation itself is
// immutable for the record's lifetime; the temp label slot is the only
// mutable state and is written by the training loop after a self-prediction
// pass.
type VideoRecord struct {
	index string
	row   AnnotationRow

	tempVerb  int
	tempNoun  int
	tempValid bool
}

// NewVideoRecord builds a record for one annotation row. index is the
// opaque identifier used in metadata (the narration id for EPIC-Kitchens).
func NewVideoRecord(index string, row AnnotationRow) *VideoRecord {
	return &VideoRecord{
		index:    index,
		row:      row,
		tempVerb: -1,
		tempNoun: -1,
	}
}

// Index returns the record's opaque identifier.
func (r *VideoRecord) Index() string { return r.index }

// Participant returns the participant id of the source video.
func (r *VideoRecord) Participant() string { return r.row.ParticipantID }

// UntrimmedVideoName returns the id of the untrimmed video this segment
// was cut from. Records sharing this name belong to the same video.
func (r *VideoRecord) UntrimmedVideoName() string { return r.row.VideoID }

// StartFrame returns the zero-based first frame of the segment.
func (r *VideoRecord) StartFrame() int { return r.row.StartFrame - 1 }

// EndFrame returns the zero-based last frame of the segment.
func (r *VideoRecord) EndFrame() int { return r.row.StopFrame - 2 }

// NumFrames returns the segment length in frames.
func (r *VideoRecord) NumFrames() int { return r.EndFrame() - r.StartFrame() }

// FPS derives the capture rate from the untrimmed video id. The extended
// recordings use three-digit sequence numbers and run at 50fps; the
// original recordings use two digits and run at 60fps.
func (r *VideoRecord) FPS() int {
	parts := strings.Split(r.UntrimmedVideoName(), "_")
	if len(parts) > 1 && len(parts[1]) == 3 {
		return 50
	}
	return 60
}

// Label returns the ground-truth annotation classes.
func (r *VideoRecord) Label() Label {
	return Label{Verb: r.row.VerbClass, Noun: r.row.NounClass}
}

// TempLabel returns the self-predicted label stored by the last
// SetTempLabel call. It fails with ErrTempLabelInvalid when no
// SetTempLabel happened since the last InvalidateTemp.
func (r *VideoRecord) TempLabel() (Label, error) {
	if !r.tempValid {
		return Label{Verb: -1, Noun: -1}, ErrTempLabelInvalid
	}
	return Label{Verb: r.tempVerb, Noun: r.tempNoun}, nil
}

// SetTempLabel stores a self-predicted label and marks it valid.
func (r *VideoRecord) SetTempLabel(verb, noun int) {
	r.tempVerb = verb
	r.tempNoun = noun
	r.tempValid = true
}

// InvalidateTemp clears the validity flag without discarding the stored
// values, so any reuse requires an explicit SetTempLabel first.
func (r *VideoRecord) InvalidateTemp() {
	r.tempValid = false
}

// Metadata returns the per-record metadata passed through loader batches.
func (r *VideoRecord) Metadata() map[string]string {
	return map[string]string{"narration_id": r.index}
}
