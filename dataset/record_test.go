package dataset

import (
	"errors"
	"strings"
	"testing"
)

func testRow(narration, video string, start, stop, verb, noun int) AnnotationRow {
	return AnnotationRow{
		NarrationID:   narration,
		ParticipantID: strings.SplitN(video, "_", 2)[0],
		VideoID:       video,
		StartFrame:    start,
		StopFrame:     stop,
		VerbClass:     verb,
		NounClass:     noun,
	}
}

func TestVideoRecordFrames(t *testing.T) {
	rec := NewVideoRecord("P01_01_0", testRow("P01_01_0", "P01_01", 10, 30, 2, 7))

	if got := rec.StartFrame(); got != 9 {
		t.Errorf("StartFrame = %d, want 9", got)
	}
	if got := rec.EndFrame(); got != 28 {
		t.Errorf("EndFrame = %d, want 28", got)
	}
	if got := rec.NumFrames(); got != 19 {
		t.Errorf("NumFrames = %d, want 19", got)
	}
}

func TestVideoRecordFPS(t *testing.T) {
	tests := []struct {
		videoID string
		want    int
	}{
		{"P01_101", 50},
		{"P01_01", 60},
		{"P22_107", 50},
		{"P22_07", 60},
		{"P03", 60}, // no sequence segment falls back to 60
	}

	for _, tt := range tests {
		rec := NewVideoRecord(tt.videoID+"_0", testRow(tt.videoID+"_0", tt.videoID, 1, 3, 0, 0))
		if got := rec.FPS(); got != tt.want {
			t.Errorf("FPS(%q) = %d, want %d", tt.videoID, got, tt.want)
		}
	}
}

func TestVideoRecordLabelSentinel(t *testing.T) {
	rec := NewVideoRecord("x", testRow("x", "P01_01", 1, 3, -1, -1))
	label := rec.Label()
	if label.Verb != -1 || label.Noun != -1 {
		t.Errorf("unlabeled record returned %+v, want -1/-1", label)
	}
}

func TestTempLabelReadBeforeSet(t *testing.T) {
	rec := NewVideoRecord("x", testRow("x", "P01_01", 1, 3, 2, 7))

	if _, err := rec.TempLabel(); !errors.Is(err, ErrTempLabelInvalid) {
		t.Fatalf("TempLabel before set: err = %v, want ErrTempLabelInvalid", err)
	}

	rec.SetTempLabel(4, 9)
	got, err := rec.TempLabel()
	if err != nil {
		t.Fatalf("TempLabel after set: %v", err)
	}
	if got.Verb != 4 || got.Noun != 9 {
		t.Errorf("TempLabel = %+v, want {4 9}", got)
	}

	rec.InvalidateTemp()
	if _, err := rec.TempLabel(); !errors.Is(err, ErrTempLabelInvalid) {
		t.Errorf("TempLabel after invalidate: err = %v, want ErrTempLabelInvalid", err)
	}

	// Invalidate keeps stored values but a fresh set is required before reuse.
	rec.SetTempLabel(1, 2)
	got, err = rec.TempLabel()
	if err != nil {
		t.Fatalf("TempLabel after re-set: %v", err)
	}
	if got.Verb != 1 || got.Noun != 2 {
		t.Errorf("TempLabel = %+v, want {1 2}", got)
	}
}

func TestReadAnnotations(t *testing.T) {
	csvData := `narration_id,participant_id,video_id,start_frame,stop_frame,verb_class,noun_class
P01_01_0,P01,P01_01,1,20,3,10
P01_01_1,P01,P01_01,15,44,0,4
`
	rows, err := ReadAnnotations(strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("ReadAnnotations: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].NarrationID != "P01_01_0" || rows[0].VerbClass != 3 || rows[0].NounClass != 10 {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].StartFrame != 15 || rows[1].StopFrame != 44 {
		t.Errorf("row 1 frames = %d..%d, want 15..44", rows[1].StartFrame, rows[1].StopFrame)
	}
}

func TestReadAnnotationsWithoutClasses(t *testing.T) {
	csvData := `narration_id,participant_id,video_id,start_frame,stop_frame
P09_05_0,P09,P09_05,1,20
`
	rows, err := ReadAnnotations(strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("ReadAnnotations: %v", err)
	}
	if rows[0].VerbClass != -1 || rows[0].NounClass != -1 {
		t.Errorf("classes = %d/%d, want -1/-1", rows[0].VerbClass, rows[0].NounClass)
	}
}
