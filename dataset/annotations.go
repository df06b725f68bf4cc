package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// LoadAnnotations reads an annotation CSV with a header row and returns the
// rows in file order. File order matters: the sequential sampler requires
// all rows of one untrimmed video to be contiguous, and annotation files
// for this dataset are exported that way.
//
// Recognized columns: narration_id, participant_id, video_id, start_frame,
// stop_frame, verb_class, noun_class. The class columns are optional; rows
// without them get class -1 (test splits ship without labels).
func LoadAnnotations(path string) ([]AnnotationRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open annotations: %w", err)
	}
	defer f.Close()

	rows, err := ReadAnnotations(f)
	if err != nil {
		return nil, fmt.Errorf("read annotations %s: %w", path, err)
	}
	return rows, nil
}

// ReadAnnotations parses annotation CSV content from r. See LoadAnnotations.
func ReadAnnotations(r io.Reader) ([]AnnotationRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"narration_id", "participant_id", "video_id", "start_frame", "stop_frame"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var rows []AnnotationRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		row := AnnotationRow{
			NarrationID:   rec[col["narration_id"]],
			ParticipantID: rec[col["participant_id"]],
			VideoID:       rec[col["video_id"]],
			VerbClass:     -1,
			NounClass:     -1,
		}
		row.StartFrame, err = strconv.Atoi(rec[col["start_frame"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: start_frame: %w", line, err)
		}
		row.StopFrame, err = strconv.Atoi(rec[col["stop_frame"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: stop_frame: %w", line, err)
		}
		if idx, ok := col["verb_class"]; ok && rec[idx] != "" {
			row.VerbClass, err = strconv.Atoi(rec[idx])
			if err != nil {
				return nil, fmt.Errorf("line %d: verb_class: %w", line, err)
			}
		}
		if idx, ok := col["noun_class"]; ok && rec[idx] != "" {
			row.NounClass, err = strconv.Atoi(rec[idx])
			if err != nil {
				return nil, fmt.Errorf("line %d: noun_class: %w", line, err)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
