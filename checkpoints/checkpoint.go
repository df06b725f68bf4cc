// Package checkpoints persists and restores training state as JSON files
// under <outputDir>/checkpoints. A checkpoint carries the model weights,
// the curriculum state and optionally the optimizer's momentum buffers, so
// a run can resume exactly or reload weights alone for fine-tuning.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"egotrain/model"
	"egotrain/solver"
)

const (
	dirName      = "checkpoints"
	epochPattern = "checkpoint_epoch_%05d.json"
	bestName     = "checkpoint_best.json"
	version      = "1"
)

// WeightTensor is one parameter tensor with its data.
type WeightTensor struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// TrainingState captures the curriculum position at save time.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	SampleRate   float64 `json:"sample_rate"`
	LearningRate float64 `json:"learning_rate"`
}

// OptimizerState captures the optimizer's momentum buffers keyed by
// parameter name.
type OptimizerState struct {
	Type     string               `json:"type"`
	Momentum map[string][]float64 `json:"momentum"`
}

// Metadata describes the checkpoint's provenance.
type Metadata struct {
	Version   string    `json:"version"`
	Framework string    `json:"framework"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Checkpoint is the complete serialized state.
type Checkpoint struct {
	Weights        []WeightTensor  `json:"weights"`
	TrainingState  TrainingState   `json:"training_state"`
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`
	Metadata       Metadata        `json:"metadata"`
}

// Dir returns the checkpoint directory under outputDir.
func Dir(outputDir string) string {
	return filepath.Join(outputDir, dirName)
}

// IsCheckpointEpoch reports whether the epoch hits the save period.
func IsCheckpointEpoch(epoch, period int) bool {
	if period <= 0 {
		return false
	}
	return (epoch+1)%period == 0
}

// IsEvalEpoch reports whether the epoch hits the evaluation period.
func IsEvalEpoch(epoch, period int) bool {
	if period <= 0 {
		return false
	}
	return (epoch+1)%period == 0
}

// HasCheckpoint reports whether outputDir holds at least one epoch
// checkpoint.
func HasCheckpoint(outputDir string) bool {
	last, err := LastCheckpoint(outputDir)
	return err == nil && last != ""
}

// LastCheckpoint returns the path of the highest-epoch checkpoint in
// outputDir, or "" when none exist.
func LastCheckpoint(outputDir string) (string, error) {
	entries, err := os.ReadDir(Dir(outputDir))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read checkpoint dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		var epoch int
		if _, err := fmt.Sscanf(e.Name(), epochPattern, &epoch); err == nil {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names) // zero-padded epoch numbers sort lexically
	return filepath.Join(Dir(outputDir), names[len(names)-1]), nil
}

// Save writes a checkpoint for the epoch in state. When opt is non-nil
// its momentum buffers are included. When isBest is set, a best-epoch
// copy is written alongside the periodic file.
func Save(outputDir string, m model.Model, opt *solver.SGD, state TrainingState, runID string, isBest bool) (string, error) {
	ckpt := &Checkpoint{
		TrainingState: state,
		Metadata: Metadata{
			Version:   version,
			Framework: "egotrain",
			RunID:     runID,
			CreatedAt: time.Now().UTC(),
		},
	}
	for _, p := range m.Parameters() {
		raw := p.Value.RawMatrix()
		data := make([]float64, len(raw.Data))
		copy(data, raw.Data)
		ckpt.Weights = append(ckpt.Weights, WeightTensor{
			Name: p.Name,
			Rows: raw.Rows,
			Cols: raw.Cols,
			Data: data,
		})
	}
	if opt != nil {
		ckpt.OptimizerState = &OptimizerState{Type: "sgd", Momentum: opt.State()}
	}

	if err := os.MkdirAll(Dir(outputDir), 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint dir: %w", err)
	}
	path := filepath.Join(Dir(outputDir), fmt.Sprintf(epochPattern, state.Epoch))
	if err := writeJSON(path, ckpt); err != nil {
		return "", err
	}
	if isBest {
		if err := writeJSON(filepath.Join(Dir(outputDir), bestName), ckpt); err != nil {
			return "", err
		}
	}
	return path, nil
}

func writeJSON(path string, ckpt *Checkpoint) error {
	data, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize checkpoint: %w", err)
	}
	return nil
}

// Load restores model weights from path. When opt is non-nil the
// optimizer's momentum buffers are restored too (resume); a nil opt loads
// weights alone (fine-tune). The stored training state is returned so the
// caller can continue from Epoch+1.
func Load(path string, m model.Model, opt *solver.SGD) (TrainingState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TrainingState{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var ckpt Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return TrainingState{}, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}

	byName := make(map[string]*model.Parameter)
	for _, p := range m.Parameters() {
		byName[p.Name] = p
	}
	for _, w := range ckpt.Weights {
		p, ok := byName[w.Name]
		if !ok {
			return TrainingState{}, fmt.Errorf("checkpoint %s: unknown parameter %q", path, w.Name)
		}
		rows, cols := p.Value.Dims()
		if rows != w.Rows || cols != w.Cols || len(w.Data) != rows*cols {
			return TrainingState{}, fmt.Errorf("checkpoint %s: parameter %q is %dx%d, model wants %dx%d",
				path, w.Name, w.Rows, w.Cols, rows, cols)
		}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				p.Value.Set(i, j, w.Data[i*cols+j])
			}
		}
	}

	if opt != nil && ckpt.OptimizerState != nil {
		if err := opt.LoadState(ckpt.OptimizerState.Momentum); err != nil {
			return TrainingState{}, fmt.Errorf("checkpoint %s: %w", path, err)
		}
	}
	return ckpt.TrainingState, nil
}
