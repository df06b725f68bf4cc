package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// CSVFeatureSource serves precomputed per-segment feature vectors keyed by
// narration id. The backbone that produced them is an external concern;
// this source only loads its output.
type CSVFeatureSource struct {
	dim      int
	features map[string][]float64
}

// LoadFeaturesCSV reads a feature table. Each row is a narration id
// followed by dim feature values; no header.
func LoadFeaturesCSV(path string, dim int) (*CSVFeatureSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open features: %w", err)
	}
	defer f.Close()
	return ReadFeaturesCSV(f, dim)
}

// ReadFeaturesCSV reads a feature table from r.
func ReadFeaturesCSV(r io.Reader, dim int) (*CSVFeatureSource, error) {
	if dim < 1 {
		return nil, fmt.Errorf("dataset: feature dim %d", dim)
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = dim + 1

	src := &CSVFeatureSource{dim: dim, features: make(map[string][]float64)}
	for line := 1; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read features line %d: %w", line, err)
		}
		vec := make([]float64, dim)
		for i, field := range row[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("features line %d column %d: %w", line, i+2, err)
			}
			vec[i] = v
		}
		src.features[row[0]] = vec
	}
	return src, nil
}

// Features returns the stored vector for one record.
func (s *CSVFeatureSource) Features(rec *VideoRecord) ([]float64, error) {
	vec, ok := s.features[rec.Index()]
	if !ok {
		return nil, fmt.Errorf("dataset: no features for %s", rec.Index())
	}
	return vec, nil
}

// Dim returns the feature vector length.
func (s *CSVFeatureSource) Dim() int { return s.dim }

// Len returns the number of stored vectors.
func (s *CSVFeatureSource) Len() int { return len(s.features) }
