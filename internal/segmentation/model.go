package segmentation

import (
	"encoding/json"
	"fmt"
	"os"
)

// modelArtifact is the on-disk JSON form of a trained centroid model: the
// scaler statistics it was trained with and the final cluster centroids.
// Produced by an offline training run, only consumed here.
type modelArtifact struct {
	Features  []string       `json:"features"`
	Scaler    StandardScaler `json:"scaler"`
	Centroids [][]float64    `json:"centroids"`
}

// Model is an explicit handle to the pre-trained segmentation model. It is
// loaded once at process start and shared read-only; when the artifact is
// missing or malformed the handle stays permanently unavailable and every
// dependent operation fails with ErrModelUnavailable. There is no reload.
type Model struct {
	available bool
	features  []string
	scaler    StandardScaler
	centroids [][]float64
}

// LoadModel reads the model artifact at path. The returned handle is always
// usable; on load failure it reports unavailable and the error explains why,
// letting the caller decide whether to continue without the static pipeline.
func LoadModel(path string) (*Model, error) {
	m := &Model{}

	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read model artifact: %w", err)
	}

	var artifact modelArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return m, fmt.Errorf("parse model artifact: %w", err)
	}

	if len(artifact.Centroids) == 0 {
		return m, fmt.Errorf("model artifact has no centroids")
	}
	dims := len(artifact.Centroids[0])
	if dims == 0 || dims != len(artifact.Scaler.Mean) || dims != len(artifact.Scaler.Scale) {
		return m, fmt.Errorf("model artifact scaler/centroid dimensions disagree")
	}
	for i, c := range artifact.Centroids {
		if len(c) != dims {
			return m, fmt.Errorf("model artifact centroid %d has %d dims, expected %d", i, len(c), dims)
		}
	}
	if len(artifact.Features) != dims {
		return m, fmt.Errorf("model artifact declares %d features for %d dims", len(artifact.Features), dims)
	}

	m.available = true
	m.features = artifact.Features
	m.scaler = artifact.Scaler
	m.centroids = artifact.Centroids
	return m, nil
}

// Available reports whether a model artifact was successfully loaded.
func (m *Model) Available() bool { return m.available }

// Features returns the display-form feature names the model was trained on.
func (m *Model) Features() []string { return m.features }

// Clusters returns the number of clusters the model predicts.
func (m *Model) Clusters() int { return len(m.centroids) }

// Transform applies the stored scaler to raw feature rows.
func (m *Model) Transform(rows [][]float64) ([][]float64, error) {
	if !m.available {
		return nil, ErrModelUnavailable
	}
	return m.scaler.Transform(rows)
}

// Predict assigns each scaled row to its nearest centroid.
func (m *Model) Predict(scaled [][]float64) ([]int, error) {
	if !m.available {
		return nil, ErrModelUnavailable
	}
	labels := make([]int, len(scaled))
	for i, row := range scaled {
		if len(row) != len(m.centroids[0]) {
			return nil, fmt.Errorf("predict: row has %d dims, model expects %d", len(row), len(m.centroids[0]))
		}
		labels[i] = nearestCentroid(row, m.centroids)
	}
	return labels, nil
}

// PredictOne scales and predicts a single raw feature row.
func (m *Model) PredictOne(row []float64) (int, error) {
	scaled, err := m.Transform([][]float64{row})
	if err != nil {
		return 0, err
	}
	labels, err := m.Predict(scaled)
	if err != nil {
		return 0, err
	}
	return labels[0], nil
}
