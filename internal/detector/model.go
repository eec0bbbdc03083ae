package detector

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Model is a linear classifier artifact produced by offline training.
// It is read-only after load; detectors share no mutable state.
type Model struct {
	Name    string             `json:"name"`
	Bias    float64            `json:"bias"`
	Weights map[string]float64 `json:"weights"`
}

// LoadModel reads a classifier artifact from disk. Callers treat a nil
// model as degraded rule-only mode; they never fail on a missing
// artifact.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model artifact %s: %w", path, err)
	}
	if len(m.Weights) == 0 {
		return nil, fmt.Errorf("model artifact %s has no weights", path)
	}
	return &m, nil
}

// Predict returns the positive-class probability for a feature map.
// Unknown features are ignored; missing features contribute zero.
func (m *Model) Predict(features map[string]float64) float64 {
	z := m.Bias
	for name, w := range m.Weights {
		z += w * features[name]
	}
	return 1.0 / (1.0 + math.Exp(-z))
}
