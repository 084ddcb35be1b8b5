package scoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ModelArtifacts are the exported parameters of the trained fraud model:
// ordered feature names, a standard scaler, and logistic weights.
type ModelArtifacts struct {
	FeatureNames []string
	Version      string
	Mean         []float64
	Std          []float64
	Weights      []float64
	Intercept    float64
}

// modelFile mirrors model.json as written by the training export step.
type modelFile struct {
	Version    string    `json:"version"`
	ScalerMean []float64 `json:"scaler_mean"`
	ScalerStd  []float64 `json:"scaler_std"`
	Weights    []float64 `json:"weights"`
	Intercept  float64   `json:"intercept"`
}

// LoadArtifacts reads feature_names.json and model.json from modelsDir and
// validates that every parameter block matches the feature count.
func LoadArtifacts(modelsDir string) (*ModelArtifacts, error) {
	namesPath := filepath.Join(modelsDir, "feature_names.json")
	modelPath := filepath.Join(modelsDir, "model.json")

	names, err := loadFeatureNames(namesPath)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArtifacts, err)
	}
	var mf modelFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("%w: model.json: %v", ErrBadArtifacts, err)
	}

	if err := checkCount("scaler_mean", len(names), len(mf.ScalerMean)); err != nil {
		return nil, err
	}
	if err := checkCount("scaler_std", len(names), len(mf.ScalerStd)); err != nil {
		return nil, err
	}
	if err := checkCount("weights", len(names), len(mf.Weights)); err != nil {
		return nil, err
	}
	for i, std := range mf.ScalerStd {
		if std <= 0 {
			return nil, fmt.Errorf("%w: scaler_std[%d] must be positive", ErrBadArtifacts, i)
		}
	}

	version := mf.Version
	if version == "" {
		version = "unversioned"
	}

	return &ModelArtifacts{
		FeatureNames: names,
		Version:      version,
		Mean:         mf.ScalerMean,
		Std:          mf.ScalerStd,
		Weights:      mf.Weights,
		Intercept:    mf.Intercept,
	}, nil
}

func loadFeatureNames(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArtifacts, err)
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, fmt.Errorf("%w: feature_names.json: %v", ErrBadArtifacts, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: feature_names.json must contain a non-empty array", ErrBadArtifacts)
	}
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			return nil, fmt.Errorf("%w: feature_names.json must contain only non-empty names", ErrBadArtifacts)
		}
	}
	return names, nil
}

func checkCount(name string, expected, actual int) error {
	if expected != actual {
		return fmt.Errorf("%w: %s has %d entries, feature_names.json defines %d", ErrBadArtifacts, name, actual, expected)
	}
	return nil
}
