package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kmathis/riskgate/internal/metrics"
	"github.com/kmathis/riskgate/internal/risk"
)

// LocalScorer runs logistic inference over exported model artifacts.
type LocalScorer struct {
	artifacts *ModelArtifacts
}

// NewLocalScorer creates a scorer from validated artifacts.
func NewLocalScorer(artifacts *ModelArtifacts) *LocalScorer {
	return &LocalScorer{artifacts: artifacts}
}

// Score standardizes the feature vector and applies the logistic model.
func (s *LocalScorer) Score(ctx context.Context, features risk.Features) (float64, error) {
	timer := prometheus.NewTimer(metrics.ScoringDuration)
	defer timer.ObserveDuration()

	vec, err := features.Vector(s.artifacts.FeatureNames)
	if err != nil {
		return 0, err
	}

	z := s.artifacts.Intercept
	for i, v := range vec {
		scaled := (v - s.artifacts.Mean[i]) / s.artifacts.Std[i]
		z += scaled * s.artifacts.Weights[i]
	}

	p := 1.0 / (1.0 + math.Exp(-z))
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: model produced probability %v", ErrBackend, p)
	}
	return p, nil
}

// Version returns the artifact model version.
func (s *LocalScorer) Version() string {
	return s.artifacts.Version
}
