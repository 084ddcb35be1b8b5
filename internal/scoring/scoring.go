// Package scoring produces fraud probabilities for transfer feature vectors.
//
// Two backends: LocalScorer runs logistic inference over exported training
// artifacts, HTTPScorer delegates to a remote inference service. Both return
// ErrBackend on any fault so callers can surface a dependency failure
// without inspecting backend internals.
package scoring

import (
	"context"
	"errors"

	"github.com/kmathis/riskgate/internal/risk"
)

var (
	// ErrBackend wraps any scoring backend fault: unreachable service,
	// malformed response, or an out-of-range probability.
	ErrBackend = errors.New("scoring backend failure")

	// ErrBadArtifacts indicates the exported model artifacts are unusable.
	ErrBadArtifacts = errors.New("invalid model artifacts")
)

// Scorer returns the fraud probability, in [0,1], for one feature vector.
type Scorer interface {
	Score(ctx context.Context, features risk.Features) (float64, error)
	Version() string
}
