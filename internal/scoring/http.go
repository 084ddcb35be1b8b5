package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kmathis/riskgate/internal/circuitbreaker"
	"github.com/kmathis/riskgate/internal/metrics"
	"github.com/kmathis/riskgate/internal/retry"
	"github.com/kmathis/riskgate/internal/risk"
)

const (
	defaultHTTPTimeout = 5 * time.Second
	breakerKey         = "inference"
	maxScoreAttempts   = 3
	scoreRetryDelay    = 200 * time.Millisecond
)

// HTTPScorer delegates scoring to a remote inference service. Transient
// faults are retried with backoff; repeated failures trip a circuit so a
// dead backend fails fast instead of stalling every transfer.
type HTTPScorer struct {
	url     string
	version string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewHTTPScorer creates a scorer calling the given inference endpoint.
func NewHTTPScorer(url, version string) *HTTPScorer {
	return &HTTPScorer{
		url:     url,
		version: version,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

type scoreResponse struct {
	FraudProbability float64 `json:"fraud_probability"`
}

// Score POSTs the feature payload and expects {"fraud_probability": p}.
// Any transport fault, non-2xx status, malformed body, or out-of-range
// probability is an ErrBackend.
func (s *HTTPScorer) Score(ctx context.Context, features risk.Features) (float64, error) {
	timer := prometheus.NewTimer(metrics.ScoringDuration)
	defer timer.ObserveDuration()

	if !s.breaker.Allow(breakerKey) {
		return 0, fmt.Errorf("%w: inference circuit open", ErrBackend)
	}

	body, err := json.Marshal(features)
	if err != nil {
		return 0, fmt.Errorf("%w: encode features: %v", ErrBackend, err)
	}

	var probability float64
	err = retry.Do(ctx, maxScoreAttempts, scoreRetryDelay, func() error {
		p, err := s.scoreOnce(ctx, body)
		if err != nil {
			return err
		}
		probability = p
		return nil
	})
	if err != nil {
		s.breaker.RecordFailure(breakerKey)
		return 0, err
	}

	s.breaker.RecordSuccess(breakerKey)
	return probability, nil
}

// scoreOnce performs a single inference call. Client errors (4xx) are
// permanent; transport faults and server errors are retryable.
func (s *HTTPScorer) scoreOnce(ctx context.Context, body []byte) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("%w: %v", ErrBackend, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return 0, retry.Permanent(fmt.Errorf("%w: inference service returned status %d", ErrBackend, resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: inference service returned status %d", ErrBackend, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("%w: read response: %v", ErrBackend, err)
	}

	var parsed scoreResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, retry.Permanent(fmt.Errorf("%w: decode response: %v", ErrBackend, err))
	}
	if parsed.FraudProbability < 0 || parsed.FraudProbability > 1 {
		return 0, retry.Permanent(fmt.Errorf("%w: probability %v out of range", ErrBackend, parsed.FraudProbability))
	}

	return parsed.FraudProbability, nil
}

// Version returns the configured model version label.
func (s *HTTPScorer) Version() string {
	return s.version
}
