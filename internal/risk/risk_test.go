package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewThresholds(t *testing.T) {
	th, err := NewThresholds(0.30, 0.70)
	require.NoError(t, err)
	assert.Equal(t, 0.30, th.Low)
	assert.Equal(t, 0.70, th.High)

	_, err = NewThresholds(0.70, 0.30)
	assert.ErrorIs(t, err, ErrInvalidThresholds)

	_, err = NewThresholds(0.50, 0.50)
	assert.ErrorIs(t, err, ErrInvalidThresholds)

	_, err = NewThresholds(-0.1, 0.5)
	assert.ErrorIs(t, err, ErrInvalidThresholds)

	_, err = NewThresholds(0.1, 1.5)
	assert.ErrorIs(t, err, ErrInvalidThresholds)
}

func TestEvaluateBands(t *testing.T) {
	th, err := NewThresholds(0.30, 0.70)
	require.NoError(t, err)

	tests := []struct {
		name        string
		probability float64
		tier        Tier
		action      Action
	}{
		{"zero", 0.0, TierLow, ActionApprove},
		{"just below low", 0.2999, TierLow, ActionApprove},
		{"exactly low", 0.30, TierMedium, ActionStepUp},
		{"mid band", 0.45, TierMedium, ActionStepUp},
		{"just below high", 0.6999, TierMedium, ActionStepUp},
		{"exactly high", 0.70, TierHigh, ActionBlock},
		{"scenario block", 0.82, TierHigh, ActionBlock},
		{"one", 1.0, TierHigh, ActionBlock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Evaluate(tt.probability, th)
			require.NoError(t, err)
			assert.Equal(t, tt.tier, d.Tier)
			assert.Equal(t, tt.action, d.Action)
			assert.NotEmpty(t, d.Message)
		})
	}
}

func TestEvaluateRejectsOutOfRange(t *testing.T) {
	th, _ := NewThresholds(0.30, 0.70)

	_, err := Evaluate(-0.01, th)
	assert.ErrorIs(t, err, ErrInvalidProbability)

	_, err = Evaluate(1.01, th)
	assert.ErrorIs(t, err, ErrInvalidProbability)
}

func TestNewFeatureContext(t *testing.T) {
	now := time.Date(2026, 3, 14, 2, 30, 0, 0, time.UTC)

	ctx, err := NewFeatureContext(250, 1000, 500, now, 12)
	require.NoError(t, err)
	assert.Equal(t, 12, ctx.Step)
	assert.Equal(t, 250.0, ctx.Amount)

	// Negative step resolves to hours since epoch
	ctx, err = NewFeatureContext(250, 1000, 500, now, -1)
	require.NoError(t, err)
	assert.Equal(t, int(now.Unix()/3600), ctx.Step)

	_, err = NewFeatureContext(0, 1000, 500, now, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewFeatureContext(100, -1, 500, now, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewFeatureContext(2000, 1000, 500, now, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBuildFeatures(t *testing.T) {
	now := time.Date(2026, 3, 14, 2, 30, 0, 0, time.UTC)
	ctx, err := NewFeatureContext(250, 1000, 500, now, 12)
	require.NoError(t, err)

	f := BuildFeatures(ctx)
	assert.Equal(t, 750.0, f.NewBalanceOrig)
	assert.Equal(t, 750.0, f.NewBalanceDest)
	assert.Equal(t, 2, f.Hour)
	assert.True(t, f.IsNight)
	assert.InDelta(t, 0.25, f.AmountRatio, 1e-9)
	assert.Equal(t, 250.0, f.SenderBalanceChange)
	assert.Equal(t, 250.0, f.ReceiverBalanceChange)
	assert.False(t, f.OrigBalanceZero)
	assert.True(t, f.TypeTransfer)

	// Daytime hour is not night
	day := time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC)
	ctx, err = NewFeatureContext(250, 1000, 0, day, 12)
	require.NoError(t, err)
	f = BuildFeatures(ctx)
	assert.False(t, f.IsNight)
	assert.True(t, f.DestBalanceZero)
}

func TestFeatureVectorOrdering(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ctx, err := NewFeatureContext(100, 400, 50, now, 3)
	require.NoError(t, err)
	f := BuildFeatures(ctx)

	vec, err := f.Vector([]string{"amount", "step", "is_night"})
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 3, 0}, vec)

	_, err = f.Vector([]string{"amount", "no_such_feature"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
