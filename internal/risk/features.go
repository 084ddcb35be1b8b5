package risk

import (
	"fmt"
	"time"
)

// FeatureContext carries the validated inputs for feature derivation.
type FeatureContext struct {
	Amount          float64
	SenderBalance   float64
	ReceiverBalance float64
	Step            int
	Timestamp       time.Time
}

// NewFeatureContext validates transfer inputs and resolves the time step.
// Step defaults to hours since the Unix epoch when negative.
func NewFeatureContext(amount, senderBalance, receiverBalance float64, now time.Time, step int) (FeatureContext, error) {
	if amount <= 0 {
		return FeatureContext{}, fmt.Errorf("%w: transfer amount must be greater than 0", ErrInvalidInput)
	}
	if senderBalance < 0 || receiverBalance < 0 {
		return FeatureContext{}, fmt.Errorf("%w: balances cannot be negative", ErrInvalidInput)
	}
	if senderBalance < amount {
		return FeatureContext{}, fmt.Errorf("%w: insufficient sender balance for the requested transfer amount", ErrInvalidInput)
	}
	if step < 0 {
		step = int(now.Unix() / 3600)
	}
	return FeatureContext{
		Amount:          amount,
		SenderBalance:   senderBalance,
		ReceiverBalance: receiverBalance,
		Step:            step,
		Timestamp:       now.UTC(),
	}, nil
}

// Features is the model input vector for one transfer. Field names match
// the exported training artifacts.
type Features struct {
	Step                  int     `json:"step" binding:"min=0"`
	Amount                float64 `json:"amount" binding:"min=0"`
	OldBalanceOrig        float64 `json:"oldbalanceOrg" binding:"min=0"`
	NewBalanceOrig        float64 `json:"newbalanceOrig" binding:"min=0"`
	OldBalanceDest        float64 `json:"oldbalanceDest" binding:"min=0"`
	NewBalanceDest        float64 `json:"newbalanceDest" binding:"min=0"`
	Hour                  int     `json:"hour" binding:"min=0,max=23"`
	IsNight               bool    `json:"is_night"`
	AmountRatio           float64 `json:"amount_ratio" binding:"min=0"`
	SenderBalanceChange   float64 `json:"sender_balance_change"`
	ReceiverBalanceChange float64 `json:"receiver_balance_change"`
	OrigBalanceZero       bool    `json:"orig_balance_zero"`
	DestBalanceZero       bool    `json:"dest_balance_zero"`
	TypeTransfer          bool    `json:"type_TRANSFER"`
}

// BuildFeatures derives the model feature vector from a transfer context.
//
// amount_ratio falls back to the raw amount when the sender balance is zero:
// still monotonically meaningful, and avoids a division by zero.
// is_night uses a 24-hour clock.
func BuildFeatures(ctx FeatureContext) Features {
	senderAfter := ctx.SenderBalance - ctx.Amount
	receiverAfter := ctx.ReceiverBalance + ctx.Amount
	hour := ctx.Timestamp.Hour()

	ratio := ctx.Amount
	if ctx.SenderBalance > 0 {
		ratio = ctx.Amount / ctx.SenderBalance
	}

	return Features{
		Step:                  ctx.Step,
		Amount:                ctx.Amount,
		OldBalanceOrig:        ctx.SenderBalance,
		NewBalanceOrig:        senderAfter,
		OldBalanceDest:        ctx.ReceiverBalance,
		NewBalanceDest:        receiverAfter,
		Hour:                  hour,
		IsNight:               hour < 6,
		AmountRatio:           ratio,
		SenderBalanceChange:   ctx.SenderBalance - senderAfter,
		ReceiverBalanceChange: receiverAfter - ctx.ReceiverBalance,
		OrigBalanceZero:       ctx.SenderBalance == 0,
		DestBalanceZero:       ctx.ReceiverBalance == 0,
		TypeTransfer:          true,
	}
}

// asMap exposes features keyed by artifact feature name.
func (f Features) asMap() map[string]float64 {
	return map[string]float64{
		"step":                    float64(f.Step),
		"amount":                  f.Amount,
		"oldbalanceOrg":           f.OldBalanceOrig,
		"newbalanceOrig":          f.NewBalanceOrig,
		"oldbalanceDest":          f.OldBalanceDest,
		"newbalanceDest":          f.NewBalanceDest,
		"hour":                    float64(f.Hour),
		"is_night":                boolToFloat(f.IsNight),
		"amount_ratio":            f.AmountRatio,
		"sender_balance_change":   f.SenderBalanceChange,
		"receiver_balance_change": f.ReceiverBalanceChange,
		"orig_balance_zero":       boolToFloat(f.OrigBalanceZero),
		"dest_balance_zero":       boolToFloat(f.DestBalanceZero),
		"type_TRANSFER":           boolToFloat(f.TypeTransfer),
	}
}

// Vector orders the feature values to match the artifact feature names.
func (f Features) Vector(featureNames []string) ([]float64, error) {
	values := f.asMap()
	out := make([]float64, 0, len(featureNames))
	for _, name := range featureNames {
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("%w: payload is missing required model feature %q", ErrInvalidInput, name)
		}
		out = append(out, v)
	}
	return out, nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
