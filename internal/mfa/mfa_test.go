package mfa

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(NewMemoryStore(), Config{
		CodeTTL:       5 * time.Minute,
		MaxAttempts:   3,
		CodeLength:    6,
		SigningSecret: "test-secret",
	})
	require.NoError(t, err)
	return engine
}

func TestNewEngineValidatesConfig(t *testing.T) {
	store := NewMemoryStore()

	_, err := NewEngine(store, Config{CodeTTL: 0, MaxAttempts: 3, CodeLength: 6, SigningSecret: "s"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEngine(store, Config{CodeTTL: time.Minute, MaxAttempts: 0, CodeLength: 6, SigningSecret: "s"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEngine(store, Config{CodeTTL: time.Minute, MaxAttempts: 3, CodeLength: 3, SigningSecret: "s"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEngine(store, Config{CodeTTL: time.Minute, MaxAttempts: 3, CodeLength: 11, SigningSecret: "s"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEngine(store, Config{CodeTTL: time.Minute, MaxAttempts: 3, CodeLength: 6, SigningSecret: ""})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestIssueProducesPaddedNumericCode(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		ch, code, err := engine.Issue(ctx, "tr_1")
		require.NoError(t, err)
		assert.Len(t, code, 6)
		assert.Equal(t, -1, strings.IndexFunc(code, func(r rune) bool { return r < '0' || r > '9' }))
		assert.Equal(t, StatusPending, ch.Status)
		assert.Equal(t, 0, ch.Attempts)
		assert.Equal(t, 3, ch.MaxAttempts)
		assert.Len(t, ch.CodeHash, 64)
	}
}

func TestVerifySucceedsExactlyOnce(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	_, code, err := engine.Issue(ctx, "tr_1")
	require.NoError(t, err)

	ch, err := engine.Verify(ctx, "tr_1", code)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, ch.Status)
	require.NotNil(t, ch.VerifiedAt)

	// Second verify is a conflict, not a success
	_, err = engine.Verify(ctx, "tr_1", code)
	assert.ErrorIs(t, err, ErrChallengeVerified)
}

func TestVerifyUnknownTransfer(t *testing.T) {
	engine := testEngine(t)
	_, err := engine.Verify(context.Background(), "tr_missing", "123456")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestLockoutAfterMaxAttempts(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	_, code, err := engine.Issue(ctx, "tr_1")
	require.NoError(t, err)
	wrong := wrongCode(code)

	_, err = engine.Verify(ctx, "tr_1", wrong)
	var invalid *InvalidCodeError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 2, invalid.Remaining)

	_, err = engine.Verify(ctx, "tr_1", wrong)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 1, invalid.Remaining)

	// Third wrong attempt locks the challenge
	_, err = engine.Verify(ctx, "tr_1", wrong)
	assert.ErrorIs(t, err, ErrChallengeLocked)

	// Fourth attempt fails even with the correct code
	_, err = engine.Verify(ctx, "tr_1", code)
	assert.ErrorIs(t, err, ErrChallengeLocked)
}

func TestAttemptCountPersistsAcrossCalls(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	_, code, err := engine.Issue(ctx, "tr_1")
	require.NoError(t, err)

	_, err = engine.Verify(ctx, "tr_1", wrongCode(code))
	require.Error(t, err)

	ch, err := engine.store.Get(ctx, "tr_1")
	require.NoError(t, err)
	assert.Equal(t, 1, ch.Attempts)
	assert.Equal(t, StatusPending, ch.Status)

	// A correct code still succeeds after prior failures
	_, err = engine.Verify(ctx, "tr_1", code)
	assert.NoError(t, err)
}

func TestExpiryIsLazyAndTerminal(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	engine := testEngine(t).WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, code, err := engine.Issue(ctx, "tr_1")
	require.NoError(t, err)

	// Past the deadline, even the correct code fails
	now = now.Add(5*time.Minute + time.Second)
	_, err = engine.Verify(ctx, "tr_1", code)
	assert.ErrorIs(t, err, ErrChallengeExpired)

	ch, err := engine.store.Get(ctx, "tr_1")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, ch.Status)

	// Expired is terminal
	_, err = engine.Verify(ctx, "tr_1", code)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestVerifyAtDeadlineStillValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	engine := testEngine(t).WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, code, err := engine.Issue(ctx, "tr_1")
	require.NoError(t, err)

	// now == expires_at is not yet expired
	now = now.Add(5 * time.Minute)
	_, err = engine.Verify(ctx, "tr_1", code)
	assert.NoError(t, err)
}

func TestReissueReplacesChallengeWholesale(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	_, first, err := engine.Issue(ctx, "tr_1")
	require.NoError(t, err)

	// Burn two attempts on the first challenge
	_, _ = engine.Verify(ctx, "tr_1", wrongCode(first))
	_, _ = engine.Verify(ctx, "tr_1", wrongCode(first))

	_, second, err := engine.Issue(ctx, "tr_1")
	require.NoError(t, err)

	ch, err := engine.store.Get(ctx, "tr_1")
	require.NoError(t, err)
	assert.Equal(t, 0, ch.Attempts, "re-issue must reset attempts")
	assert.Equal(t, StatusPending, ch.Status)

	// The old code no longer verifies (unless the new draw collided)
	if first != second {
		_, err = engine.Verify(ctx, "tr_1", first)
		assert.Error(t, err)
	}
}

func TestHashBoundToTransfer(t *testing.T) {
	h1 := HashCode("secret", "tr_1", "123456")
	h2 := HashCode("secret", "tr_2", "123456")
	assert.NotEqual(t, h1, h2, "same code must hash differently per transfer")

	h3 := HashCode("other-secret", "tr_1", "123456")
	assert.NotEqual(t, h1, h3)
}

func TestConcurrentVerifyNoLostUpdate(t *testing.T) {
	engine, err := NewEngine(NewMemoryStore(), Config{
		CodeTTL:       time.Minute,
		MaxAttempts:   5,
		CodeLength:    6,
		SigningSecret: "test-secret",
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, code, err := engine.Issue(ctx, "tr_1")
	require.NoError(t, err)
	wrong := wrongCode(code)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.Verify(ctx, "tr_1", wrong)
		}()
	}
	wg.Wait()

	// Every attempt must be counted: 5 concurrent failures on max 5 → LOCKED.
	ch, err := engine.store.Get(ctx, "tr_1")
	require.NoError(t, err)
	assert.Equal(t, 5, ch.Attempts)
	assert.Equal(t, StatusLocked, ch.Status)
}

func TestMemoryStoreCopiesOut(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ch := &Challenge{TransferID: "tr_1", Status: StatusPending, MaxAttempts: 3}
	require.NoError(t, store.Upsert(ctx, ch))

	got, err := store.Get(ctx, "tr_1")
	require.NoError(t, err)
	got.Attempts = 99

	again, err := store.Get(ctx, "tr_1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Attempts, "mutating a returned copy must not affect the store")

	err = store.Update(ctx, &Challenge{TransferID: "tr_missing"})
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

// wrongCode flips the last digit so it always differs from the issued code.
func wrongCode(code string) string {
	last := code[len(code)-1]
	flipped := byte('0')
	if last == '0' {
		flipped = '1'
	}
	return code[:len(code)-1] + string(flipped)
}
