//go:build integration

package mfa

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmathis/riskgate/internal/testutil"
)

func setupPostgres(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()

	db, cleanup := testutil.PGTest(t)
	t.Cleanup(cleanup)

	store := NewPostgresStore(db)
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))
	return store, ctx
}

func pgChallenge(transferID string) *Challenge {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Challenge{
		TransferID:  transferID,
		CodeHash:    "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		CodeLength:  6,
		Attempts:    0,
		MaxAttempts: 3,
		Status:      StatusPending,
		ExpiresAt:   now.Add(5 * time.Minute),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestPostgresChallengeRoundTrip(t *testing.T) {
	store, ctx := setupPostgres(t)

	ch := pgChallenge("tr_pg_mfa_1")
	require.NoError(t, store.Upsert(ctx, ch))

	got, err := store.Get(ctx, ch.TransferID)
	require.NoError(t, err)
	assert.Equal(t, ch.CodeHash, got.CodeHash)
	assert.Equal(t, 6, got.CodeLength)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.VerifiedAt)
}

func TestPostgresChallengeNotFound(t *testing.T) {
	store, ctx := setupPostgres(t)

	_, err := store.Get(ctx, "tr_pg_mfa_missing")
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	err = store.Update(ctx, pgChallenge("tr_pg_mfa_missing"))
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestPostgresUpsertReplacesChallenge(t *testing.T) {
	store, ctx := setupPostgres(t)

	first := pgChallenge("tr_pg_mfa_2")
	first.Attempts = 2
	require.NoError(t, store.Upsert(ctx, first))

	// Re-issuing a challenge resets the code and attempt counter.
	second := pgChallenge("tr_pg_mfa_2")
	second.CodeHash = "cafebabecafebabecafebabecafebabecafebabecafebabecafebabecafebabe"
	require.NoError(t, store.Upsert(ctx, second))

	got, err := store.Get(ctx, "tr_pg_mfa_2")
	require.NoError(t, err)
	assert.Equal(t, second.CodeHash, got.CodeHash)
	assert.Equal(t, 0, got.Attempts)
}

func TestPostgresUpdateChallenge(t *testing.T) {
	store, ctx := setupPostgres(t)

	ch := pgChallenge("tr_pg_mfa_3")
	require.NoError(t, store.Upsert(ctx, ch))

	verifiedAt := time.Now().UTC().Truncate(time.Millisecond)
	ch.Attempts = 1
	ch.Status = StatusVerified
	ch.VerifiedAt = &verifiedAt
	ch.UpdatedAt = verifiedAt
	require.NoError(t, store.Update(ctx, ch))

	got, err := store.Get(ctx, ch.TransferID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, StatusVerified, got.Status)
	require.NotNil(t, got.VerifiedAt)
	assert.WithinDuration(t, verifiedAt, *got.VerifiedAt, time.Second)
}
