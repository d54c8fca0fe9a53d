//go:build integration

package key_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyclaims/internal/keys/models"
	"keyclaims/internal/keys/store"
	keystore "keyclaims/internal/keys/store/key"
	"keyclaims/pkg/domain"
	"keyclaims/pkg/platform/sentinel"
	"keyclaims/pkg/testutil/containers"
)

func setupPostgres(t *testing.T) *keystore.PostgresStore {
	t.Helper()
	pg := containers.NewPostgresContainer(t)
	require.NoError(t, pg.Apply(context.Background(), store.Schema))
	return keystore.NewPostgres(pg.DB)
}

func TestPostgres_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t)

	now := time.Now().UTC().Truncate(time.Microsecond)
	key, err := models.NewKey("a@example.com", models.KindEmail, domain.NewAccountID(), now)
	require.NoError(t, err)
	claimID := domain.NewClaimID()
	key.AttachClaim(claimID, now)

	require.NoError(t, s.Create(ctx, key))

	got, err := s.GetByID(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, key.Value, got.Value)
	assert.Equal(t, key.OwnerID, got.OwnerID)
	require.NotNil(t, got.ClaimID)
	assert.Equal(t, claimID, *got.ClaimID)
	assert.Equal(t, int64(1), got.Version)

	byValue, err := s.GetByValue(ctx, key.Value)
	require.NoError(t, err)
	assert.Equal(t, key.ID, byValue.ID)
}

func TestPostgres_DuplicateValue(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t)
	now := time.Now().UTC()

	first, err := models.NewKey("dup@example.com", models.KindEmail, domain.NewAccountID(), now)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, first))

	second, err := models.NewKey("dup@example.com", models.KindEmail, domain.NewAccountID(), now)
	require.NoError(t, err)
	require.ErrorIs(t, s.Create(ctx, second), sentinel.ErrConflict)
}

func TestPostgres_UpdateVersionGuard(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t)

	now := time.Now().UTC().Truncate(time.Microsecond)
	key, err := models.NewKey("a@example.com", models.KindEmail, domain.NewAccountID(), now)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, key))

	key.ApplyTransition(models.StateReady, now)
	updated, err := s.Update(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	// The stale copy still carries version 1 and must lose.
	stale := *key
	stale.ApplyTransition(models.StateError, now)
	_, err = s.Update(ctx, &stale)
	require.ErrorIs(t, err, sentinel.ErrConflict)

	got, err := s.GetByID(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, got.State)
}

func TestPostgres_UpdateMissingKey(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t)

	now := time.Now().UTC()
	key, err := models.NewKey("ghost@example.com", models.KindEmail, domain.NewAccountID(), now)
	require.NoError(t, err)

	_, err = s.Update(ctx, key)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgres_DeletionFields(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t)

	now := time.Now().UTC().Truncate(time.Microsecond)
	key, err := models.NewKey("gone@example.com", models.KindEmail, domain.NewAccountID(), now)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, key))

	key.ApplyDeletion("user-requested", now)
	key.MarkDeleted(now)
	key.ApplyTransition(models.StateDeleted, now)
	_, err = s.Update(ctx, key)
	require.NoError(t, err)

	got, err := s.GetByID(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-requested", got.DeletedReason)
	require.NotNil(t, got.DeletedAt)
	assert.True(t, got.DeletedAt.Equal(now))
}
