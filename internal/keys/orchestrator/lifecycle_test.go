package orchestrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyclaims/internal/keys/models"
	"keyclaims/internal/keys/orchestrator"
	"keyclaims/pkg/domain"
	"keyclaims/pkg/platform/sentinel"
)

func TestCreateKey(t *testing.T) {
	f := newFixture(t)
	owner := domain.NewAccountID()

	key, err := f.orch.CreateKey(f.ctx(), "+5511999990000", models.KindPhone, owner)
	require.NoError(t, err)

	assert.Equal(t, models.StatePending, key.State)
	assert.Equal(t, owner, key.OwnerID)
	assert.Equal(t, int64(1), key.Version)

	stored, err := f.keys.GetByValue(context.Background(), "+5511999990000")
	require.NoError(t, err)
	assert.Equal(t, key.ID, stored.ID)
}

func TestCreateKey_RejectsDuplicateValue(t *testing.T) {
	f := newFixture(t)
	owner := domain.NewAccountID()

	_, err := f.orch.CreateKey(f.ctx(), "dup@example.com", models.KindEmail, owner)
	require.NoError(t, err)

	_, err = f.orch.CreateKey(f.ctx(), "dup@example.com", models.KindEmail, owner)
	require.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestRequestClaim(t *testing.T) {
	f := newFixture(t)
	owner := domain.NewAccountID()

	t.Run("ownership", func(t *testing.T) {
		key, err := f.orch.RequestClaim(f.ctx(), "claimed@example.com", models.KindEmail, owner, models.ClaimOwnership)
		require.NoError(t, err)
		assert.Equal(t, models.StateOwnershipPending, key.State)
	})

	t.Run("portability", func(t *testing.T) {
		key, err := f.orch.RequestClaim(f.ctx(), "ported@example.com", models.KindEmail, owner, models.ClaimPortability)
		require.NoError(t, err)
		assert.Equal(t, models.StatePortabilityPending, key.State)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := f.orch.RequestClaim(f.ctx(), "x@example.com", models.KindEmail, owner, "custody")
		require.ErrorIs(t, err, sentinel.ErrMissingData)
	})
}

func TestRegisterKey(t *testing.T) {
	sources := []models.KeyState{
		models.StatePending,
		models.StateOwnershipConfirmed,
		models.StatePortabilityConfirmed,
	}
	for _, source := range sources {
		t.Run(string(source), func(t *testing.T) {
			f := newFixture(t)
			key := f.seedKey(t, source, "")

			updated, err := f.orch.RegisterKey(f.ctx(), orchestrator.ByID(key.ID))
			require.NoError(t, err)

			assert.Equal(t, models.StateReady, updated.State)
			assert.Equal(t, []string{"RegisterKey"}, f.gateway.Calls())

			events := f.emitter.Events()
			require.Len(t, events, 1)
			assert.Equal(t, models.EventAddReady, events[0].Name)
		})
	}
}

func TestNotifyClaim_CreatesUnknownKey(t *testing.T) {
	f := newFixture(t)

	key, err := f.orch.NotifyClaim(f.ctx(), orchestrator.NotifyClaimInput{
		KeyValue:    "foreign@example.com",
		KeyKind:     models.KindEmail,
		Type:        models.ClaimOwnership,
		DonorISPB:   "11111111",
		ClaimerISPB: "22222222",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StateClaimPending, key.State)
	require.True(t, key.HasActiveClaim())

	claim, err := f.claims.GetByID(context.Background(), *key.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, "11111111", claim.DonorISPB)
	assert.Equal(t, "22222222", claim.ClaimerISPB)
}

func TestNotifyClaim_PortabilityTargetsRequestPending(t *testing.T) {
	f := newFixture(t)

	key, err := f.orch.NotifyClaim(f.ctx(), orchestrator.NotifyClaimInput{
		KeyValue: "foreign@example.com",
		KeyKind:  models.KindEmail,
		Type:     models.ClaimPortability,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatePortabilityRequestPending, key.State)
}

func TestNotifyClaim_MovesReadyKey(t *testing.T) {
	f := newFixture(t)
	key := f.seedKey(t, models.StateReady, "")

	updated, err := f.orch.NotifyClaim(f.ctx(), orchestrator.NotifyClaimInput{
		KeyValue: key.Value,
		Type:     models.ClaimOwnership,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StateClaimPending, updated.State)
	assert.True(t, updated.HasActiveClaim())
}

func TestNotifyClaim_RedeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	key := f.seedKey(t, models.StateClaimPending, models.ClaimOwnership)

	updated, err := f.orch.NotifyClaim(f.ctx(), orchestrator.NotifyClaimInput{
		KeyValue: key.Value,
		Type:     models.ClaimOwnership,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StateClaimPending, updated.State)
	// No second claim record was created for the same notification.
	assert.Equal(t, key.ClaimID.String(), updated.ClaimID.String())
}

func TestNotifyClaim_RejectsMidNegotiationKey(t *testing.T) {
	f := newFixture(t)
	key := f.seedKey(t, models.StateOwnershipStarted, models.ClaimOwnership)

	_, err := f.orch.NotifyClaim(f.ctx(), orchestrator.NotifyClaimInput{
		KeyValue: key.Value,
		Type:     models.ClaimOwnership,
	})
	require.ErrorIs(t, err, sentinel.ErrInvalidState)
}

func TestDenyClaim(t *testing.T) {
	f := newFixture(t)
	key := f.seedKey(t, models.StateClaimPending, models.ClaimOwnership)
	claimID := *key.ClaimID

	updated, err := f.orch.DenyClaim(f.ctx(), orchestrator.ByID(key.ID), "fraud suspected")
	require.NoError(t, err)

	assert.Equal(t, models.StateClaimDenied, updated.State)
	assert.False(t, updated.HasActiveClaim())
	assert.Equal(t, []string{"DenyClaim"}, f.gateway.Calls())

	claim, err := f.claims.GetByID(context.Background(), claimID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimDenied, claim.Status)

	events := f.emitter.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventClaimDenied, events[0].Name)
}

func TestExpireClaim(t *testing.T) {
	f := newFixture(t)
	key := f.seedKey(t, models.StateClaimPending, models.ClaimOwnership)
	claimID := *key.ClaimID

	updated, err := f.orch.ExpireClaim(f.ctx(), orchestrator.ByValue(key.Value))
	require.NoError(t, err)

	assert.Equal(t, models.StateCanceled, updated.State)
	assert.False(t, updated.HasActiveClaim())

	claim, err := f.claims.GetByID(context.Background(), claimID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimCanceled, claim.Status)

	events := f.emitter.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventClaimPendingExpired, events[0].Name)
}

func TestDeleteKey_ThenNoop(t *testing.T) {
	f := newFixture(t)
	key := f.seedKey(t, models.StateReady, "")

	updated, err := f.orch.DeleteKey(f.ctx(), orchestrator.ByID(key.ID), "user-requested")
	require.NoError(t, err)

	assert.Equal(t, models.StateDeleting, updated.State)
	assert.Equal(t, "user-requested", updated.DeletedReason)
	assert.Empty(t, f.gateway.Calls())

	events := f.emitter.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventDeleting, events[0].Name)

	// Deleting again is a no-op: same state, no extra event.
	again, err := f.orch.DeleteKey(f.ctx(), orchestrator.ByID(key.ID), "user-requested")
	require.NoError(t, err)
	assert.Equal(t, models.StateDeleting, again.State)
	assert.Len(t, f.emitter.Events(), 1)
}

func TestConfirmDelete(t *testing.T) {
	f := newFixture(t)
	key := f.seedKey(t, models.StateDeleting, "")

	updated, err := f.orch.ConfirmDelete(f.ctx(), orchestrator.ByID(key.ID))
	require.NoError(t, err)

	assert.Equal(t, models.StateDeleted, updated.State)
	require.NotNil(t, updated.DeletedAt)
	assert.Equal(t, f.now, *updated.DeletedAt)
	assert.Equal(t, []string{"DeleteKey"}, f.gateway.Calls())
}

func TestGetKey_OwnerScoped(t *testing.T) {
	f := newFixture(t)
	key := f.seedKey(t, models.StateReady, "")

	got, err := f.orch.GetKey(f.ctx(), orchestrator.ByID(key.ID).Owned(key.OwnerID))
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)

	_, err = f.orch.GetKey(f.ctx(), orchestrator.ByID(key.ID).Owned(domain.NewAccountID()))
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}
