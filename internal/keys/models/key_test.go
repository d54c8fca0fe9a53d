package models_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyclaims/internal/keys/models"
	"keyclaims/pkg/domain"
)

func TestNewKey(t *testing.T) {
	now := time.Now()
	owner := domain.NewAccountID()

	key, err := models.NewKey("a@example.com", models.KindEmail, owner, now)
	require.NoError(t, err)

	assert.Equal(t, models.StatePending, key.State)
	assert.Equal(t, int64(1), key.Version)
	assert.False(t, key.ID.IsNil())
	assert.False(t, key.HasActiveClaim())
}

func TestNewKey_Validation(t *testing.T) {
	now := time.Now()
	owner := domain.NewAccountID()

	_, err := models.NewKey("", models.KindEmail, owner, now)
	assert.Error(t, err)

	_, err = models.NewKey(strings.Repeat("x", 78), models.KindEmail, owner, now)
	assert.Error(t, err)

	_, err = models.NewKey("a@example.com", "fax", owner, now)
	assert.Error(t, err)
}

func TestParseKeyKind(t *testing.T) {
	for _, valid := range []string{"document", "email", "phone", "random"} {
		kind, err := models.ParseKeyKind(valid)
		require.NoError(t, err)
		assert.Equal(t, valid, string(kind))
	}

	_, err := models.ParseKeyKind("fax")
	assert.Error(t, err)
}

func TestKey_ClaimAttachment(t *testing.T) {
	now := time.Now()
	key, err := models.NewKey("a@example.com", models.KindEmail, domain.NewAccountID(), now)
	require.NoError(t, err)

	claimID := domain.NewClaimID()
	key.AttachClaim(claimID, now)
	require.True(t, key.HasActiveClaim())
	assert.Equal(t, claimID, *key.ClaimID)

	key.DetachClaim(now)
	assert.False(t, key.HasActiveClaim())
}

func TestKey_InState(t *testing.T) {
	key := &models.Key{State: models.StateOwnershipOpened}

	assert.True(t, key.InState(models.StateOwnershipOpened))
	assert.True(t, key.InState(models.StatePending, models.StateOwnershipOpened))
	assert.False(t, key.InState(models.StatePending, models.StateReady))
}

func TestKey_Deletion(t *testing.T) {
	now := time.Now()
	key, err := models.NewKey("a@example.com", models.KindEmail, domain.NewAccountID(), now)
	require.NoError(t, err)

	key.ApplyDeletion("user-requested", now)
	assert.Equal(t, "user-requested", key.DeletedReason)
	assert.Nil(t, key.DeletedAt)

	key.MarkDeleted(now)
	require.NotNil(t, key.DeletedAt)
	assert.Equal(t, now, *key.DeletedAt)
}
