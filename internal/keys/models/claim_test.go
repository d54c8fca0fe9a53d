package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyclaims/internal/keys/models"
)

func TestNewClaim(t *testing.T) {
	now := time.Now()

	claim, err := models.NewClaim("a@example.com", models.ClaimOwnership, "11111111", "22222222", now)
	require.NoError(t, err)

	assert.Equal(t, models.ClaimWaitingResolution, claim.Status)
	assert.Equal(t, now, claim.OpeningDate)
	assert.False(t, claim.Terminal())
}

func TestNewClaim_Validation(t *testing.T) {
	now := time.Now()

	_, err := models.NewClaim("", models.ClaimOwnership, "", "", now)
	assert.Error(t, err)

	_, err = models.NewClaim("a@example.com", "custody", "", "", now)
	assert.Error(t, err)
}

func TestClaim_ExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	threshold := 7 * 24 * time.Hour

	tests := []struct {
		name    string
		opened  time.Time
		expired bool
	}{
		{"one second past the window", now.Add(-threshold - time.Second), true},
		{"one second inside the window", now.Add(-threshold + time.Second), false},
		{"exactly at the threshold", now.Add(-threshold), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claim, err := models.NewClaim("a@example.com", models.ClaimOwnership, "", "", tt.opened)
			require.NoError(t, err)
			assert.Equal(t, tt.expired, claim.ExpiredAt(now, threshold))
		})
	}
}

func TestClaim_AdoptDirectoryRecord(t *testing.T) {
	opened := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	claim, err := models.NewClaim("a@example.com", models.ClaimPortability, "", "22222222", opened)
	require.NoError(t, err)

	directoryOpened := opened.Add(-time.Hour)
	adopted := opened.Add(time.Minute)
	claim.AdoptDirectoryRecord("dir-claim-1", "99999999", directoryOpened, adopted)

	assert.Equal(t, "dir-claim-1", claim.DirectoryID)
	assert.Equal(t, "99999999", claim.DonorISPB)
	assert.Equal(t, directoryOpened, claim.OpeningDate)
	assert.Equal(t, adopted, claim.UpdatedAt)

	// Empty directory values never erase what is already recorded.
	claim.AdoptDirectoryRecord("", "", time.Time{}, adopted.Add(time.Minute))
	assert.Equal(t, "dir-claim-1", claim.DirectoryID)
	assert.Equal(t, "99999999", claim.DonorISPB)
	assert.Equal(t, directoryOpened, claim.OpeningDate)
}

func TestClaim_Resolution(t *testing.T) {
	now := time.Now()
	claim, err := models.NewClaim("a@example.com", models.ClaimOwnership, "", "", now)
	require.NoError(t, err)

	require.NoError(t, claim.CanResolve())
	claim.ApplyResolution(models.ClaimConfirmed, now)

	assert.True(t, claim.Terminal())
	assert.Error(t, claim.CanResolve())
}
