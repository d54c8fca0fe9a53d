package claim

import (
	"context"
	"time"

	"keyclaims/internal/keys/models"
	"keyclaims/pkg/domain"
)

// Store is the persistence contract for the claim aggregate. Implementations
// return sentinel.ErrNotFound for missing claims.
type Store interface {
	Create(ctx context.Context, c *models.Claim) error
	GetByID(ctx context.Context, id domain.ClaimID) (*models.Claim, error)
	Update(ctx context.Context, c *models.Claim) (*models.Claim, error)
	// ListExpirable returns open claims whose opening date is before olderThan,
	// bounded by limit. The scheduler is the only consumer.
	ListExpirable(ctx context.Context, olderThan time.Time, limit int) ([]*models.Claim, error)
}
