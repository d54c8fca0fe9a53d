package key

import (
	"context"

	"keyclaims/internal/keys/models"
	"keyclaims/pkg/domain"
)

// Store is the persistence contract for the key aggregate. Implementations
// return sentinel.ErrNotFound for missing keys and sentinel.ErrConflict when
// an update loses the version race.
type Store interface {
	Create(ctx context.Context, k *models.Key) error
	GetByID(ctx context.Context, id domain.KeyID) (*models.Key, error)
	GetByValue(ctx context.Context, value string) (*models.Key, error)
	// Update persists the key if the stored version still matches k.Version,
	// then increments the version on the returned copy.
	Update(ctx context.Context, k *models.Key) (*models.Key, error)
}
