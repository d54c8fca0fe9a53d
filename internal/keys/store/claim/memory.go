package claim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"keyclaims/internal/keys/models"
	"keyclaims/pkg/domain"
	"keyclaims/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded store for unit tests and local development.
type InMemory struct {
	mu   sync.RWMutex
	byID map[domain.ClaimID]*models.Claim
}

func NewInMemory() *InMemory {
	return &InMemory{byID: make(map[domain.ClaimID]*models.Claim)}
}

func (s *InMemory) Create(ctx context.Context, c *models.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[c.ID]; exists {
		return fmt.Errorf("claim %s: %w", c.ID, sentinel.ErrConflict)
	}
	cp := *c
	s.byID[c.ID] = &cp
	return nil
}

func (s *InMemory) GetByID(ctx context.Context, id domain.ClaimID) (*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("claim %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *InMemory) Update(ctx context.Context, c *models.Claim) (*models.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[c.ID]; !ok {
		return nil, fmt.Errorf("claim %s: %w", c.ID, sentinel.ErrNotFound)
	}
	cp := *c
	s.byID[c.ID] = &cp
	out := cp
	return &out, nil
}

func (s *InMemory) ListExpirable(ctx context.Context, olderThan time.Time, limit int) ([]*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Claim
	for _, c := range s.byID {
		if c.Status == models.ClaimWaitingResolution && c.OpeningDate.Before(olderThan) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpeningDate.Before(out[j].OpeningDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
