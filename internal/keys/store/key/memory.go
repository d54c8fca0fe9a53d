package key

import (
	"context"
	"fmt"
	"sync"

	"keyclaims/internal/keys/models"
	"keyclaims/pkg/domain"
	"keyclaims/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded store for unit tests and local development.
// Semantics mirror the Postgres store, including the version guard.
type InMemory struct {
	mu      sync.RWMutex
	byID    map[domain.KeyID]*models.Key
	byValue map[string]domain.KeyID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[domain.KeyID]*models.Key),
		byValue: make(map[string]domain.KeyID),
	}
}

func (s *InMemory) Create(ctx context.Context, k *models.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byValue[k.Value]; exists {
		return fmt.Errorf("key value %q: %w", k.Value, sentinel.ErrConflict)
	}
	cp := *k
	s.byID[k.ID] = &cp
	s.byValue[k.Value] = k.ID
	return nil
}

func (s *InMemory) GetByID(ctx context.Context, id domain.KeyID) (*models.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("key %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *k
	return &cp, nil
}

func (s *InMemory) GetByValue(ctx context.Context, value string) (*models.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byValue[value]
	if !ok {
		return nil, fmt.Errorf("key value %q: %w", value, sentinel.ErrNotFound)
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *InMemory) Update(ctx context.Context, k *models.Key) (*models.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[k.ID]
	if !ok {
		return nil, fmt.Errorf("key %s: %w", k.ID, sentinel.ErrNotFound)
	}
	if current.Version != k.Version {
		return nil, fmt.Errorf("key %s version %d: %w", k.ID, k.Version, sentinel.ErrConflict)
	}

	cp := *k
	cp.Version = k.Version + 1
	s.byID[k.ID] = &cp

	out := cp
	return &out, nil
}
