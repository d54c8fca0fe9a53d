package models

import (
	"fmt"
	"time"

	"keyclaims/pkg/domain"
)

// KeyKind enumerates the alias types a key may carry.
type KeyKind string

const (
	KindDocument KeyKind = "document"
	KindEmail    KeyKind = "email"
	KindPhone    KeyKind = "phone"
	KindRandom   KeyKind = "random"
)

// ParseKeyKind validates a kind at trust boundaries.
func ParseKeyKind(s string) (KeyKind, error) {
	switch k := KeyKind(s); k {
	case KindDocument, KindEmail, KindPhone, KindRandom:
		return k, nil
	}
	return "", fmt.Errorf("unknown key kind: %s", s)
}

// KeyState is the closed set of lifecycle states a key moves through. The
// orchestrator owns every write to this field; nothing else mutates it.
type KeyState string

const (
	StatePending KeyState = "pending"
	StateReady   KeyState = "ready"

	StateOwnershipPending   KeyState = "ownership-pending"
	StateOwnershipOpened    KeyState = "ownership-opened"
	StateOwnershipStarted   KeyState = "ownership-started"
	StateOwnershipConfirmed KeyState = "ownership-confirmed"
	StateOwnershipCanceling KeyState = "ownership-canceling"
	StateOwnershipCanceled  KeyState = "ownership-canceled"

	StatePortabilityPending   KeyState = "portability-pending"
	StatePortabilityOpened    KeyState = "portability-opened"
	StatePortabilityStarted   KeyState = "portability-started"
	StatePortabilityConfirmed KeyState = "portability-confirmed"
	StatePortabilityReady     KeyState = "portability-ready"
	StatePortabilityCanceling KeyState = "portability-canceling"
	StatePortabilityCanceled  KeyState = "portability-canceled"

	StatePortabilityRequestPending       KeyState = "portability-request-pending"
	StatePortabilityRequestAutoConfirmed KeyState = "portability-request-auto-confirmed"

	StateClaimPending KeyState = "claim-pending"
	StateClaimDenied  KeyState = "claim-denied"

	StateDeleting KeyState = "deleting"
	StateDeleted  KeyState = "deleted"
	StateCanceled KeyState = "canceled"
	StateError    KeyState = "error"
)

// Key is the aggregate root for a portable payment alias.
//
// Invariants:
//   - Value and Kind are immutable after construction
//   - at most one non-terminal claim is associated at a time (ClaimID)
//   - State changes only through orchestrator transition handlers
//   - Version increments on every update; stores reject stale writes
type Key struct {
	ID            domain.KeyID     `json:"id"`
	Value         string           `json:"value"`
	Kind          KeyKind          `json:"kind"`
	OwnerID       domain.AccountID `json:"owner_id"`
	State         KeyState         `json:"state"`
	ClaimID       *domain.ClaimID  `json:"claim_id,omitempty"`
	DeletedReason string           `json:"deleted_reason,omitempty"`
	DeletedAt     *time.Time       `json:"deleted_at,omitempty"`
	Version       int64            `json:"version"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NewKey constructs a key in the pending state.
func NewKey(value string, kind KeyKind, owner domain.AccountID, now time.Time) (*Key, error) {
	if value == "" {
		return nil, fmt.Errorf("key value cannot be empty")
	}
	if len(value) > 77 {
		return nil, fmt.Errorf("key value must be 77 characters or less")
	}
	if _, err := ParseKeyKind(string(kind)); err != nil {
		return nil, err
	}
	return &Key{
		ID:        domain.NewKeyID(),
		Value:     value,
		Kind:      kind,
		OwnerID:   owner,
		State:     StatePending,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// InState reports whether the key's current state is one of the given states.
func (k *Key) InState(states ...KeyState) bool {
	for _, s := range states {
		if k.State == s {
			return true
		}
	}
	return false
}

// HasActiveClaim reports whether a claim reference is attached.
func (k *Key) HasActiveClaim() bool {
	return k.ClaimID != nil && !k.ClaimID.IsNil()
}

// ApplyTransition moves the key to the target state and stamps the update.
// Guard checks belong to the calling handler; this only records the outcome.
func (k *Key) ApplyTransition(target KeyState, now time.Time) {
	k.State = target
	k.UpdatedAt = now
}

// AttachClaim associates an active claim with the key.
func (k *Key) AttachClaim(id domain.ClaimID, now time.Time) {
	k.ClaimID = &id
	k.UpdatedAt = now
}

// DetachClaim clears the claim reference once the negotiation is terminal.
func (k *Key) DetachClaim(now time.Time) {
	k.ClaimID = nil
	k.UpdatedAt = now
}

// ApplyDeletion records the deletion intent alongside the state change.
func (k *Key) ApplyDeletion(reason string, now time.Time) {
	k.DeletedReason = reason
	k.UpdatedAt = now
}

// MarkDeleted stamps the terminal deletion time.
func (k *Key) MarkDeleted(now time.Time) {
	t := now
	k.DeletedAt = &t
	k.UpdatedAt = now
}
