package models

import (
	"time"

	"keyclaims/pkg/domain"
)

// Event names emitted by the orchestrator. Downstream collaborators
// (accounting, notifications) consume these; payloads stay minimal.
const (
	EventOwnershipOpened    = "ownership-opened"
	EventOwnershipStarted   = "ownership-started"
	EventOwnershipConfirmed = "ownership-confirmed"
	EventOwnershipCanceling = "ownership-canceling"
	EventOwnershipCanceled  = "ownership-canceled"

	EventPortabilityOpened    = "portability-opened"
	EventPortabilityStarted   = "portability-started"
	EventPortabilityConfirmed = "portability-confirmed"
	EventPortabilityReady     = "portability-ready"
	EventPortabilityCanceling = "portability-canceling"
	EventPortabilityCanceled  = "portability-canceled"

	EventPortabilityRequestAutoConfirmed = "portability-request-auto-confirmed"

	EventAddReady            = "add-ready"
	EventDeleting            = "deleting"
	EventDeleted             = "deleted"
	EventClaimPendingExpired = "claim-pending-expired"
	EventClaimDenied         = "claim-denied"
)

// Event is the minimal key/claim projection published on every transition.
type Event struct {
	Name       string          `json:"name"`
	KeyID      domain.KeyID    `json:"key_id"`
	KeyValue   string          `json:"key_value"`
	State      KeyState        `json:"state"`
	ClaimID    *domain.ClaimID `json:"claim_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewEvent projects a key into an event payload.
func NewEvent(name string, key *Key, now time.Time) Event {
	return Event{
		Name:       name,
		KeyID:      key.ID,
		KeyValue:   key.Value,
		State:      key.State,
		ClaimID:    key.ClaimID,
		OccurredAt: now,
	}
}
