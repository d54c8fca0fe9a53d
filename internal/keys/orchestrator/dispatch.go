package orchestrator

import (
	"context"

	"keyclaims/internal/keys/models"
	"keyclaims/pkg/domain"
)

// Trigger event names. Directory callbacks and replayed dead letters carry
// one of these; the dispatch table maps each to its transition handler.
const (
	TriggerClaimNotified = "claim-notified"

	TriggerOwnershipOpened    = "ownership-opened"
	TriggerOwnershipStarted   = "ownership-started"
	TriggerOwnershipConfirmed = "ownership-confirmed"
	TriggerOwnershipCanceling = "ownership-canceling"
	TriggerOwnershipCanceled  = "ownership-canceled"

	TriggerPortabilityOpened    = "portability-opened"
	TriggerPortabilityStarted   = "portability-started"
	TriggerPortabilityConfirmed = "portability-confirmed"
	TriggerPortabilityCompleted = "portability-completed"
	TriggerPortabilityCanceling = "portability-canceling"
	TriggerPortabilityCanceled  = "portability-canceled"

	TriggerPortabilityRequestAutoConfirmed = "portability-request-auto-confirmed"

	TriggerClaimDenied  = "claim-denied"
	TriggerClaimExpired = "claim-expired"

	TriggerKeyRegistered = "key-registered"
	TriggerKeyDeleting   = "key-deleting"
	TriggerKeyDeleted    = "key-deleted"
)

// Trigger is the wire payload of a directory callback or a replayed dead
// letter. Either the key id or the alias value identifies the key.
type Trigger struct {
	Event       string `json:"event"`
	KeyID       string `json:"key_id,omitempty"`
	KeyValue    string `json:"key_value,omitempty"`
	KeyKind     string `json:"key_kind,omitempty"`
	ClaimID     string `json:"claim_id,omitempty"`
	ClaimType   string `json:"claim_type,omitempty"`
	DonorISPB   string `json:"donor_ispb,omitempty"`
	ClaimerISPB string `json:"claimer_ispb,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// HandlerFunc applies one trigger to the key it references.
type HandlerFunc func(ctx context.Context, trig Trigger) (*models.Key, error)

// Dispatch builds the static event-name → handler table. Constructed once at
// process start; explicit registration, no reflection.
func (o *Orchestrator) Dispatch() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		TriggerClaimNotified: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.NotifyClaim(ctx, NotifyClaimInput{
				KeyValue:    trig.KeyValue,
				KeyKind:     models.KeyKind(trig.KeyKind),
				Type:        claimTypeOrOwnership(trig.ClaimType),
				ClaimID:     trig.ClaimID,
				DonorISPB:   trig.DonorISPB,
				ClaimerISPB: trig.ClaimerISPB,
			})
		},

		TriggerOwnershipOpened: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.OpenOwnership(ctx, trig.ref())
		},
		TriggerOwnershipStarted: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.StartOwnership(ctx, trig.ref())
		},
		TriggerOwnershipConfirmed: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.ConfirmOwnership(ctx, trig.ref())
		},
		TriggerOwnershipCanceling: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.CancelingOwnership(ctx, trig.ref())
		},
		TriggerOwnershipCanceled: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.CancelOwnership(ctx, trig.ref(), trig.Reason)
		},

		TriggerPortabilityOpened: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.OpenPortability(ctx, trig.ref())
		},
		TriggerPortabilityStarted: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.StartPortability(ctx, trig.ref())
		},
		TriggerPortabilityConfirmed: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.ConfirmPortability(ctx, trig.ref())
		},
		TriggerPortabilityCompleted: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.CompletePortability(ctx, trig.ref())
		},
		TriggerPortabilityCanceling: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.CancelingPortability(ctx, trig.ref())
		},
		TriggerPortabilityCanceled: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.CancelPortability(ctx, trig.ref(), trig.Reason)
		},
		TriggerPortabilityRequestAutoConfirmed: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.AutoConfirmPortabilityRequest(ctx, trig.ref())
		},

		TriggerClaimDenied: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.DenyClaim(ctx, trig.ref(), trig.Reason)
		},
		TriggerClaimExpired: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.ExpireClaim(ctx, trig.ref())
		},

		TriggerKeyRegistered: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.RegisterKey(ctx, trig.ref())
		},
		TriggerKeyDeleting: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.DeleteKey(ctx, trig.ref(), trig.Reason)
		},
		TriggerKeyDeleted: func(ctx context.Context, trig Trigger) (*models.Key, error) {
			return o.ConfirmDelete(ctx, trig.ref())
		},
	}
}

// ref builds an unscoped key reference; directory-triggered handlers skip the
// ownership check since they are not owner-scoped. The callback's claim id
// rides along so the active claim can adopt it.
func (t Trigger) ref() Ref {
	ref := ByValue(t.KeyValue)
	if t.KeyID != "" {
		if id, err := domain.ParseKeyID(t.KeyID); err == nil {
			ref = ByID(id)
		}
	}
	ref.ClaimID = t.ClaimID
	return ref
}

func claimTypeOrOwnership(s string) models.ClaimType {
	if s == string(models.ClaimPortability) {
		return models.ClaimPortability
	}
	return models.ClaimOwnership
}
