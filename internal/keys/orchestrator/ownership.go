package orchestrator

import (
	"context"

	"keyclaims/internal/keys/models"
)

// OpenOwnership moves a key into negotiation and opens its claim record.
// Pure local transition; the directory learns about it at start/confirm time.
func (o *Orchestrator) OpenOwnership(ctx context.Context, ref Ref) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name:      TriggerOwnershipOpened,
		sources:   []models.KeyState{models.StateOwnershipPending},
		target:    models.StateOwnershipOpened,
		event:     models.EventOwnershipOpened,
		openClaim: models.ClaimOwnership,
	})
}

// StartOwnership records that the negotiation is underway. Ownership starts
// are directory-driven, so no gateway call happens here.
func (o *Orchestrator) StartOwnership(ctx context.Context, ref Ref) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name:         TriggerOwnershipStarted,
		sources:      []models.KeyState{models.StateOwnershipOpened},
		target:       models.StateOwnershipStarted,
		requireClaim: true,
		event:        models.EventOwnershipStarted,
	})
}

// ConfirmOwnership finishes the claim at the directory and resolves it
// locally. A transient directory failure dead-letters the trigger.
func (o *Orchestrator) ConfirmOwnership(ctx context.Context, ref Ref) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name:         TriggerOwnershipConfirmed,
		sources:      []models.KeyState{models.StateOwnershipStarted},
		target:       models.StateOwnershipConfirmed,
		requireClaim: true,
		event:        models.EventOwnershipConfirmed,
		resolve:      models.ClaimConfirmed,
		gateway: func(ctx context.Context, _ *models.Key, claim *models.Claim) error {
			_, err := o.gateway.FinishClaim(ctx, claimRef(claim, ""))
			return err
		},
	})
}

// CancelingOwnership records cancelation intent without touching the
// directory; the terminal cancel carries the gateway call.
func (o *Orchestrator) CancelingOwnership(ctx context.Context, ref Ref) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name: TriggerOwnershipCanceling,
		sources: []models.KeyState{
			models.StateOwnershipPending,
			models.StateOwnershipOpened,
			models.StateOwnershipStarted,
		},
		target: models.StateOwnershipCanceling,
		event:  models.EventOwnershipCanceling,
	})
}

// CancelOwnership denies the claim at the directory and closes it locally.
func (o *Orchestrator) CancelOwnership(ctx context.Context, ref Ref, reason string) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name:         TriggerOwnershipCanceled,
		sources:      []models.KeyState{models.StateOwnershipCanceling},
		target:       models.StateOwnershipCanceled,
		requireClaim: true,
		event:        models.EventOwnershipCanceled,
		resolve:      models.ClaimCanceled,
		detach:       true,
		reason:       reason,
		gateway: func(ctx context.Context, _ *models.Key, claim *models.Claim) error {
			return o.gateway.DenyClaim(ctx, claimRef(claim, reason))
		},
	})
}
