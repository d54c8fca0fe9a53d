package orchestrator

import (
	"context"
	"fmt"
	"time"

	"keyclaims/internal/keys/directory"
	"keyclaims/internal/keys/models"
	"keyclaims/pkg/platform/sentinel"
	"keyclaims/pkg/requestcontext"
)

// OpenPortability moves a key into portability negotiation and opens its
// claim record. Pure local transition.
func (o *Orchestrator) OpenPortability(ctx context.Context, ref Ref) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name:      TriggerPortabilityOpened,
		sources:   []models.KeyState{models.StatePortabilityPending},
		target:    models.StatePortabilityOpened,
		event:     models.EventPortabilityOpened,
		openClaim: models.ClaimPortability,
	})
}

// StartPortability registers the portability claim at the directory. On a
// transient failure the key stays in portability-opened so the caller can
// retry safely. The directory's answer names the claim id, the donor
// institution, and the authoritative opening date; the local claim adopts all
// three so every later call about this claim speaks the directory's language.
func (o *Orchestrator) StartPortability(ctx context.Context, ref Ref) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name:         TriggerPortabilityStarted,
		sources:      []models.KeyState{models.StatePortabilityOpened},
		target:       models.StatePortabilityStarted,
		requireClaim: true,
		syncClaim:    true,
		event:        models.EventPortabilityStarted,
		gateway: func(ctx context.Context, key *models.Key, claim *models.Claim) error {
			result, err := o.gateway.CreatePortabilityClaim(ctx, directory.ClaimRequest{
				KeyValue: key.Value,
				KeyKind:  string(key.Kind),
			})
			if err != nil || result == nil {
				return err
			}
			claim.AdoptDirectoryRecord(result.ClaimID, result.DonorISPB, result.OpeningDate, requestcontext.Now(ctx))
			return nil
		},
	})
}

// ConfirmPortability finishes the claim at the directory and resolves it
// locally.
func (o *Orchestrator) ConfirmPortability(ctx context.Context, ref Ref) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name:         TriggerPortabilityConfirmed,
		sources:      []models.KeyState{models.StatePortabilityStarted},
		target:       models.StatePortabilityConfirmed,
		requireClaim: true,
		event:        models.EventPortabilityConfirmed,
		resolve:      models.ClaimConfirmed,
		gateway: func(ctx context.Context, _ *models.Key, claim *models.Claim) error {
			_, err := o.gateway.FinishClaim(ctx, claimRef(claim, ""))
			return err
		},
	})
}

// CompletePortability closes out a confirmed portability negotiation and
// releases the claim reference. Pure local transition, typically triggered by
// a completion callback.
func (o *Orchestrator) CompletePortability(ctx context.Context, ref Ref) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name:    TriggerPortabilityCompleted,
		sources: []models.KeyState{models.StatePortabilityConfirmed},
		target:  models.StatePortabilityReady,
		event:   models.EventPortabilityReady,
		detach:  true,
	})
}

// CancelingPortability records cancelation intent locally.
func (o *Orchestrator) CancelingPortability(ctx context.Context, ref Ref) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name: TriggerPortabilityCanceling,
		sources: []models.KeyState{
			models.StatePortabilityPending,
			models.StatePortabilityOpened,
			models.StatePortabilityStarted,
		},
		target: models.StatePortabilityCanceling,
		event:  models.EventPortabilityCanceling,
	})
}

// CancelPortability cancels the claim at the directory and closes it locally.
func (o *Orchestrator) CancelPortability(ctx context.Context, ref Ref, reason string) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name:         TriggerPortabilityCanceled,
		sources:      []models.KeyState{models.StatePortabilityCanceling},
		target:       models.StatePortabilityCanceled,
		requireClaim: true,
		event:        models.EventPortabilityCanceled,
		resolve:      models.ClaimCanceled,
		detach:       true,
		reason:       reason,
		gateway: func(ctx context.Context, _ *models.Key, claim *models.Claim) error {
			return o.gateway.CancelPortabilityClaim(ctx, claimRef(claim, reason))
		},
	})
}

// AutoConfirmPortabilityRequest resolves a portability request that sat
// unanswered past the resolution window. The window is always computed from
// the claim's opening date, never from a stored deadline.
func (o *Orchestrator) AutoConfirmPortabilityRequest(ctx context.Context, ref Ref) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name:         TriggerPortabilityRequestAutoConfirmed,
		sources:      []models.KeyState{models.StatePortabilityRequestPending},
		target:       models.StatePortabilityRequestAutoConfirmed,
		requireClaim: true,
		event:        models.EventPortabilityRequestAutoConfirmed,
		resolve:      models.ClaimConfirmed,
		detach:       true,
		guard: func(claim *models.Claim, now time.Time) error {
			if !claim.ExpiredAt(now, o.expiryThreshold) {
				return fmt.Errorf("resolution window still open for claim %s: %w", claim.ID, sentinel.ErrInvalidState)
			}
			return nil
		},
	})
}
