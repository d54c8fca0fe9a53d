package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keyclaims/internal/keys/directory"
	"keyclaims/internal/keys/models"
	"keyclaims/pkg/domain"
	"keyclaims/pkg/platform/sentinel"
	"keyclaims/pkg/requestcontext"
)

// CreateKey is the creation path for a user-requested alias. The key lands in
// pending until the directory registration completes.
func (o *Orchestrator) CreateKey(ctx context.Context, value string, kind models.KeyKind, owner domain.AccountID) (*models.Key, error) {
	now := requestcontext.Now(ctx)
	key, err := models.NewKey(value, kind, owner, now)
	if err != nil {
		return nil, fmt.Errorf("create key: %w", err)
	}
	if err := o.keys.Create(ctx, key); err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "key created", "key_id", key.ID.String(), "kind", string(kind))
	return key, nil
}

// GetKey reads a key through the same owner-scoped resolution the transition
// handlers use.
func (o *Orchestrator) GetKey(ctx context.Context, ref Ref) (*models.Key, error) {
	return o.loadKey(ctx, ref)
}

// RequestClaim creates a key that exists to negotiate an alias currently
// served elsewhere. The key starts directly in the claim-type's pending state.
func (o *Orchestrator) RequestClaim(ctx context.Context, value string, kind models.KeyKind, owner domain.AccountID, typ models.ClaimType) (*models.Key, error) {
	now := requestcontext.Now(ctx)
	key, err := models.NewKey(value, kind, owner, now)
	if err != nil {
		return nil, fmt.Errorf("request claim: %w", err)
	}
	switch typ {
	case models.ClaimOwnership:
		key.State = models.StateOwnershipPending
	case models.ClaimPortability:
		key.State = models.StatePortabilityPending
	default:
		return nil, fmt.Errorf("request claim: unknown claim type %s: %w", typ, sentinel.ErrMissingData)
	}
	if err := o.keys.Create(ctx, key); err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "claim requested", "key_id", key.ID.String(), "claim_type", string(typ))
	return key, nil
}

// RegisterKey registers the alias at the directory and brings the key to
// ready. On failure the key keeps its source state so the registration can be
// retried from the dead-letter path.
func (o *Orchestrator) RegisterKey(ctx context.Context, ref Ref) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name: TriggerKeyRegistered,
		sources: []models.KeyState{
			models.StatePending,
			models.StateOwnershipConfirmed,
			models.StatePortabilityConfirmed,
		},
		target: models.StateReady,
		event:  models.EventAddReady,
		detach: true,
		gateway: func(ctx context.Context, key *models.Key, _ *models.Claim) error {
			return o.gateway.RegisterKey(ctx, directory.KeyRequest{
				KeyValue: key.Value,
				KeyKind:  string(key.Kind),
				OwnerID:  key.OwnerID.String(),
			})
		},
	})
}

// NotifyClaimInput carries a directory notification that another institution
// opened a claim against one of our aliases. ClaimID is the identifier the
// directory issued for the claim; the local mirror records it so deny and
// expiry calls reference the claim the directory actually knows.
type NotifyClaimInput struct {
	KeyValue    string
	KeyKind     models.KeyKind
	Type        models.ClaimType
	ClaimID     string
	DonorISPB   string
	ClaimerISPB string
}

// NotifyClaim is the externally-driven creation path: a claim notification
// for an alias not yet known locally creates the key on the spot. A known key
// moves from ready into the claim's pending state with a fresh claim record.
func (o *Orchestrator) NotifyClaim(ctx context.Context, in NotifyClaimInput) (*models.Key, error) {
	if in.KeyValue == "" {
		return nil, fmt.Errorf("notify claim: key value: %w", sentinel.ErrMissingData)
	}
	target := models.StateClaimPending
	if in.Type == models.ClaimPortability {
		target = models.StatePortabilityRequestPending
	}

	now := requestcontext.Now(ctx)
	key, err := o.keys.GetByValue(ctx, in.KeyValue)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		kind := in.KeyKind
		if kind == "" {
			kind = models.KindRandom
		}
		key, err = models.NewKey(in.KeyValue, kind, domain.AccountID{}, now)
		if err != nil {
			return nil, fmt.Errorf("notify claim: %w", err)
		}
		key.State = target
		if err := o.keys.Create(ctx, key); err != nil {
			return nil, err
		}
		claim, err := o.openNotifiedClaim(ctx, key, in, now)
		if err != nil {
			return nil, err
		}
		key.AttachClaim(claim.ID, now)
		return o.keys.Update(ctx, key)
	case err != nil:
		return nil, err
	}

	// At-least-once delivery: an already-notified key is a no-op.
	if key.State == target {
		return key, nil
	}
	if !key.InState(models.StateReady) {
		return nil, fmt.Errorf("notify claim: key %s in state %s: %w", key.ID, key.State, sentinel.ErrInvalidState)
	}

	claim, err := o.openNotifiedClaim(ctx, key, in, now)
	if err != nil {
		return nil, err
	}
	key.AttachClaim(claim.ID, now)
	key.ApplyTransition(target, now)
	return o.keys.Update(ctx, key)
}

func (o *Orchestrator) openNotifiedClaim(ctx context.Context, key *models.Key, in NotifyClaimInput, now time.Time) (*models.Claim, error) {
	claim, err := models.NewClaim(key.Value, in.Type, in.DonorISPB, in.ClaimerISPB, now)
	if err != nil {
		return nil, fmt.Errorf("notify claim: %w", err)
	}
	claim.DirectoryID = in.ClaimID
	if err := o.claims.Create(ctx, claim); err != nil {
		return nil, fmt.Errorf("notify claim: create claim: %w", err)
	}
	return claim, nil
}

// DenyClaim rejects a pending claim against one of our aliases.
func (o *Orchestrator) DenyClaim(ctx context.Context, ref Ref, reason string) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name:         TriggerClaimDenied,
		sources:      []models.KeyState{models.StateClaimPending},
		target:       models.StateClaimDenied,
		requireClaim: true,
		event:        models.EventClaimDenied,
		resolve:      models.ClaimDenied,
		detach:       true,
		reason:       reason,
		gateway: func(ctx context.Context, _ *models.Key, claim *models.Claim) error {
			return o.gateway.DenyClaim(ctx, claimRef(claim, reason))
		},
	})
}

// ExpireClaim force-closes a claim that sat unresolved past the expiry
// threshold. Invoked by the expiry-sync scheduler.
func (o *Orchestrator) ExpireClaim(ctx context.Context, ref Ref) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name:         TriggerClaimExpired,
		sources:      []models.KeyState{models.StateClaimPending},
		target:       models.StateCanceled,
		requireClaim: true,
		event:        models.EventClaimPendingExpired,
		resolve:      models.ClaimCanceled,
		detach:       true,
		reason:       "expired",
		gateway: func(ctx context.Context, _ *models.Key, claim *models.Claim) error {
			return o.gateway.DenyClaim(ctx, claimRef(claim, "expired"))
		},
	})
}

// DeleteKey records deletion intent. No gateway call; the terminal delete
// carries it.
func (o *Orchestrator) DeleteKey(ctx context.Context, ref Ref, reason string) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name:    TriggerKeyDeleting,
		sources: []models.KeyState{models.StateReady, models.StateError},
		target:  models.StateDeleting,
		event:   models.EventDeleting,
		reason:  reason,
		mutate: func(key *models.Key, now time.Time) {
			key.ApplyDeletion(reason, now)
		},
	})
}

// ConfirmDelete removes the alias from the directory and finalizes deletion.
func (o *Orchestrator) ConfirmDelete(ctx context.Context, ref Ref) (*models.Key, error) {
	return o.apply(ctx, ref, transition{
		name:    TriggerKeyDeleted,
		sources: []models.KeyState{models.StateDeleting},
		target:  models.StateDeleted,
		event:   models.EventDeleted,
		mutate: func(key *models.Key, now time.Time) {
			key.MarkDeleted(now)
		},
		gateway: func(ctx context.Context, key *models.Key, _ *models.Claim) error {
			return o.gateway.DeleteKey(ctx, directory.KeyRequest{
				KeyValue: key.Value,
				KeyKind:  string(key.Kind),
				OwnerID:  key.OwnerID.String(),
			})
		},
	})
}
