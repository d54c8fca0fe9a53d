// Package orchestrator is the claim state-transition engine. One handler
// exists per triggering event (internal command or directory callback); each
// loads the key and its active claim, validates the transition, invokes the
// directory gateway when required, persists the new state, and emits a
// domain event.
//
// Two rules dominate every handler:
//
//   - Idempotency: callbacks are delivered at least once, so a key already at
//     the handler's target state is returned unchanged with no gateway call
//     and no event.
//   - Dead-letter on transient gateway failure: the triggering event is routed
//     to the dead-letter path and the key is left untouched, so the message
//     can be retried without caller intervention. The handler reports success.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"keyclaims/internal/keys/directory"
	"keyclaims/internal/keys/events"
	keymetrics "keyclaims/internal/keys/metrics"
	"keyclaims/internal/keys/models"
	claimstore "keyclaims/internal/keys/store/claim"
	keystore "keyclaims/internal/keys/store/key"
	"keyclaims/pkg/domain"
	"keyclaims/pkg/platform/sentinel"
	"keyclaims/pkg/requestcontext"
)

var tracer = otel.Tracer("keyclaims/orchestrator")

// Config wires the orchestrator's collaborators.
type Config struct {
	Keys        keystore.Store
	Claims      claimstore.Store
	Gateway     directory.Gateway
	Emitter     events.Emitter
	DeadLetters events.DeadLetterRouter
	Logger      *slog.Logger
	Metrics     *keymetrics.Metrics

	// CallbackTopic is where dead-lettered triggers are routed (suffixed by
	// the router), so replays funnel back through the same dispatch table.
	CallbackTopic string

	// ExpiryThreshold bounds how long a claim may wait for resolution.
	ExpiryThreshold time.Duration
}

// Orchestrator owns every mutation of Key.State and Claim.Status.
type Orchestrator struct {
	keys        keystore.Store
	claims      claimstore.Store
	gateway     directory.Gateway
	emitter     events.Emitter
	deadLetters events.DeadLetterRouter
	logger      *slog.Logger
	metrics     *keymetrics.Metrics

	callbackTopic   string
	expiryThreshold time.Duration
}

func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		keys:            cfg.Keys,
		claims:          cfg.Claims,
		gateway:         cfg.Gateway,
		emitter:         cfg.Emitter,
		deadLetters:     cfg.DeadLetters,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		callbackTopic:   cfg.CallbackTopic,
		expiryThreshold: cfg.ExpiryThreshold,
	}
}

// Ref locates a key by id or, for directory correlation, by alias value.
// A non-nil Owner makes the lookup owner-scoped: a mismatch reads as
// not-found so key existence never leaks across accounts.
type Ref struct {
	ID    domain.KeyID
	Value string
	Owner domain.AccountID

	// ClaimID is the directory-issued claim identifier when the trigger is a
	// callback. The active claim adopts it if it has none recorded yet.
	ClaimID string
}

// ByID builds an unscoped reference.
func ByID(id domain.KeyID) Ref { return Ref{ID: id} }

// ByValue builds an unscoped reference by alias value.
func ByValue(value string) Ref { return Ref{Value: value} }

// Owned returns a copy of the reference scoped to an owner.
func (r Ref) Owned(owner domain.AccountID) Ref {
	r.Owner = owner
	return r
}

func (o *Orchestrator) loadKey(ctx context.Context, ref Ref) (*models.Key, error) {
	var (
		key *models.Key
		err error
	)
	switch {
	case !ref.ID.IsNil():
		key, err = o.keys.GetByID(ctx, ref.ID)
	case ref.Value != "":
		key, err = o.keys.GetByValue(ctx, ref.Value)
	default:
		return nil, fmt.Errorf("key reference: %w", sentinel.ErrMissingData)
	}
	if err != nil {
		return nil, err
	}
	if !ref.Owner.IsNil() && key.OwnerID != ref.Owner {
		// Owner mismatch reads as not-found, never forbidden.
		return nil, fmt.Errorf("key %s: %w", key.ID, sentinel.ErrNotFound)
	}
	return key, nil
}

// transition describes one handler declaratively; apply executes it.
type transition struct {
	// name doubles as the metric label and the dead-letter trigger event, so
	// a replayed dead letter re-enters through the same handler.
	name         string
	sources      []models.KeyState
	target       models.KeyState
	requireClaim bool
	event        string
	reason       string

	// gateway is nil for pure local transitions.
	gateway func(ctx context.Context, key *models.Key, claim *models.Claim) error
	// syncClaim persists the claim after a successful gateway call, for
	// handlers whose gateway closure adopts directory-issued fields.
	syncClaim bool

	// openClaim creates and attaches a fresh negotiation record of the given
	// type when the key has none. Used by the open handlers.
	openClaim models.ClaimType
	// guard runs after the claim is loaded, for time-window checks.
	guard func(claim *models.Claim, now time.Time) error

	// resolve records the claim's terminal status alongside the key update.
	resolve models.ClaimStatus
	// detach clears the key's claim reference once the negotiation is over.
	detach bool
	// mutate applies handler-specific changes before the state transition.
	mutate func(key *models.Key, now time.Time)
}

func (o *Orchestrator) apply(ctx context.Context, ref Ref, t transition) (*models.Key, error) {
	ctx, span := tracer.Start(ctx, "orchestrator."+t.name,
		trace.WithAttributes(attribute.String("transition.target", string(t.target))))
	defer span.End()

	key, err := o.loadKey(ctx, ref)
	if err != nil {
		o.metrics.IncTransition(t.name, keymetrics.OutcomeError)
		return nil, err
	}
	span.SetAttributes(attribute.String("key.id", key.ID.String()))

	// Idempotent no-op: already at the target, nothing else runs.
	if key.State == t.target {
		o.metrics.IncTransition(t.name, keymetrics.OutcomeNoop)
		return key, nil
	}

	if !key.InState(t.sources...) {
		o.metrics.IncTransition(t.name, keymetrics.OutcomeRejected)
		return nil, fmt.Errorf("%s: key %s in state %s: %w", t.name, key.ID, key.State, sentinel.ErrInvalidState)
	}

	now := requestcontext.Now(ctx)

	if t.openClaim != "" && !key.HasActiveClaim() {
		c, err := models.NewClaim(key.Value, t.openClaim, "", "", now)
		if err != nil {
			o.metrics.IncTransition(t.name, keymetrics.OutcomeError)
			return nil, fmt.Errorf("%s: %w", t.name, err)
		}
		if err := o.claims.Create(ctx, c); err != nil {
			o.metrics.IncTransition(t.name, keymetrics.OutcomeError)
			return nil, fmt.Errorf("%s: create claim: %w", t.name, err)
		}
		key.AttachClaim(c.ID, now)
	}

	var (
		claim      *models.Claim
		claimDirty bool
	)
	if t.requireClaim {
		if !key.HasActiveClaim() {
			o.metrics.IncTransition(t.name, keymetrics.OutcomeError)
			return nil, fmt.Errorf("%s: key %s has no active claim: %w", t.name, key.ID, sentinel.ErrMissingData)
		}
		claim, err = o.claims.GetByID(ctx, *key.ClaimID)
		if err != nil {
			o.metrics.IncTransition(t.name, keymetrics.OutcomeError)
			return nil, err
		}
		// A callback carries the directory's own claim identifier; record it
		// the first time we see it so terminal gateway calls reference the id
		// the directory actually issued.
		if ref.ClaimID != "" && claim.DirectoryID == "" {
			claim.AdoptDirectoryRecord(ref.ClaimID, "", time.Time{}, now)
			claimDirty = true
		}
		if t.guard != nil {
			if err := t.guard(claim, now); err != nil {
				o.metrics.IncTransition(t.name, keymetrics.OutcomeRejected)
				return nil, fmt.Errorf("%s: %w", t.name, err)
			}
		}
	}

	if t.gateway != nil {
		start := time.Now()
		err := t.gateway(ctx, key, claim)
		o.metrics.ObserveGateway(t.name, time.Since(start).Seconds())

		switch {
		case err == nil:
			if t.syncClaim && claim != nil {
				claimDirty = true
			}
		case directory.IsUnavailable(err):
			// No local state change; the trigger is parked for replay and the
			// command reports accepted-but-pending.
			if dlErr := o.deadLetter(ctx, t, key, claim); dlErr != nil {
				o.metrics.IncTransition(t.name, keymetrics.OutcomeError)
				return nil, dlErr
			}
			o.metrics.IncTransition(t.name, keymetrics.OutcomeDeadLetter)
			return key, nil
		case directory.IsBusinessRejection(err):
			// The directory already reflects the outcome; proceed locally.
			o.logger.InfoContext(ctx, "directory rejection treated as no-op",
				"handler", t.name, "key_id", key.ID.String(), "error", err.Error())
		default:
			o.metrics.IncTransition(t.name, keymetrics.OutcomeError)
			return nil, fmt.Errorf("%s: %w", t.name, err)
		}
	}

	if t.mutate != nil {
		t.mutate(key, now)
	}
	if t.detach {
		key.DetachClaim(now)
	}
	key.ApplyTransition(t.target, now)

	// The claim writes before the key: if this fails, the key is still in its
	// source state and the trigger can simply be redelivered. The reverse
	// order would strand an open claim behind an already-terminal key.
	if claim != nil {
		if t.resolve != "" && claim.CanResolve() == nil {
			claim.ApplyResolution(t.resolve, now)
			claimDirty = true
		}
		if claimDirty {
			if _, err := o.claims.Update(ctx, claim); err != nil {
				o.metrics.IncTransition(t.name, keymetrics.OutcomeError)
				return nil, fmt.Errorf("%s: update claim: %w", t.name, err)
			}
		}
	}

	updated, err := o.keys.Update(ctx, key)
	if err != nil {
		o.metrics.IncTransition(t.name, keymetrics.OutcomeError)
		return nil, err
	}

	if t.event != "" {
		// The transition is already persisted; failing here would only make
		// the redelivery no-op at the idempotency check without recovering
		// the event. Log it and report success.
		if err := o.emitter.Emit(ctx, models.NewEvent(t.event, updated, now)); err != nil {
			o.logger.ErrorContext(ctx, "event lost after persisted transition",
				"handler", t.name, "key_id", updated.ID.String(), "event", t.event, "error", err.Error())
		}
	}

	o.metrics.IncTransition(t.name, keymetrics.OutcomeApplied)
	o.logger.InfoContext(ctx, "transition applied",
		"handler", t.name,
		"key_id", updated.ID.String(),
		"state", string(updated.State),
	)
	return updated, nil
}

// deadLetter parks the trigger for replay through the callback topic.
func (o *Orchestrator) deadLetter(ctx context.Context, t transition, key *models.Key, claim *models.Claim) error {
	trig := Trigger{
		Event:    t.name,
		KeyID:    key.ID.String(),
		KeyValue: key.Value,
		Reason:   t.reason,
	}
	if claim != nil {
		// ClaimID on the wire is always the directory's identifier; a claim
		// the directory has not acknowledged yet has none to carry.
		trig.ClaimID = claim.DirectoryID
	}
	payload, err := json.Marshal(trig)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := o.deadLetters.Route(ctx, o.callbackTopic, payload); err != nil {
		return fmt.Errorf("route dead letter: %w", err)
	}
	o.metrics.IncDeadLetter(o.callbackTopic)
	o.logger.WarnContext(ctx, "directory unavailable, trigger dead-lettered",
		"handler", t.name, "key_id", key.ID.String())
	return nil
}

// claimRef builds the gateway reference for the key's active claim, using the
// directory-issued identifier whenever one has been recorded. The local id is
// only a fallback for claims the directory never acknowledged.
func claimRef(claim *models.Claim, reason string) directory.ClaimRef {
	id := claim.DirectoryID
	if id == "" {
		id = claim.ID.String()
	}
	return directory.ClaimRef{
		ClaimID:  id,
		KeyValue: claim.KeyValue,
		Reason:   reason,
	}
}

// IsRetryable reports whether a handler error warrants redelivery of the
// triggering message. Version conflicts are the one retryable class; guard
// and not-found failures are terminal for that delivery.
func IsRetryable(err error) bool {
	return errors.Is(err, sentinel.ErrConflict)
}
