// Package scheduler runs the periodic expiry-sync job: claims that sat open
// past the configured threshold are funneled into the orchestrator's
// expiration handlers. The job runs under a distributed lock so concurrent
// service instances do not double-process a tick; handlers stay idempotent in
// case a lease expires mid-batch and another instance re-acquires.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	keymetrics "keyclaims/internal/keys/metrics"
	"keyclaims/internal/keys/models"
	"keyclaims/internal/keys/orchestrator"
	claimstore "keyclaims/internal/keys/store/claim"
	"keyclaims/pkg/platform/sentinel"
	"keyclaims/pkg/requestcontext"
)

// Transitioner is the slice of the orchestrator the scheduler drives.
type Transitioner interface {
	ExpireClaim(ctx context.Context, ref orchestrator.Ref) (*models.Key, error)
	AutoConfirmPortabilityRequest(ctx context.Context, ref orchestrator.Ref) (*models.Key, error)
}

// Config tunes the job.
type Config struct {
	Interval        time.Duration
	ExpiryThreshold time.Duration
	LockLease       time.Duration
	LockRefresh     time.Duration
	PageSize        int
}

// Scheduler scans for expirable claims every tick.
type Scheduler struct {
	claims  claimstore.Store
	orch    Transitioner
	locker  Locker
	logger  *slog.Logger
	metrics *keymetrics.Metrics
	cfg     Config
}

func New(claims claimstore.Store, orch Transitioner, locker Locker, logger *slog.Logger, metrics *keymetrics.Metrics, cfg Config) *Scheduler {
	return &Scheduler{
		claims:  claims,
		orch:    orch,
		locker:  locker,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
	}
}

// Run ticks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.ErrorContext(ctx, "expiry sync tick failed", "error", err.Error())
			}
		}
	}
}

// Tick runs one expiry-sync pass. Skipping because another instance holds the
// lock is a normal outcome, not an error.
func (s *Scheduler) Tick(ctx context.Context) error {
	lease, ok, err := s.locker.Acquire(ctx, s.cfg.LockLease)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.DebugContext(ctx, "expiry sync lock held elsewhere, skipping tick")
		return nil
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			s.logger.WarnContext(ctx, "release expiry sync lock", "error", err.Error())
		}
	}()

	// Heartbeat extends the lease while the batch runs; if we crash, the
	// entry expires naturally.
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go s.heartbeat(heartbeatCtx, lease)

	now := requestcontext.Now(ctx)
	cutoff := now.Add(-s.cfg.ExpiryThreshold)
	claims, err := s.claims.ListExpirable(ctx, cutoff, s.cfg.PageSize)
	if err != nil {
		return err
	}
	s.metrics.ObserveExpiryBatch(len(claims))
	if len(claims) == 0 {
		return nil
	}

	// Each claim is processed independently; one failure never aborts the
	// rest of the batch.
	for _, claim := range claims {
		s.process(ctx, claim)
	}
	return nil
}

func (s *Scheduler) process(ctx context.Context, claim *models.Claim) {
	ref := orchestrator.ByValue(claim.KeyValue)

	var err error
	switch claim.Type {
	case models.ClaimPortability:
		_, err = s.orch.AutoConfirmPortabilityRequest(ctx, ref)
	default:
		_, err = s.orch.ExpireClaim(ctx, ref)
	}

	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "expired claim resolved",
			"claim_id", claim.ID.String(),
			"claim_type", string(claim.Type),
			"key_value", claim.KeyValue,
		)
	case errors.Is(err, sentinel.ErrInvalidState):
		// The key is mid-negotiation; its own handlers will close the claim.
		s.logger.DebugContext(ctx, "expirable claim not in a forceable state",
			"claim_id", claim.ID.String(), "error", err.Error())
	default:
		s.logger.ErrorContext(ctx, "expire claim failed",
			"claim_id", claim.ID.String(), "error", err.Error())
	}
}

func (s *Scheduler) heartbeat(ctx context.Context, lease Lease) {
	ticker := time.NewTicker(s.cfg.LockRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := lease.Refresh(ctx, s.cfg.LockLease)
			if err != nil {
				s.logger.WarnContext(ctx, "refresh expiry sync lock", "error", err.Error())
				continue
			}
			if !ok {
				// Lease expired under us; stop extending and let the current
				// batch finish, idempotency covers any overlap.
				s.logger.WarnContext(ctx, "expiry sync lease lost")
				return
			}
		}
	}
}
