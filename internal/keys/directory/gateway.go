// Package directory abstracts the external claim directory shared by all
// participating institutions. Every operation can succeed, fail with a
// business rejection the caller treats as an idempotent no-op, or fail
// transiently, in which case the orchestrator dead-letters the triggering
// event instead of surfacing the error.
package directory

import (
	"context"
	"errors"
	"time"

	"keyclaims/pkg/platform/sentinel"
)

// Business rejections. The directory already reflects the requested outcome
// (or never knew the claim); callers proceed with their local transition.
var (
	ErrClaimNotFound        = errors.New("directory: claim not found")
	ErrClaimAlreadyResolved = errors.New("directory: claim already resolved")
	ErrKeyNotFound          = errors.New("directory: key not found")
)

// ClaimRequest identifies a key for claim creation.
type ClaimRequest struct {
	KeyValue    string
	KeyKind     string
	ClaimerISPB string
}

// ClaimRef identifies an existing claim at the directory.
type ClaimRef struct {
	ClaimID  string
	KeyValue string
	Reason   string
}

// KeyRequest identifies a key for registration or deletion.
type KeyRequest struct {
	KeyValue string
	KeyKind  string
	OwnerID  string
}

// ClaimResult carries the directory's view of a claim after an operation.
type ClaimResult struct {
	ClaimID     string
	Status      string
	DonorISPB   string
	OpeningDate time.Time
}

// Gateway is the contract consumed by the orchestrator.
type Gateway interface {
	CreateOwnershipClaim(ctx context.Context, req ClaimRequest) (*ClaimResult, error)
	CreatePortabilityClaim(ctx context.Context, req ClaimRequest) (*ClaimResult, error)
	FinishClaim(ctx context.Context, ref ClaimRef) (*ClaimResult, error)
	DenyClaim(ctx context.Context, ref ClaimRef) error
	CancelPortabilityClaim(ctx context.Context, ref ClaimRef) error
	RegisterKey(ctx context.Context, req KeyRequest) error
	DeleteKey(ctx context.Context, req KeyRequest) error
}

// IsBusinessRejection reports whether the directory rejected the operation
// for a reason that makes it an idempotent no-op locally.
func IsBusinessRejection(err error) bool {
	return errors.Is(err, ErrClaimNotFound) ||
		errors.Is(err, ErrClaimAlreadyResolved) ||
		errors.Is(err, ErrKeyNotFound)
}

// IsUnavailable reports whether the failure is transient (offline, timeout,
// 5xx). Transient failures are never retried synchronously.
func IsUnavailable(err error) bool {
	return errors.Is(err, sentinel.ErrUnavailable)
}
