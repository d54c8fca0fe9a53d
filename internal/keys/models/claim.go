package models

import (
	"fmt"
	"time"

	"keyclaims/pkg/domain"
)

// ClaimType distinguishes the two negotiation flavors.
type ClaimType string

const (
	ClaimOwnership   ClaimType = "ownership"
	ClaimPortability ClaimType = "portability"
)

// ClaimStatus tracks a claim's resolution. A claim reaches a terminal status
// through exactly one transition handler and is never mutated afterwards; a
// new claim is created for any later negotiation on the same key.
type ClaimStatus string

const (
	ClaimWaitingResolution ClaimStatus = "waiting-resolution"
	ClaimConfirmed         ClaimStatus = "confirmed"
	ClaimCanceled          ClaimStatus = "canceled"
	ClaimDenied            ClaimStatus = "denied"
)

// Claim mirrors the directory's negotiation record locally.
//
// Invariants:
//   - expiry is always computed as now - OpeningDate against a configured
//     threshold; once the directory reports its own opening date that value
//     is authoritative and replaces the local one
//   - DirectoryID, once set, never changes; every gateway call about this
//     claim must reference it
//   - terminal claims (confirmed/canceled/denied) are read-only
type Claim struct {
	ID       domain.ClaimID `json:"id"`
	KeyValue string         `json:"key_value"`

	// DirectoryID is the identifier the directory issued for this claim.
	// Empty until the directory has acknowledged the negotiation.
	DirectoryID string `json:"directory_id,omitempty"`

	Type        ClaimType   `json:"type"`
	Status      ClaimStatus `json:"status"`
	OpeningDate time.Time   `json:"opening_date"`
	DonorISPB   string      `json:"donor_ispb"`
	ClaimerISPB string      `json:"claimer_ispb"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NewClaim opens a negotiation record in waiting-resolution.
func NewClaim(keyValue string, typ ClaimType, donorISPB, claimerISPB string, now time.Time) (*Claim, error) {
	if keyValue == "" {
		return nil, fmt.Errorf("claim key value cannot be empty")
	}
	if typ != ClaimOwnership && typ != ClaimPortability {
		return nil, fmt.Errorf("unknown claim type: %s", typ)
	}
	return &Claim{
		ID:          domain.NewClaimID(),
		KeyValue:    keyValue,
		Type:        typ,
		Status:      ClaimWaitingResolution,
		OpeningDate: now,
		DonorISPB:   donorISPB,
		ClaimerISPB: claimerISPB,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// AdoptDirectoryRecord copies the directory's view of the claim onto the
// local mirror. The directory is the source of truth for its own identifier,
// the donor institution, and the opening date that anchors expiry; non-empty
// directory values win over locally minted ones.
func (c *Claim) AdoptDirectoryRecord(directoryID, donorISPB string, openingDate, now time.Time) {
	if directoryID != "" {
		c.DirectoryID = directoryID
	}
	if donorISPB != "" {
		c.DonorISPB = donorISPB
	}
	if !openingDate.IsZero() {
		c.OpeningDate = openingDate
	}
	c.UpdatedAt = now
}

// Terminal reports whether the claim has reached a final status.
func (c *Claim) Terminal() bool {
	return c.Status != ClaimWaitingResolution
}

// ExpiredAt reports whether the claim's resolution window has elapsed.
func (c *Claim) ExpiredAt(now time.Time, threshold time.Duration) bool {
	return now.Sub(c.OpeningDate) > threshold
}

// CanResolve checks that the claim is still open for a terminal transition.
func (c *Claim) CanResolve() error {
	if c.Terminal() {
		return fmt.Errorf("claim %s already resolved as %s", c.ID, c.Status)
	}
	return nil
}

// ApplyResolution records the terminal status. Call CanResolve first.
func (c *Claim) ApplyResolution(status ClaimStatus, now time.Time) {
	c.Status = status
	c.UpdatedAt = now
}
