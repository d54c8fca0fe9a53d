package domain

import "github.com/google/uuid"

// Typed aggregate identifiers. Wrapping uuid.UUID keeps a KeyID from being
// passed where a ClaimID is expected; construct via Parse* at trust
// boundaries, direct casting bypasses validation.
type (
	KeyID     uuid.UUID
	ClaimID   uuid.UUID
	AccountID uuid.UUID
)

func NewKeyID() KeyID         { return KeyID(uuid.New()) }
func NewClaimID() ClaimID     { return ClaimID(uuid.New()) }
func NewAccountID() AccountID { return AccountID(uuid.New()) }

func ParseKeyID(s string) (KeyID, error) {
	u, err := uuid.Parse(s)
	return KeyID(u), err
}

func ParseClaimID(s string) (ClaimID, error) {
	u, err := uuid.Parse(s)
	return ClaimID(u), err
}

func ParseAccountID(s string) (AccountID, error) {
	u, err := uuid.Parse(s)
	return AccountID(u), err
}

func (id KeyID) String() string     { return uuid.UUID(id).String() }
func (id ClaimID) String() string   { return uuid.UUID(id).String() }
func (id AccountID) String() string { return uuid.UUID(id).String() }

func (id KeyID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ClaimID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id AccountID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// Defined types do not inherit uuid.UUID's marshaling methods, so each id
// type restates them; without these, JSON would render ids as byte arrays.

func (id KeyID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id ClaimID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id AccountID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *KeyID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = KeyID(u)
	return nil
}

func (id *ClaimID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = ClaimID(u)
	return nil
}

func (id *AccountID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = AccountID(u)
	return nil
}
