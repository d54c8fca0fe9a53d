package key

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"keyclaims/internal/keys/models"
	"keyclaims/pkg/domain"
	"keyclaims/pkg/platform/sentinel"
)

// PostgresStore persists keys in PostgreSQL. Updates carry an optimistic
// version guard: the row is only written when the stored version matches the
// one the caller read, which serializes read-modify-write transitions per key.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const keyColumns = `id, value, kind, owner_id, state, claim_id, deleted_reason, deleted_at, version, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, k *models.Key) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.UUID(k.ID), k.Value, string(k.Kind), uuid.UUID(k.OwnerID), string(k.State),
		claimIDValue(k.ClaimID), nullString(k.DeletedReason), k.DeletedAt,
		k.Version, k.CreatedAt, k.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("key value %q: %w", k.Value, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id domain.KeyID) (*models.Key, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+keyColumns+` FROM keys WHERE id = $1`, uuid.UUID(id))
	return scanKey(row)
}

func (s *PostgresStore) GetByValue(ctx context.Context, value string) (*models.Key, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+keyColumns+` FROM keys WHERE value = $1`, value)
	return scanKey(row)
}

func (s *PostgresStore) Update(ctx context.Context, k *models.Key) (*models.Key, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE keys
		SET state = $1, claim_id = $2, deleted_reason = $3, deleted_at = $4,
		    version = version + 1, updated_at = $5
		WHERE id = $6 AND version = $7`,
		string(k.State), claimIDValue(k.ClaimID), nullString(k.DeletedReason), k.DeletedAt,
		k.UpdatedAt, uuid.UUID(k.ID), k.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update key rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing row from a lost version race.
		if _, getErr := s.GetByID(ctx, k.ID); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("key %s version %d: %w", k.ID, k.Version, sentinel.ErrConflict)
	}

	out := *k
	out.Version = k.Version + 1
	return &out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*models.Key, error) {
	var (
		k             models.Key
		id, ownerID   uuid.UUID
		kind, state   string
		claimID       uuid.NullUUID
		deletedReason sql.NullString
		deletedAt     sql.NullTime
	)
	err := row.Scan(&id, &k.Value, &kind, &ownerID, &state, &claimID,
		&deletedReason, &deletedAt, &k.Version, &k.CreatedAt, &k.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("key: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan key: %w", err)
	}

	k.ID = domain.KeyID(id)
	k.OwnerID = domain.AccountID(ownerID)
	k.Kind = models.KeyKind(kind)
	k.State = models.KeyState(state)
	if claimID.Valid {
		cid := domain.ClaimID(claimID.UUID)
		k.ClaimID = &cid
	}
	if deletedReason.Valid {
		k.DeletedReason = deletedReason.String
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		k.DeletedAt = &t
	}
	return &k, nil
}

func claimIDValue(id *domain.ClaimID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*id), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation matches Postgres error code 23505 without binding the
// store to a specific driver error type.
func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}
