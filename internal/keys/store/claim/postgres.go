package claim

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"keyclaims/internal/keys/models"
	"keyclaims/pkg/domain"
	"keyclaims/pkg/platform/sentinel"
)

// PostgresStore persists claims in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const claimColumns = `id, key_value, directory_id, type, status, opening_date, donor_ispb, claimer_ispb, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, c *models.Claim) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claims (`+claimColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.UUID(c.ID), c.KeyValue, c.DirectoryID, string(c.Type), string(c.Status),
		c.OpeningDate, c.DonorISPB, c.ClaimerISPB, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id domain.ClaimID) (*models.Claim, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+claimColumns+` FROM claims WHERE id = $1`, uuid.UUID(id))
	return scanClaim(row)
}

func (s *PostgresStore) Update(ctx context.Context, c *models.Claim) (*models.Claim, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE claims
		SET status = $1, directory_id = $2, donor_ispb = $3, opening_date = $4, updated_at = $5
		WHERE id = $6`,
		string(c.Status), c.DirectoryID, c.DonorISPB, c.OpeningDate, c.UpdatedAt, uuid.UUID(c.ID),
	)
	if err != nil {
		return nil, fmt.Errorf("update claim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update claim rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("claim %s: %w", c.ID, sentinel.ErrNotFound)
	}
	out := *c
	return &out, nil
}

func (s *PostgresStore) ListExpirable(ctx context.Context, olderThan time.Time, limit int) ([]*models.Claim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+claimColumns+` FROM claims
		WHERE status = $1 AND opening_date < $2
		ORDER BY opening_date ASC
		LIMIT $3`,
		string(models.ClaimWaitingResolution), olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expirable claims: %w", err)
	}
	defer rows.Close()

	var out []*models.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expirable claims: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (*models.Claim, error) {
	var (
		c           models.Claim
		id          uuid.UUID
		typ, status string
	)
	err := row.Scan(&id, &c.KeyValue, &c.DirectoryID, &typ, &status, &c.OpeningDate,
		&c.DonorISPB, &c.ClaimerISPB, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan claim: %w", err)
	}
	c.ID = domain.ClaimID(id)
	c.Type = models.ClaimType(typ)
	c.Status = models.ClaimStatus(status)
	return &c, nil
}
