package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/karaca/identity/pkg/errors"
	"github.com/karaca/identity/services/email/internal/domain"
)

// TokenRepository implements repository.TokenRepository against the shared
// out_of_band_tokens table.
type TokenRepository struct {
	db DB
}

// NewTokenRepository creates a new PostgreSQL-backed token repository.
func NewTokenRepository(db DB) *TokenRepository {
	return &TokenRepository{db: db}
}

const tokenColumns = `id, kind, token, user_id, used, used_at, ip_address, user_agent, expires_at, created_at`

// Create inserts a new token row.
func (r *TokenRepository) Create(ctx context.Context, t *domain.OutOfBandToken) error {
	query := `
		INSERT INTO out_of_band_tokens (id, kind, token, user_id, used, used_at,
			ip_address, user_agent, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := querier(ctx, r.db).Exec(ctx, query,
		t.ID, t.Kind, t.Token, t.UserID, t.Used, t.UsedAt,
		t.IPAddress, t.UserAgent, t.ExpiresAt, t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("token already exists")
		}
		return fmt.Errorf("insert token: %w", err)
	}

	return nil
}

// GetByToken retrieves a token row by its exact value.
func (r *TokenRepository) GetByToken(ctx context.Context, token string) (*domain.OutOfBandToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM out_of_band_tokens WHERE token = $1`

	var t domain.OutOfBandToken
	err := querier(ctx, r.db).QueryRow(ctx, query, token).Scan(
		&t.ID, &t.Kind, &t.Token, &t.UserID, &t.Used, &t.UsedAt,
		&t.IPAddress, &t.UserAgent, &t.ExpiresAt, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}

	return &t, nil
}

// DeleteUnused removes the user's unused tokens of the given kind.
func (r *TokenRepository) DeleteUnused(ctx context.Context, userID, kind string) error {
	_, err := querier(ctx, r.db).Exec(ctx,
		`DELETE FROM out_of_band_tokens WHERE user_id = $1 AND kind = $2 AND used = FALSE`,
		userID, kind)
	if err != nil {
		return fmt.Errorf("delete unused tokens: %w", err)
	}
	return nil
}

// MarkUsed consumes a token by flipping its used flag.
func (r *TokenRepository) MarkUsed(ctx context.Context, id string, usedAt time.Time, ip, userAgent string) error {
	ct, err := querier(ctx, r.db).Exec(ctx,
		`UPDATE out_of_band_tokens
		 SET used = TRUE, used_at = $1, ip_address = $2, user_agent = $3
		 WHERE id = $4 AND used = FALSE`,
		usedAt, nullableString(ip), nullableString(userAgent), id)
	if err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.Conflict("token already used")
	}
	return nil
}

// DeleteByID removes a token row by id.
func (r *TokenRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := querier(ctx, r.db).Exec(ctx, `DELETE FROM out_of_band_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// SweepExpired deletes every token row past its expiry.
func (r *TokenRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := querier(ctx, r.db).Exec(ctx, `DELETE FROM out_of_band_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}

// SweepUsedMagicLinks deletes consumed magic-link rows used before cutoff.
func (r *TokenRepository) SweepUsedMagicLinks(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := querier(ctx, r.db).Exec(ctx,
		`DELETE FROM out_of_band_tokens WHERE kind = $1 AND used = TRUE AND used_at < $2`,
		domain.TokenKindMagicLink, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep used magic links: %w", err)
	}
	return ct.RowsAffected(), nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
