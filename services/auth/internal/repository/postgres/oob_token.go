package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/karaca/identity/pkg/errors"
	"github.com/karaca/identity/services/auth/internal/domain"
)

// OutOfBandTokenRepository implements repository.OutOfBandTokenRepository
// using PostgreSQL. All three token kinds live in one table discriminated by
// the kind column.
type OutOfBandTokenRepository struct {
	db DB
}

// NewOutOfBandTokenRepository creates a new PostgreSQL-backed token repository.
func NewOutOfBandTokenRepository(db DB) *OutOfBandTokenRepository {
	return &OutOfBandTokenRepository{db: db}
}

const oobColumns = `id, kind, token, user_id, used, used_at, ip_address, user_agent, expires_at, created_at`

// Create inserts a new out-of-band token row.
func (r *OutOfBandTokenRepository) Create(ctx context.Context, t *domain.OutOfBandToken) error {
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
		return fmt.Errorf("insert out-of-band token: %w", err)
	}

	return nil
}

// GetByToken retrieves a token row by its exact value.
func (r *OutOfBandTokenRepository) GetByToken(ctx context.Context, token string) (*domain.OutOfBandToken, error) {
	query := `SELECT ` + oobColumns + ` FROM out_of_band_tokens WHERE token = $1`

	var t domain.OutOfBandToken
	err := querier(ctx, r.db).QueryRow(ctx, query, token).Scan(
		&t.ID, &t.Kind, &t.Token, &t.UserID, &t.Used, &t.UsedAt,
		&t.IPAddress, &t.UserAgent, &t.ExpiresAt, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan out-of-band token: %w", err)
	}

	return &t, nil
}

// DeleteUnused removes the user's unused tokens of the given kind.
func (r *OutOfBandTokenRepository) DeleteUnused(ctx context.Context, userID, kind string) error {
	_, err := querier(ctx, r.db).Exec(ctx,
		`DELETE FROM out_of_band_tokens WHERE user_id = $1 AND kind = $2 AND used = FALSE`,
		userID, kind)
	if err != nil {
		return fmt.Errorf("delete unused tokens: %w", err)
	}
	return nil
}

// MarkUsed consumes a token by flipping its used flag and recording the
// request's origin.
func (r *OutOfBandTokenRepository) MarkUsed(ctx context.Context, id string, usedAt time.Time, ip, userAgent string) error {
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
func (r *OutOfBandTokenRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := querier(ctx, r.db).Exec(ctx, `DELETE FROM out_of_band_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// DeleteAllForUser removes every out-of-band token of the user.
func (r *OutOfBandTokenRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	_, err := querier(ctx, r.db).Exec(ctx, `DELETE FROM out_of_band_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete tokens: %w", err)
	}
	return nil
}

// ListByUserID returns the user's token rows, newest first.
func (r *OutOfBandTokenRepository) ListByUserID(ctx context.Context, userID string) ([]domain.OutOfBandToken, error) {
	query := `SELECT ` + oobColumns + `
		FROM out_of_band_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := querier(ctx, r.db).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []domain.OutOfBandToken
	for rows.Next() {
		var t domain.OutOfBandToken
		if err := rows.Scan(
			&t.ID, &t.Kind, &t.Token, &t.UserID, &t.Used, &t.UsedAt,
			&t.IPAddress, &t.UserAgent, &t.ExpiresAt, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		tokens = append(tokens, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token rows: %w", err)
	}

	if tokens == nil {
		tokens = []domain.OutOfBandToken{}
	}

	return tokens, nil
}

// SweepExpired deletes every token past its expiry.
func (r *OutOfBandTokenRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := querier(ctx, r.db).Exec(ctx, `DELETE FROM out_of_band_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}

// SweepUsedMagicLinks deletes consumed magic-link rows used before cutoff.
func (r *OutOfBandTokenRepository) SweepUsedMagicLinks(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := querier(ctx, r.db).Exec(ctx,
		`DELETE FROM out_of_band_tokens WHERE kind = $1 AND used = TRUE AND used_at < $2`,
		domain.TokenKindMagicLink, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep used magic links: %w", err)
	}
	return ct.RowsAffected(), nil
}

// nullableString maps "" to NULL so empty request metadata never masquerades
// as a real value.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
