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

// RefreshTokenRepository implements repository.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	db DB
}

// NewRefreshTokenRepository creates a new PostgreSQL-backed refresh token repository.
func NewRefreshTokenRepository(db DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores a new refresh token row.
func (r *RefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := querier(ctx, r.db).Exec(ctx, query, t.ID, t.UserID, t.Token, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("refresh token already exists")
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

// GetByToken retrieves a refresh token row by its exact value.
func (r *RefreshTokenRepository) GetByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	query := `
		SELECT id, user_id, token, expires_at, created_at
		FROM refresh_tokens
		WHERE token = $1`

	var t domain.RefreshToken
	err := querier(ctx, r.db).QueryRow(ctx, query, token).Scan(
		&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	return &t, nil
}

// DeleteByToken removes a refresh token row. Missing rows are not an error;
// logout is idempotent.
func (r *RefreshTokenRepository) DeleteByToken(ctx context.Context, token string) error {
	_, err := querier(ctx, r.db).Exec(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// DeleteAllForUser removes every refresh token of the user and returns the count.
func (r *RefreshTokenRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	ct, err := querier(ctx, r.db).Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete refresh tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}

// DeleteOthers removes every refresh token of the user except keepToken.
func (r *RefreshTokenRepository) DeleteOthers(ctx context.Context, userID, keepToken string) (int64, error) {
	ct, err := querier(ctx, r.db).Exec(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = $1 AND token <> $2`, userID, keepToken)
	if err != nil {
		return 0, fmt.Errorf("delete other refresh tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ListByUserID returns the user's refresh token rows, newest first.
func (r *RefreshTokenRepository) ListByUserID(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	query := `
		SELECT id, user_id, token, expires_at, created_at
		FROM refresh_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := querier(ctx, r.db).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	defer rows.Close()

	var tokens []domain.RefreshToken
	for rows.Next() {
		var t domain.RefreshToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan refresh token row: %w", err)
		}
		tokens = append(tokens, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh token rows: %w", err)
	}

	if tokens == nil {
		tokens = []domain.RefreshToken{}
	}

	return tokens, nil
}

// DeleteExpired removes refresh tokens past their expiry.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := querier(ctx, r.db).Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}
