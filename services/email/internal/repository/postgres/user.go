package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/karaca/identity/pkg/errors"
	"github.com/karaca/identity/services/email/internal/domain"
)

// UserRepository gives the email service its narrow view of the shared users
// table.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, password_hash, email_verified, failed_login_attempts,
		account_locked_until, token_version`

// GetByID retrieves a user by their ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(ctx, query, id)
}

// GetByEmail retrieves a user by their case-folded email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = LOWER($1)`
	return r.scanUser(ctx, query, email)
}

// MarkEmailVerified flips email_verified to true.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, userID string) error {
	ct, err := querier(ctx, r.db).Exec(ctx,
		`UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", userID)
	}
	return nil
}

// ApplyPasswordReset installs the new hash and, atomically in one statement,
// resets the failure counter, clears the lock, and bumps the token version.
// The bump invalidates every access and refresh token issued before it.
func (r *UserRepository) ApplyPasswordReset(ctx context.Context, userID, newPasswordHash string) error {
	ct, err := querier(ctx, r.db).Exec(ctx,
		`UPDATE users
		 SET password_hash = $1,
		     failed_login_attempts = 0,
		     account_locked_until = NULL,
		     token_version = token_version + 1,
		     updated_at = NOW()
		 WHERE id = $2`,
		newPasswordHash, userID)
	if err != nil {
		return fmt.Errorf("apply password reset: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", userID)
	}
	return nil
}

func (r *UserRepository) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var u domain.User
	err := querier(ctx, r.db).QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.EmailVerified,
		&u.FailedLoginAttempts,
		&u.AccountLockedUntil,
		&u.TokenVersion,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
