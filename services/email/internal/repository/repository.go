package repository

import (
	"context"
	"time"

	"github.com/karaca/identity/services/email/internal/domain"
)

// TxManager runs a function inside a database transaction. The password
// reset requires serializable isolation; everything else runs at READ
// COMMITTED.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	WithSerializable(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository is the email service's narrow access to the shared users
// table.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// MarkEmailVerified flips email_verified to true.
	MarkEmailVerified(ctx context.Context, userID string) error

	// ApplyPasswordReset sets the new hash and, in the same statement, resets
	// the failure counter, clears the lock, and bumps the token version,
	// invalidating every issued token.
	ApplyPasswordReset(ctx context.Context, userID, newPasswordHash string) error
}

// CredentialRepository wipes login credentials after a password reset.
type CredentialRepository interface {
	DeleteRefreshTokensForUser(ctx context.Context, userID string) (int64, error)
	DeactivateSessionsForUser(ctx context.Context, userID string) (int64, error)
}

// TokenRepository manages out-of-band token rows in the shared database.
type TokenRepository interface {
	Create(ctx context.Context, token *domain.OutOfBandToken) error
	GetByToken(ctx context.Context, token string) (*domain.OutOfBandToken, error)
	DeleteUnused(ctx context.Context, userID, kind string) error
	MarkUsed(ctx context.Context, id string, usedAt time.Time, ip, userAgent string) error
	DeleteByID(ctx context.Context, id string) error
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	SweepUsedMagicLinks(ctx context.Context, cutoff time.Time) (int64, error)
}
