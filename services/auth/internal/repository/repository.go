package repository

import (
	"context"
	"time"

	"github.com/karaca/identity/services/auth/internal/domain"
)

// TxManager runs a function inside a database transaction. Repositories
// participating in the transaction resolve it from the context the function
// receives.
type TxManager interface {
	// WithTx runs fn inside a READ COMMITTED transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// WithSerializable runs fn inside a SERIALIZABLE transaction, retrying on
	// serialization failures. Required for the login lockout transition,
	// refresh rotation, password reset, and magic-link redemption.
	WithSerializable(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	Delete(ctx context.Context, id string) error

	// List returns a page of users plus the total count.
	List(ctx context.Context, offset, limit int) ([]domain.User, int, error)

	// DeleteAllNonAdmins removes every user whose role is not ADMIN and
	// returns the count.
	DeleteAllNonAdmins(ctx context.Context) (int64, error)

	// DeleteAllExcept removes every user except the one with the given id
	// and returns the count.
	DeleteAllExcept(ctx context.Context, keepID string) (int64, error)
}

// SessionRepository defines the interface for session persistence operations.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByRefreshToken(ctx context.Context, token string) (*domain.Session, error)

	// ListActive returns sessions with is_active=true and expires_at >= now,
	// newest activity first.
	ListActive(ctx context.Context, userID string, now time.Time) ([]domain.Session, error)

	// ListByUserID returns every session for the user, including inactive
	// ones (used by the GDPR export).
	ListByUserID(ctx context.Context, userID string) ([]domain.Session, error)

	Deactivate(ctx context.Context, id string) error
	DeactivateByRefreshToken(ctx context.Context, token string) error
	DeactivateAllForUser(ctx context.Context, userID string) (int64, error)
	DeactivateOthers(ctx context.Context, userID, keepRefreshToken string) (int64, error)
	DeleteForUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RefreshTokenRepository defines the interface for refresh token rows.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *domain.RefreshToken) error
	GetByToken(ctx context.Context, token string) (*domain.RefreshToken, error)
	DeleteByToken(ctx context.Context, token string) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteOthers(ctx context.Context, userID, keepToken string) (int64, error)
	ListByUserID(ctx context.Context, userID string) ([]domain.RefreshToken, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// OutOfBandTokenRepository defines the interface for single-use token rows of
// every kind (verification, password reset, magic link).
type OutOfBandTokenRepository interface {
	Create(ctx context.Context, token *domain.OutOfBandToken) error
	GetByToken(ctx context.Context, token string) (*domain.OutOfBandToken, error)

	// DeleteUnused removes the user's unused tokens of the given kind; called
	// before minting a replacement so only the newest token is ever live.
	DeleteUnused(ctx context.Context, userID, kind string) error

	MarkUsed(ctx context.Context, id string, usedAt time.Time, ip, userAgent string) error
	DeleteByID(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) error
	ListByUserID(ctx context.Context, userID string) ([]domain.OutOfBandToken, error)

	// SweepExpired deletes every row past its expiry.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	// SweepUsedMagicLinks deletes consumed magic-link rows used before cutoff.
	SweepUsedMagicLinks(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditLogRepository defines the interface for the append-only audit trail.
type AuditLogRepository interface {
	Append(ctx context.Context, entry *domain.AuditLog) error
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]domain.AuditLog, int, error)
	Query(ctx context.Context, filter domain.AuditFilter, offset, limit int) ([]domain.AuditLog, int, error)

	// AnonymizeForUser overwrites resource, ip_address, and user_agent with
	// the anonymization sentinel on every row belonging to the user.
	AnonymizeForUser(ctx context.Context, userID string) error

	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
