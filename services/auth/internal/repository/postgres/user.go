package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/karaca/identity/pkg/errors"
	"github.com/karaca/identity/services/auth/internal/domain"
)

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, password_hash, role, email_verified, failed_login_attempts,
		account_locked_until, token_version, last_login_at, last_login_ip, created_at, updated_at`

// Create inserts a new user into the database.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, role, email_verified, failed_login_attempts,
			account_locked_until, token_version, last_login_at, last_login_ip, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := querier(ctx, r.db).Exec(ctx, query,
		u.ID,
		u.Email,
		u.PasswordHash,
		u.Role,
		u.EmailVerified,
		u.FailedLoginAttempts,
		u.AccountLockedUntil,
		u.TokenVersion,
		u.LastLoginAt,
		u.LastLoginIP,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

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

// Update modifies an existing user. The token_version GREATEST guard keeps
// the epoch monotone even if a stale in-memory user is written back.
func (r *UserRepository) Update(ctx context.Context, u *domain.User) error {
	query := `
		UPDATE users
		SET email = $1, password_hash = $2, role = $3, email_verified = $4,
		    failed_login_attempts = $5, account_locked_until = $6,
		    token_version = GREATEST(token_version, $7), last_login_at = $8,
		    last_login_ip = $9, updated_at = NOW()
		WHERE id = $10`

	ct, err := querier(ctx, r.db).Exec(ctx, query,
		u.Email,
		u.PasswordHash,
		u.Role,
		u.EmailVerified,
		u.FailedLoginAttempts,
		u.AccountLockedUntil,
		u.TokenVersion,
		u.LastLoginAt,
		u.LastLoginIP,
		u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		return fmt.Errorf("update user: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", u.ID)
	}

	return nil
}

// Delete removes a user; dependent rows cascade.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	ct, err := querier(ctx, r.db).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}

	return nil
}

// List returns a page of users ordered by creation time, plus the total count.
func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]domain.User, int, error) {
	q := querier(ctx, r.db)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC OFFSET $1 LIMIT $2`
	rows, err := q.Query(ctx, query, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := scanUserRow(rows, &u); err != nil {
			return nil, 0, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate user rows: %w", err)
	}

	if users == nil {
		users = []domain.User{}
	}

	return users, total, nil
}

// DeleteAllNonAdmins removes every non-admin user and returns the count.
func (r *UserRepository) DeleteAllNonAdmins(ctx context.Context) (int64, error) {
	ct, err := querier(ctx, r.db).Exec(ctx, `DELETE FROM users WHERE role <> $1`, domain.RoleAdmin)
	if err != nil {
		return 0, fmt.Errorf("delete non-admin users: %w", err)
	}
	return ct.RowsAffected(), nil
}

// DeleteAllExcept removes every user except keepID and returns the count.
func (r *UserRepository) DeleteAllExcept(ctx context.Context, keepID string) (int64, error) {
	ct, err := querier(ctx, r.db).Exec(ctx, `DELETE FROM users WHERE id <> $1`, keepID)
	if err != nil {
		return 0, fmt.Errorf("delete users: %w", err)
	}
	return ct.RowsAffected(), nil
}

// scanUser executes a query expected to return a single user row.
func (r *UserRepository) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var u domain.User
	err := scanUserRow(querier(ctx, r.db).QueryRow(ctx, query, args...), &u)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func scanUserRow(row pgx.Row, u *domain.User) error {
	return row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.EmailVerified,
		&u.FailedLoginAttempts,
		&u.AccountLockedUntil,
		&u.TokenVersion,
		&u.LastLoginAt,
		&u.LastLoginIP,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
}
