package postgres

import (
	"context"
	"fmt"
)

// CredentialRepository wipes refresh tokens and sessions after a password
// reset. The rows live in tables the auth service otherwise owns; the email
// service only ever deletes or deactivates here.
type CredentialRepository struct {
	db DB
}

// NewCredentialRepository creates a new PostgreSQL-backed credential repository.
func NewCredentialRepository(db DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// DeleteRefreshTokensForUser removes every refresh token of the user.
func (r *CredentialRepository) DeleteRefreshTokensForUser(ctx context.Context, userID string) (int64, error) {
	ct, err := querier(ctx, r.db).Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete refresh tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}

// DeactivateSessionsForUser marks every active session of the user inactive.
func (r *CredentialRepository) DeactivateSessionsForUser(ctx context.Context, userID string) (int64, error) {
	ct, err := querier(ctx, r.db).Exec(ctx,
		`UPDATE sessions SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE`, userID)
	if err != nil {
		return 0, fmt.Errorf("deactivate sessions: %w", err)
	}
	return ct.RowsAffected(), nil
}
