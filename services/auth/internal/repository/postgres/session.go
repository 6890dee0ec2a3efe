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

// SessionRepository implements repository.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new PostgreSQL-backed session repository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, refresh_token, device_name, device_type, browser, os,
		ip_address, country, city, is_active, last_activity_at, created_at, expires_at`

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, refresh_token, device_name, device_type, browser, os,
			ip_address, country, city, is_active, last_activity_at, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := querier(ctx, r.db).Exec(ctx, query,
		s.ID,
		s.UserID,
		s.RefreshToken,
		s.DeviceName,
		s.DeviceType,
		s.Browser,
		s.OS,
		s.IPAddress,
		s.Country,
		s.City,
		s.IsActive,
		s.LastActivityAt,
		s.CreatedAt,
		s.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("session refresh token already exists")
		}
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return r.scanSession(ctx, query, id)
}

// GetByRefreshToken retrieves a session by its exact refresh token value.
func (r *SessionRepository) GetByRefreshToken(ctx context.Context, token string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token = $1`
	return r.scanSession(ctx, query, token)
}

// ListActive returns active, unexpired sessions ordered by recency.
func (r *SessionRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND is_active = TRUE AND expires_at >= $2
		ORDER BY last_activity_at DESC`

	return r.listSessions(ctx, query, userID, now)
}

// ListByUserID returns every session for the user, newest first.
func (r *SessionRepository) ListByUserID(ctx context.Context, userID string) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC`

	return r.listSessions(ctx, query, userID)
}

// Deactivate marks a session inactive.
func (r *SessionRepository) Deactivate(ctx context.Context, id string) error {
	ct, err := querier(ctx, r.db).Exec(ctx,
		`UPDATE sessions SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("session", id)
	}
	return nil
}

// DeactivateByRefreshToken marks the session holding the token inactive.
// Missing rows are not an error; logout is idempotent.
func (r *SessionRepository) DeactivateByRefreshToken(ctx context.Context, token string) error {
	_, err := querier(ctx, r.db).Exec(ctx,
		`UPDATE sessions SET is_active = FALSE WHERE refresh_token = $1`, token)
	if err != nil {
		return fmt.Errorf("deactivate session by token: %w", err)
	}
	return nil
}

// DeactivateAllForUser marks every active session of the user inactive.
func (r *SessionRepository) DeactivateAllForUser(ctx context.Context, userID string) (int64, error) {
	ct, err := querier(ctx, r.db).Exec(ctx,
		`UPDATE sessions SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE`, userID)
	if err != nil {
		return 0, fmt.Errorf("deactivate sessions: %w", err)
	}
	return ct.RowsAffected(), nil
}

// DeactivateOthers marks every active session of the user inactive except the
// one holding keepRefreshToken.
func (r *SessionRepository) DeactivateOthers(ctx context.Context, userID, keepRefreshToken string) (int64, error) {
	ct, err := querier(ctx, r.db).Exec(ctx,
		`UPDATE sessions SET is_active = FALSE
		 WHERE user_id = $1 AND is_active = TRUE AND refresh_token <> $2`,
		userID, keepRefreshToken)
	if err != nil {
		return 0, fmt.Errorf("deactivate other sessions: %w", err)
	}
	return ct.RowsAffected(), nil
}

// DeleteForUser removes every session row of the user.
func (r *SessionRepository) DeleteForUser(ctx context.Context, userID string) error {
	_, err := querier(ctx, r.db).Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := querier(ctx, r.db).Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (r *SessionRepository) scanSession(ctx context.Context, query string, args ...any) (*domain.Session, error) {
	var s domain.Session
	err := scanSessionRow(querier(ctx, r.db).QueryRow(ctx, query, args...), &s)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepository) listSessions(ctx context.Context, query string, args ...any) ([]domain.Session, error) {
	rows, err := querier(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := scanSessionRow(rows, &s); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	if sessions == nil {
		sessions = []domain.Session{}
	}

	return sessions, nil
}

func scanSessionRow(row pgx.Row, s *domain.Session) error {
	return row.Scan(
		&s.ID,
		&s.UserID,
		&s.RefreshToken,
		&s.DeviceName,
		&s.DeviceType,
		&s.Browser,
		&s.OS,
		&s.IPAddress,
		&s.Country,
		&s.City,
		&s.IsActive,
		&s.LastActivityAt,
		&s.CreatedAt,
		&s.ExpiresAt,
	)
}
