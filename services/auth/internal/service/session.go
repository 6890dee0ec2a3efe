package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mileusna/useragent"

	"github.com/karaca/identity/pkg/clock"
	apperrors "github.com/karaca/identity/pkg/errors"
	"github.com/karaca/identity/services/auth/internal/domain"
	"github.com/karaca/identity/services/auth/internal/repository"
)

// SessionRegistry tracks active login sessions and supports selective and
// bulk revocation.
type SessionRegistry struct {
	sessions      repository.SessionRepository
	refreshTokens repository.RefreshTokenRepository
	audit         *AuditRecorder
	logger        *slog.Logger
	clock         clock.Clock
}

// NewSessionRegistry creates a session registry.
func NewSessionRegistry(
	sessions repository.SessionRepository,
	refreshTokens repository.RefreshTokenRepository,
	audit *AuditRecorder,
	logger *slog.Logger,
	clk clock.Clock,
) *SessionRegistry {
	return &SessionRegistry{
		sessions:      sessions,
		refreshTokens: refreshTokens,
		audit:         audit,
		logger:        logger,
		clock:         clk,
	}
}

// BuildSession derives a session row from the request context. The user agent
// is parsed best-effort; unknown fields stay NULL.
func (s *SessionRegistry) BuildSession(userID, refreshToken string, expiresAt time.Time, rc domain.RequestContext) *domain.Session {
	now := s.clock.Now()

	session := &domain.Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		RefreshToken:   refreshToken,
		IsActive:       true,
		LastActivityAt: now,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
	}

	if rc.IPAddress != "" {
		session.IPAddress = &rc.IPAddress
	}

	if rc.UserAgent != "" {
		ua := useragent.Parse(rc.UserAgent)
		if ua.Name != "" {
			session.Browser = &ua.Name
		}
		if ua.OS != "" {
			session.OS = &ua.OS
		}
		if ua.Device != "" {
			session.DeviceName = &ua.Device
		}
		deviceType := classifyDevice(ua)
		if deviceType != "" {
			session.DeviceType = &deviceType
		}
	}

	return session
}

func classifyDevice(ua useragent.UserAgent) string {
	switch {
	case ua.Mobile:
		return "mobile"
	case ua.Tablet:
		return "tablet"
	case ua.Desktop:
		return "desktop"
	case ua.Bot:
		return "bot"
	default:
		return ""
	}
}

// ListActive returns the user's active, unexpired sessions ordered by
// recency. The session owning currentRefreshToken is flagged; raw token
// values never leave this method.
func (s *SessionRegistry) ListActive(ctx context.Context, userID, currentRefreshToken string) ([]domain.Session, error) {
	sessions, err := s.sessions.ListActive(ctx, userID, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}

	for i := range sessions {
		if currentRefreshToken != "" && sessions[i].RefreshToken == currentRefreshToken {
			sessions[i].Current = true
		}
		sessions[i].RefreshToken = ""
	}

	return sessions, nil
}

// Revoke terminates one session owned by userID. A session that does not
// exist or belongs to someone else yields the same not-found error, so the
// endpoint discloses nothing about other users' sessions.
func (s *SessionRegistry) Revoke(ctx context.Context, sessionID, userID string, rc domain.RequestContext) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFoundMsg("SESSION_NOT_FOUND", "session not found")
		}
		return fmt.Errorf("get session: %w", err)
	}

	if session.UserID != userID {
		return apperrors.NotFoundMsg("SESSION_NOT_FOUND", "session not found")
	}

	if err := s.refreshTokens.DeleteByToken(ctx, session.RefreshToken); err != nil {
		return fmt.Errorf("delete session refresh token: %w", err)
	}

	if err := s.sessions.Deactivate(ctx, session.ID); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}

	s.audit.Record(ctx, Entry{
		UserID:    userID,
		Action:    domain.AuditSessionRevoked,
		Resource:  session.ID,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
		Success:   true,
	})

	s.logger.InfoContext(ctx, "session revoked",
		slog.String("user_id", userID),
		slog.String("session_id", session.ID),
	)

	return nil
}

// RevokeAllOther terminates every session of the user except the one holding
// currentRefreshToken. Returns the number of sessions revoked.
func (s *SessionRegistry) RevokeAllOther(ctx context.Context, userID, currentRefreshToken string, rc domain.RequestContext) (int64, error) {
	if _, err := s.refreshTokens.DeleteOthers(ctx, userID, currentRefreshToken); err != nil {
		return 0, fmt.Errorf("delete other refresh tokens: %w", err)
	}

	revoked, err := s.sessions.DeactivateOthers(ctx, userID, currentRefreshToken)
	if err != nil {
		return 0, fmt.Errorf("deactivate other sessions: %w", err)
	}

	s.audit.Record(ctx, Entry{
		UserID:    userID,
		Action:    domain.AuditUserLogoutOtherDevices,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
		Metadata:  map[string]any{"revokedCount": revoked},
		Success:   true,
	})

	return revoked, nil
}

// RevokeAll terminates every session of the user. Returns the number of
// sessions revoked.
func (s *SessionRegistry) RevokeAll(ctx context.Context, userID string, rc domain.RequestContext) (int64, error) {
	if _, err := s.refreshTokens.DeleteAllForUser(ctx, userID); err != nil {
		return 0, fmt.Errorf("delete refresh tokens: %w", err)
	}

	revoked, err := s.sessions.DeactivateAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("deactivate sessions: %w", err)
	}

	s.audit.Record(ctx, Entry{
		UserID:    userID,
		Action:    domain.AuditUserLogoutAllDevices,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
		Metadata:  map[string]any{"revokedCount": revoked},
		Success:   true,
	})

	return revoked, nil
}
