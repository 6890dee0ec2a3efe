package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/karaca/identity/pkg/clock"
	apperrors "github.com/karaca/identity/pkg/errors"
	"github.com/karaca/identity/services/auth/internal/domain"
	"github.com/karaca/identity/services/auth/internal/repository"
	"github.com/karaca/identity/services/auth/internal/token"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// emailDispatchTimeout bounds the asynchronous verification mail dispatch
// that follows registration.
const emailDispatchTimeout = 5 * time.Second

// EmailDispatcher is the auth service's view of the email service.
// client.EmailClient satisfies it.
type EmailDispatcher interface {
	SendVerification(ctx context.Context, userID, email string) error
	SendMagicLink(ctx context.Context, userID, email, link string, isNewUser bool) error
}

// EventPublisher publishes best-effort identity domain events.
// event.Producer satisfies it.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, user *domain.User, passwordless bool) error
	PublishUserLogin(ctx context.Context, user *domain.User, ip string, magicLink bool) error
	PublishUserPasswordReset(ctx context.Context, userID, email string) error
	PublishUserDeleted(ctx context.Context, userID string, permanent bool) error
}

// AuthService orchestrates the credential state machine: registration, login
// with lockout, refresh rotation, logout, and bearer verification.
type AuthService struct {
	users         repository.UserRepository
	refreshTokens repository.RefreshTokenRepository
	sessions      repository.SessionRepository
	registry      *SessionRegistry
	audit         *AuditRecorder
	tx            repository.TxManager
	codec         *token.Codec
	email         EmailDispatcher
	events        EventPublisher
	logger        *slog.Logger
	clock         clock.Clock
}

// NewAuthService creates the auth core.
func NewAuthService(
	users repository.UserRepository,
	refreshTokens repository.RefreshTokenRepository,
	sessions repository.SessionRepository,
	registry *SessionRegistry,
	audit *AuditRecorder,
	tx repository.TxManager,
	codec *token.Codec,
	email EmailDispatcher,
	events EventPublisher,
	logger *slog.Logger,
	clk clock.Clock,
) *AuthService {
	return &AuthService{
		users:         users,
		refreshTokens: refreshTokens,
		sessions:      sessions,
		registry:      registry,
		audit:         audit,
		tx:            tx,
		codec:         codec,
		email:         email,
		events:        events,
		logger:        logger,
		clock:         clk,
	}
}

// --- Errors surfaced by the state machine ---

func errUserNotFound() *apperrors.AppError {
	return apperrors.UnauthorizedCode("USER_NOT_FOUND", "user not found")
}

func errInvalidPassword() *apperrors.AppError {
	return apperrors.UnauthorizedCode("INVALID_CREDENTIALS", "invalid credentials")
}

func errEmailNotVerified() *apperrors.AppError {
	return apperrors.ForbiddenCode("EMAIL_NOT_VERIFIED", "email not verified")
}

func errAccountLocked(until time.Time) *apperrors.AppError {
	return apperrors.Locked("account locked", until)
}

func errTokenInvalidated() *apperrors.AppError {
	return apperrors.UnauthorizedCode("TOKEN_INVALIDATED", "token invalidated, please log in again")
}

// --- Register ---

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Email    string
	Password string
	Role     string
}

// Register creates a new user account. The verification mail is dispatched
// asynchronously; a send failure is logged but never rolls back registration.
func (s *AuthService) Register(ctx context.Context, input RegisterInput, rc domain.RequestContext) (*domain.Summary, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	role := input.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !domain.IsValidRole(role) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid role %q", role))
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.clock.Now()
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hashed),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.audit.Record(ctx, Entry{
		UserID:    user.ID,
		Action:    domain.AuditUserRegister,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
		Metadata:  map[string]any{"email": user.Email, "role": user.Role},
		Success:   true,
	})

	if err := s.events.PublishUserRegistered(ctx, user, false); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	// Dispatch the verification mail off the request path.
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emailDispatchTimeout)
		defer cancel()
		if err := s.email.SendVerification(sendCtx, user.ID, user.Email); err != nil {
			s.logger.ErrorContext(sendCtx, "failed to dispatch verification email",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	summary := user.Summary()
	return &summary, nil
}

// --- Login ---

// LoginResult bundles the outcome of a successful login.
type LoginResult struct {
	Tokens domain.TokenPair
	User   domain.Summary
}

// Login runs the credential state machine. The password check, attempt
// counter, and lockout transition happen inside one serializable transaction
// so concurrent failures cannot race past the threshold.
func (s *AuthService) Login(ctx context.Context, email, password string, rc domain.RequestContext) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var result *LoginResult
	var loggedInUser *domain.User

	// Rejections are captured instead of returned from the closure: the
	// attempt counter, lockout transition, and failure audit rows must COMMIT
	// even when the login itself is refused.
	var rejection *apperrors.AppError

	err := s.tx.WithSerializable(ctx, func(ctx context.Context) error {
		user, err := s.users.GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				s.recordLoginFailed(ctx, "", email, rc, "user not found")
				rejection = errUserNotFound()
				return nil
			}
			return fmt.Errorf("get user by email: %w", err)
		}

		if !user.EmailVerified {
			s.recordLoginFailed(ctx, user.ID, email, rc, "email not verified")
			rejection = errEmailNotVerified()
			return nil
		}

		now := s.clock.Now()

		if user.AccountLockedUntil != nil {
			if user.IsLocked(now) {
				s.recordLoginFailed(ctx, user.ID, email, rc, "account locked")
				rejection = errAccountLocked(*user.AccountLockedUntil)
				return nil
			}

			// Lock has expired; release it before checking the password.
			domain.ClearLockout(user)
			if err := s.users.Update(ctx, user); err != nil {
				return fmt.Errorf("clear expired lock: %w", err)
			}
			s.audit.Record(ctx, Entry{
				UserID:    user.ID,
				Action:    domain.AuditAccountUnlocked,
				IPAddress: rc.IPAddress,
				UserAgent: rc.UserAgent,
				Metadata:  map[string]any{"reason": "lock expired"},
				Success:   true,
			})
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
			locked := domain.RecordFailedAttempt(user, now)
			if updateErr := s.users.Update(ctx, user); updateErr != nil {
				return fmt.Errorf("record failed attempt: %w", updateErr)
			}

			if locked {
				s.audit.Record(ctx, Entry{
					UserID:    user.ID,
					Action:    domain.AuditAccountLocked,
					IPAddress: rc.IPAddress,
					UserAgent: rc.UserAgent,
					Metadata:  map[string]any{"failedAttempts": user.FailedLoginAttempts},
					Success:   true,
				})
				rejection = errAccountLocked(*user.AccountLockedUntil)
				return nil
			}

			s.recordLoginFailed(ctx, user.ID, email, rc, "invalid password")
			rejection = errInvalidPassword()
			return nil
		}

		domain.ClearLockout(user)
		user.LastLoginAt = &now
		if rc.IPAddress != "" {
			user.LastLoginIP = &rc.IPAddress
		}
		if err := s.users.Update(ctx, user); err != nil {
			return fmt.Errorf("update user after login: %w", err)
		}

		pair, err := s.issueSession(ctx, user, rc)
		if err != nil {
			return err
		}

		s.audit.Record(ctx, Entry{
			UserID:    user.ID,
			Action:    domain.AuditUserLogin,
			IPAddress: rc.IPAddress,
			UserAgent: rc.UserAgent,
			Success:   true,
		})

		loggedInUser = user
		result = &LoginResult{Tokens: *pair, User: user.Summary()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		return nil, rejection
	}

	if err := s.events.PublishUserLogin(ctx, loggedInUser, rc.IPAddress, false); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.login event",
			slog.String("user_id", loggedInUser.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", loggedInUser.ID),
	)

	return result, nil
}

func (s *AuthService) recordLoginFailed(ctx context.Context, userID, email string, rc domain.RequestContext, reason string) {
	s.audit.Record(ctx, Entry{
		UserID:       userID,
		Action:       domain.AuditLoginFailed,
		IPAddress:    rc.IPAddress,
		UserAgent:    rc.UserAgent,
		Metadata:     map[string]any{"email": email},
		Success:      false,
		ErrorMessage: reason,
	})
}

// issueSession mints an access/refresh pair and persists the refresh token
// row plus a session row derived from the request context.
func (s *AuthService) issueSession(ctx context.Context, user *domain.User, rc domain.RequestContext) (*domain.TokenPair, error) {
	access, accessExpiry, err := s.codec.SignAccess(user.ID, user.Role, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, refreshExpiry, err := s.codec.SignRefresh(user.ID, user.Role, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	now := s.clock.Now()
	if err := s.refreshTokens.Create(ctx, &domain.RefreshToken{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Token:     refresh,
		ExpiresAt: refreshExpiry,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	session := s.registry.BuildSession(user.ID, refresh, refreshExpiry, rc)
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        accessExpiry,
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

// --- Refresh ---

// Refresh rotates a refresh token: the old token row and session are retired
// and a new pair is issued atomically, so exactly one active session remains
// and its refresh token is the newly issued one.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, rc domain.RequestContext) (*LoginResult, error) {
	var result *LoginResult

	// As in Login, rejections commit: the expired or invalidated credential
	// is retired inside the transaction even though the call fails.
	var rejection *apperrors.AppError

	err := s.tx.WithSerializable(ctx, func(ctx context.Context) error {
		stored, err := s.refreshTokens.GetByToken(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				rejection = apperrors.UnauthorizedCode("REFRESH_NOT_FOUND", "refresh token not found")
				return nil
			}
			return fmt.Errorf("get refresh token: %w", err)
		}

		now := s.clock.Now()
		if stored.ExpiresAt.Before(now) {
			_ = s.refreshTokens.DeleteByToken(ctx, refreshToken)
			_ = s.sessions.DeactivateByRefreshToken(ctx, refreshToken)
			rejection = apperrors.UnauthorizedCode("REFRESH_EXPIRED", "refresh token expired")
			return nil
		}

		user, err := s.users.GetByID(ctx, stored.UserID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				rejection = errUserNotFound()
				return nil
			}
			return fmt.Errorf("get user: %w", err)
		}

		claims, err := s.codec.VerifyRefresh(refreshToken)
		if err != nil || claims.TokenVersion != user.TokenVersion {
			// Hard invalidation: retire the credential entirely.
			_ = s.refreshTokens.DeleteByToken(ctx, refreshToken)
			_ = s.sessions.DeactivateByRefreshToken(ctx, refreshToken)
			rejection = errTokenInvalidated()
			return nil
		}

		if err := s.refreshTokens.DeleteByToken(ctx, refreshToken); err != nil {
			return fmt.Errorf("delete rotated refresh token: %w", err)
		}
		if err := s.sessions.DeactivateByRefreshToken(ctx, refreshToken); err != nil {
			return fmt.Errorf("deactivate rotated session: %w", err)
		}

		pair, err := s.issueSession(ctx, user, rc)
		if err != nil {
			return err
		}

		s.audit.Record(ctx, Entry{
			UserID:    user.ID,
			Action:    domain.AuditTokenRefreshed,
			IPAddress: rc.IPAddress,
			UserAgent: rc.UserAgent,
			Success:   true,
		})

		result = &LoginResult{Tokens: *pair, User: user.Summary()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		return nil, rejection
	}

	return result, nil
}

// --- Logout ---

// Logout retires the given refresh token and its session. It is idempotent:
// a missing or unknown token still succeeds.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, rc domain.RequestContext) error {
	var userID string

	if refreshToken != "" {
		if stored, err := s.refreshTokens.GetByToken(ctx, refreshToken); err == nil {
			userID = stored.UserID
		}

		if err := s.refreshTokens.DeleteByToken(ctx, refreshToken); err != nil {
			return fmt.Errorf("delete refresh token: %w", err)
		}
		if err := s.sessions.DeactivateByRefreshToken(ctx, refreshToken); err != nil {
			return fmt.Errorf("deactivate session: %w", err)
		}
	}

	s.audit.Record(ctx, Entry{
		UserID:    userID,
		Action:    domain.AuditUserLogout,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
		Success:   true,
	})

	return nil
}

// --- Bearer verification (middleware contract) ---

// VerifiedClaims is what the middleware exposes to downstream handlers.
type VerifiedClaims struct {
	UserID string
	Role   string
}

// VerifyAccess checks an access token's signature, then loads the user and
// asserts the embedded token version matches the current one. A mismatch is a
// hard invalidation regardless of the token's own expiry.
func (s *AuthService) VerifyAccess(ctx context.Context, bearer string) (*VerifiedClaims, error) {
	claims, err := s.codec.VerifyAccess(bearer)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return nil, apperrors.UnauthorizedCode("TOKEN_EXPIRED", "token expired")
		default:
			return nil, apperrors.Unauthorized("invalid or expired token")
		}
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, errUserNotFound()
		}
		return nil, fmt.Errorf("get user for token verification: %w", err)
	}

	if claims.TokenVersion != user.TokenVersion {
		return nil, errTokenInvalidated()
	}

	return &VerifiedClaims{UserID: user.ID, Role: user.Role}, nil
}

// GetProfile returns the user's public profile.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return user, nil
}
