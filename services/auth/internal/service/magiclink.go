package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
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

// MagicLinkMessage is the uniform response returned for every magic-link
// request, so callers cannot tell whether the address was known.
const MagicLinkMessage = "If the email address is valid, a magic link has been sent."

// MagicLinkService implements passwordless login. Requesting a link for an
// unknown address silently creates the account; redeeming a link both
// authenticates the holder and verifies the email address.
type MagicLinkService struct {
	users         repository.UserRepository
	oobTokens     repository.OutOfBandTokenRepository
	refreshTokens repository.RefreshTokenRepository
	sessions      repository.SessionRepository
	registry      *SessionRegistry
	audit         *AuditRecorder
	tx            repository.TxManager
	codec         *token.Codec
	signer        *token.OutOfBandSigner
	email         EmailDispatcher
	events        EventPublisher
	logger        *slog.Logger
	clock         clock.Clock
	clientURL     string
	linkTTL       time.Duration
}

// NewMagicLinkService creates the magic-link flow.
func NewMagicLinkService(
	users repository.UserRepository,
	oobTokens repository.OutOfBandTokenRepository,
	refreshTokens repository.RefreshTokenRepository,
	sessions repository.SessionRepository,
	registry *SessionRegistry,
	audit *AuditRecorder,
	tx repository.TxManager,
	codec *token.Codec,
	signer *token.OutOfBandSigner,
	email EmailDispatcher,
	events EventPublisher,
	logger *slog.Logger,
	clk clock.Clock,
	clientURL string,
	linkTTL time.Duration,
) *MagicLinkService {
	if linkTTL <= 0 {
		linkTTL = domain.MagicLinkTokenTTL
	}
	return &MagicLinkService{
		users:         users,
		oobTokens:     oobTokens,
		refreshTokens: refreshTokens,
		sessions:      sessions,
		registry:      registry,
		audit:         audit,
		tx:            tx,
		codec:         codec,
		signer:        signer,
		email:         email,
		events:        events,
		logger:        logger,
		clock:         clk,
		clientURL:     clientURL,
		linkTTL:       linkTTL,
	}
}

func errMagicLinkInvalid() *apperrors.AppError {
	return apperrors.UnauthorizedCode("MAGIC_LINK_INVALID", "invalid magic link")
}

func errMagicLinkExpired() *apperrors.AppError {
	return apperrors.UnauthorizedCode("MAGIC_LINK_EXPIRED", "magic link expired")
}

func errMagicLinkUsed() *apperrors.AppError {
	return apperrors.UnauthorizedCode("MAGIC_LINK_USED", "magic link already used")
}

// Request mints a magic-link token for the address and dispatches it. An
// unknown address silently becomes a new unverified account; the response is
// identical either way.
func (s *MagicLinkService) Request(ctx context.Context, email string, rc domain.RequestContext) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	isNewUser := false

	switch {
	case err == nil:
		if user.IsLocked(s.clock.Now()) {
			s.audit.Record(ctx, Entry{
				UserID:       user.ID,
				Action:       domain.AuditMagicLinkFailed,
				IPAddress:    rc.IPAddress,
				UserAgent:    rc.UserAgent,
				Success:      false,
				ErrorMessage: "account locked",
			})
			return "", errAccountLocked(*user.AccountLockedUntil)
		}

	case errors.Is(err, apperrors.ErrNotFound):
		user, err = s.createPasswordlessUser(ctx, email, rc)
		if err != nil {
			return "", err
		}
		isNewUser = true

	default:
		return "", fmt.Errorf("get user by email: %w", err)
	}

	if err := s.oobTokens.DeleteUnused(ctx, user.ID, domain.TokenKindMagicLink); err != nil {
		return "", fmt.Errorf("delete prior magic links: %w", err)
	}

	signed, expiresAt, err := s.signer.Sign(user.ID, domain.TokenKindMagicLink, s.linkTTL)
	if err != nil {
		return "", fmt.Errorf("sign magic link: %w", err)
	}

	if err := s.oobTokens.Create(ctx, &domain.OutOfBandToken{
		ID:        uuid.New().String(),
		Kind:      domain.TokenKindMagicLink,
		Token:     signed,
		UserID:    user.ID,
		ExpiresAt: expiresAt,
		CreatedAt: s.clock.Now(),
	}); err != nil {
		return "", fmt.Errorf("store magic link: %w", err)
	}

	s.audit.Record(ctx, Entry{
		UserID:    user.ID,
		Action:    domain.AuditMagicLinkRequested,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
		Metadata:  map[string]any{"isNewUser": isNewUser},
		Success:   true,
	})

	link := s.clientURL + "/magic-link?token=" + url.QueryEscape(signed)
	if err := s.email.SendMagicLink(ctx, user.ID, user.Email, link, isNewUser); err != nil {
		s.logger.ErrorContext(ctx, "failed to dispatch magic link email",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return "", apperrors.Dependency("failed to send magic link email", err)
	}

	s.audit.Record(ctx, Entry{
		UserID:    user.ID,
		Action:    domain.AuditMagicLinkSent,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
		Success:   true,
	})

	return MagicLinkMessage, nil
}

// createPasswordlessUser registers an account the holder can only enter via
// magic link: the password hash is derived from random bytes nobody ever sees.
func (s *MagicLinkService) createPasswordlessUser(ctx context.Context, email string, rc domain.RequestContext) (*domain.User, error) {
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("generate random password: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(random)), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash random password: %w", err)
	}

	now := s.clock.Now()
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hashed),
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create passwordless user: %w", err)
	}

	s.audit.Record(ctx, Entry{
		UserID:    user.ID,
		Action:    domain.AuditUserRegister,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
		Metadata:  map[string]any{"email": user.Email, "passwordless": true},
		Success:   true,
	})

	if err := s.events.PublishUserRegistered(ctx, user, true); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "passwordless account created",
		slog.String("user_id", user.ID),
	)

	return user, nil
}

// Redeem consumes a magic-link token: it authenticates the holder, verifies
// the email address as a side effect, and issues a session. One-shot: a
// second redemption of the same token fails uniformly.
func (s *MagicLinkService) Redeem(ctx context.Context, tokenString string, rc domain.RequestContext) (*LoginResult, error) {
	var result *LoginResult
	var user *domain.User

	// Rejections are captured, not returned: the expired-row cleanup and the
	// failure audit row must commit even though redemption is refused.
	var rejection *apperrors.AppError

	err := s.tx.WithSerializable(ctx, func(ctx context.Context) error {
		claims, err := s.signer.Verify(tokenString, domain.TokenKindMagicLink)
		if err != nil {
			if errors.Is(err, token.ErrExpired) {
				rejection = errMagicLinkExpired()
			} else {
				rejection = errMagicLinkInvalid()
			}
			return nil
		}

		row, err := s.oobTokens.GetByToken(ctx, tokenString)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				rejection = errMagicLinkInvalid()
				return nil
			}
			return fmt.Errorf("get magic link: %w", err)
		}

		if row.Kind != domain.TokenKindMagicLink || row.UserID != claims.UserID {
			rejection = errMagicLinkInvalid()
			return nil
		}

		if row.Used {
			rejection = errMagicLinkUsed()
			return nil
		}

		now := s.clock.Now()
		if row.ExpiresAt.Before(now) {
			_ = s.oobTokens.DeleteByID(ctx, row.ID)
			rejection = errMagicLinkExpired()
			return nil
		}

		user, err = s.users.GetByID(ctx, row.UserID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				rejection = errMagicLinkInvalid()
				return nil
			}
			return fmt.Errorf("get user: %w", err)
		}

		if user.IsLocked(now) {
			s.audit.Record(ctx, Entry{
				UserID:       user.ID,
				Action:       domain.AuditMagicLinkFailed,
				IPAddress:    rc.IPAddress,
				UserAgent:    rc.UserAgent,
				Success:      false,
				ErrorMessage: "account locked",
			})
			rejection = errAccountLocked(*user.AccountLockedUntil)
			return nil
		}

		if err := s.oobTokens.MarkUsed(ctx, row.ID, now, rc.IPAddress, rc.UserAgent); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				rejection = errMagicLinkUsed()
				return nil
			}
			return fmt.Errorf("consume magic link: %w", err)
		}

		// Possession of the link proves ownership of the mailbox.
		user.EmailVerified = true
		user.LastLoginAt = &now
		if rc.IPAddress != "" {
			user.LastLoginIP = &rc.IPAddress
		}
		domain.ClearLockout(user)
		if err := s.users.Update(ctx, user); err != nil {
			return fmt.Errorf("update user after redemption: %w", err)
		}

		pair, err := s.issueSessionFor(ctx, user, rc)
		if err != nil {
			return err
		}

		s.audit.Record(ctx, Entry{
			UserID:    user.ID,
			Action:    domain.AuditMagicLinkLogin,
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

	if err := s.events.PublishUserLogin(ctx, user, rc.IPAddress, true); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.login event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "magic link redeemed",
		slog.String("user_id", user.ID),
	)

	return result, nil
}

// issueSessionFor mirrors AuthService.issueSession for the magic-link flow.
func (s *MagicLinkService) issueSessionFor(ctx context.Context, user *domain.User, rc domain.RequestContext) (*domain.TokenPair, error) {
	access, accessExpiry, err := s.codec.SignAccess(user.ID, user.Role, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, refreshExpiry, err := s.codec.SignRefresh(user.ID, user.Role, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	if err := s.refreshTokens.Create(ctx, &domain.RefreshToken{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Token:     refresh,
		ExpiresAt: refreshExpiry,
		CreatedAt: s.clock.Now(),
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
