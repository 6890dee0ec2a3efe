package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/karaca/identity/pkg/clock"
	apperrors "github.com/karaca/identity/pkg/errors"
	"github.com/karaca/identity/services/email/internal/client"
	"github.com/karaca/identity/services/email/internal/domain"
	"github.com/karaca/identity/services/email/internal/repository"
	"github.com/karaca/identity/services/email/internal/sender"
	"github.com/karaca/identity/services/email/internal/template"
	"github.com/karaca/identity/services/email/internal/token"
)

// bcryptCost matches the auth service's hashing cost.
const bcryptCost = 12

// ResetRequestMessage is returned for every password-reset request whether or
// not the address exists, preventing account enumeration.
const ResetRequestMessage = "If the email exists, a reset link has been sent."

// ResetCompletedMessage tells the user every session was terminated.
const ResetCompletedMessage = "Password reset. All existing sessions have been terminated; please log in again."

// AuditReporter appends audit rows on the auth service. client.AuditClient
// satisfies it.
type AuditReporter interface {
	Record(ctx context.Context, entry client.AuditEntry)
}

// TTLConfig holds the configured out-of-band token lifetimes. Zero values
// fall back to the defaults in the domain package.
type TTLConfig struct {
	Verification time.Duration
	Reset        time.Duration
}

func (c TTLConfig) withDefaults() TTLConfig {
	if c.Verification <= 0 {
		c.Verification = domain.VerificationTokenTTL
	}
	if c.Reset <= 0 {
		c.Reset = domain.ResetTokenTTL
	}
	return c
}

// EmailService owns the verification and password-reset flows plus outbound
// dispatch for the magic-link flow.
type EmailService struct {
	users       repository.UserRepository
	tokens      repository.TokenRepository
	credentials repository.CredentialRepository
	tx          repository.TxManager
	signer      *token.Signer
	sender      sender.Sender
	renderer    *template.Renderer
	audit       AuditReporter
	logger      *slog.Logger
	clock       clock.Clock
	clientURL   string
	ttl         TTLConfig
}

// NewEmailService creates the email flow coordinator.
func NewEmailService(
	users repository.UserRepository,
	tokens repository.TokenRepository,
	credentials repository.CredentialRepository,
	tx repository.TxManager,
	signer *token.Signer,
	snd sender.Sender,
	renderer *template.Renderer,
	audit AuditReporter,
	logger *slog.Logger,
	clk clock.Clock,
	clientURL string,
	ttl TTLConfig,
) *EmailService {
	return &EmailService{
		users:       users,
		tokens:      tokens,
		credentials: credentials,
		tx:          tx,
		signer:      signer,
		sender:      snd,
		renderer:    renderer,
		audit:       audit,
		logger:      logger,
		clock:       clk,
		clientURL:   clientURL,
		ttl:         ttl.withDefaults(),
	}
}

func errDispatchFailed(err error) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "MAIL_DISPATCH_FAILED",
		Message: "failed to send email",
		Status:  http.StatusBadGateway,
		Err:     errors.Join(apperrors.ErrDependency, err),
	}
}

// --- Verification ---

// SendVerification mints a verification token for the user and dispatches
// the verification mail. Prior unused tokens are replaced.
func (s *EmailService) SendVerification(ctx context.Context, userID, email string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("user", userID)
		}
		return fmt.Errorf("get user: %w", err)
	}

	if email == "" {
		email = user.Email
	}

	if err := s.tokens.DeleteUnused(ctx, user.ID, domain.TokenKindVerification); err != nil {
		return fmt.Errorf("delete prior verification tokens: %w", err)
	}

	signed, expiresAt, err := s.signer.Sign(user.ID, domain.TokenKindVerification, s.ttl.Verification)
	if err != nil {
		return fmt.Errorf("sign verification token: %w", err)
	}

	if err := s.tokens.Create(ctx, &domain.OutOfBandToken{
		ID:        uuid.New().String(),
		Kind:      domain.TokenKindVerification,
		Token:     signed,
		UserID:    user.ID,
		ExpiresAt: expiresAt,
		CreatedAt: s.clock.Now(),
	}); err != nil {
		return fmt.Errorf("store verification token: %w", err)
	}

	link := s.clientURL + "/verify-email?token=" + url.QueryEscape(signed)
	html, err := s.renderer.Verification(template.LinkData{
		Link:        link,
		DisplayName: template.DisplayNameFromEmail(email),
	})
	if err != nil {
		return err
	}

	if err := s.sender.Send(ctx, &sender.Message{
		To:      email,
		Subject: "Verify your email address",
		HTML:    html,
	}); err != nil {
		s.logger.ErrorContext(ctx, "verification mail dispatch failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return errDispatchFailed(err)
	}

	s.audit.Record(ctx, client.AuditEntry{
		UserID: user.ID,
		Action: domain.AuditVerificationEmailSent,
	})

	s.logger.InfoContext(ctx, "verification mail sent",
		slog.String("user_id", user.ID),
	)

	return nil
}

// VerifyEmail consumes a verification token and flips email_verified. The
// token is consumed by deletion.
func (s *EmailService) VerifyEmail(ctx context.Context, tokenString string, rc domain.RequestContext) error {
	claims, err := s.signer.Verify(tokenString, domain.TokenKindVerification)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return apperrors.InvalidInputCode("VERIFICATION_EXPIRED", "verification token expired")
		}
		return apperrors.InvalidInputCode("VERIFICATION_INVALID", "invalid verification token")
	}

	// Rejections are captured, not returned: the expired-row and
	// already-verified cleanups must commit even though the call fails.
	var rejection *apperrors.AppError

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		row, err := s.tokens.GetByToken(ctx, tokenString)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				rejection = apperrors.InvalidInputCode("VERIFICATION_INVALID", "invalid verification token")
				return nil
			}
			return fmt.Errorf("get verification token: %w", err)
		}

		if row.Kind != domain.TokenKindVerification || row.UserID != claims.UserID {
			rejection = apperrors.InvalidInputCode("VERIFICATION_INVALID", "invalid verification token")
			return nil
		}

		if row.ExpiresAt.Before(s.clock.Now()) {
			_ = s.tokens.DeleteByID(ctx, row.ID)
			rejection = apperrors.InvalidInputCode("VERIFICATION_EXPIRED", "verification token expired")
			return nil
		}

		user, err := s.users.GetByID(ctx, row.UserID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}

		if user.EmailVerified {
			_ = s.tokens.DeleteByID(ctx, row.ID)
			rejection = apperrors.Conflict("email already verified")
			return nil
		}

		if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
			return err
		}

		if err := s.tokens.DeleteByID(ctx, row.ID); err != nil {
			return err
		}

		s.audit.Record(ctx, client.AuditEntry{
			UserID:    user.ID,
			Action:    domain.AuditEmailVerified,
			IPAddress: rc.IPAddress,
			UserAgent: rc.UserAgent,
		})

		s.logger.InfoContext(ctx, "email verified",
			slog.String("user_id", user.ID),
		)

		return nil
	})
	if err != nil {
		return err
	}
	if rejection != nil {
		return rejection
	}
	return nil
}

// ResendVerification re-sends the verification mail for an existing,
// unverified address.
func (s *EmailService) ResendVerification(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFoundMsg("USER_NOT_FOUND", "user not found")
		}
		return fmt.Errorf("get user by email: %w", err)
	}

	if user.EmailVerified {
		return apperrors.Conflict("email already verified")
	}

	return s.SendVerification(ctx, user.ID, user.Email)
}

// --- Password reset ---

// SendPasswordReset mints a reset token and dispatches the reset mail. The
// response is identical whether or not the address exists.
func (s *EmailService) SendPasswordReset(ctx context.Context, email string, rc domain.RequestContext) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Same response as the success path; never reveal existence.
			s.logger.InfoContext(ctx, "password reset requested for unknown email")
			return ResetRequestMessage, nil
		}
		return "", fmt.Errorf("get user by email: %w", err)
	}

	if err := s.tokens.DeleteUnused(ctx, user.ID, domain.TokenKindPasswordReset); err != nil {
		return "", fmt.Errorf("delete prior reset tokens: %w", err)
	}

	signed, expiresAt, err := s.signer.Sign(user.ID, domain.TokenKindPasswordReset, s.ttl.Reset)
	if err != nil {
		return "", fmt.Errorf("sign reset token: %w", err)
	}

	if err := s.tokens.Create(ctx, &domain.OutOfBandToken{
		ID:        uuid.New().String(),
		Kind:      domain.TokenKindPasswordReset,
		Token:     signed,
		UserID:    user.ID,
		ExpiresAt: expiresAt,
		CreatedAt: s.clock.Now(),
	}); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}

	s.audit.Record(ctx, client.AuditEntry{
		UserID:    user.ID,
		Action:    domain.AuditPasswordResetRequested,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
	})

	link := s.clientURL + "/reset-password?token=" + url.QueryEscape(signed)
	html, err := s.renderer.Reset(template.LinkData{
		Link:        link,
		DisplayName: template.DisplayNameFromEmail(user.Email),
	})
	if err != nil {
		return "", err
	}

	if err := s.sender.Send(ctx, &sender.Message{
		To:      user.Email,
		Subject: "Reset your password",
		HTML:    html,
	}); err != nil {
		s.logger.ErrorContext(ctx, "reset mail dispatch failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return "", errDispatchFailed(err)
	}

	s.audit.Record(ctx, client.AuditEntry{
		UserID: user.ID,
		Action: domain.AuditResetEmailSent,
	})

	s.logger.InfoContext(ctx, "reset mail sent",
		slog.String("user_id", user.ID),
	)

	return ResetRequestMessage, nil
}

// ResetPassword consumes a reset token and installs the new password. In the
// same serializable transaction the lockout state clears, the token version
// bumps (invalidating every issued token), and every refresh token and
// session is wiped.
func (s *EmailService) ResetPassword(ctx context.Context, tokenString, newPassword string, rc domain.RequestContext) (string, error) {
	claims, err := s.signer.Verify(tokenString, domain.TokenKindPasswordReset)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return "", apperrors.InvalidInputCode("RESET_EXPIRED", "reset token expired")
		}
		return "", apperrors.InvalidInputCode("RESET_INVALID", "invalid reset token")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash new password: %w", err)
	}

	var userID string

	// Rejections are captured, not returned: the expired-row cleanup must
	// commit even though the reset is refused.
	var rejection *apperrors.AppError

	err = s.tx.WithSerializable(ctx, func(ctx context.Context) error {
		row, err := s.tokens.GetByToken(ctx, tokenString)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				rejection = apperrors.InvalidInputCode("RESET_INVALID", "invalid reset token")
				return nil
			}
			return fmt.Errorf("get reset token: %w", err)
		}

		if row.Kind != domain.TokenKindPasswordReset || row.UserID != claims.UserID {
			rejection = apperrors.InvalidInputCode("RESET_INVALID", "invalid reset token")
			return nil
		}

		if row.Used {
			rejection = apperrors.InvalidInputCode("RESET_USED", "reset token already used")
			return nil
		}

		now := s.clock.Now()
		if row.ExpiresAt.Before(now) {
			_ = s.tokens.DeleteByID(ctx, row.ID)
			rejection = apperrors.InvalidInputCode("RESET_EXPIRED", "reset token expired")
			return nil
		}

		if err := s.tokens.MarkUsed(ctx, row.ID, now, rc.IPAddress, rc.UserAgent); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				rejection = apperrors.InvalidInputCode("RESET_USED", "reset token already used")
				return nil
			}
			return fmt.Errorf("consume reset token: %w", err)
		}

		if err := s.users.ApplyPasswordReset(ctx, row.UserID, string(hashed)); err != nil {
			return err
		}

		if _, err := s.credentials.DeleteRefreshTokensForUser(ctx, row.UserID); err != nil {
			return err
		}
		if _, err := s.credentials.DeactivateSessionsForUser(ctx, row.UserID); err != nil {
			return err
		}

		userID = row.UserID
		return nil
	})
	if err != nil {
		return "", err
	}
	if rejection != nil {
		return "", rejection
	}

	s.audit.Record(ctx, client.AuditEntry{
		UserID:    userID,
		Action:    domain.AuditPasswordResetCompleted,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
	})

	s.logger.InfoContext(ctx, "password reset completed",
		slog.String("user_id", userID),
	)

	return ResetCompletedMessage, nil
}

// --- Magic link dispatch ---

// SendMagicLink renders and dispatches a magic-link mail. The auth service
// mints the token and passes the finished redemption link.
func (s *EmailService) SendMagicLink(ctx context.Context, userID, email, link string, isNewUser bool) error {
	html, err := s.renderer.MagicLink(template.MagicLinkData{
		Link:        link,
		DisplayName: template.DisplayNameFromEmail(email),
		IsNewUser:   isNewUser,
	})
	if err != nil {
		return err
	}

	subject := "Your sign-in link"
	if isNewUser {
		subject = "Welcome! Your sign-in link"
	}

	if err := s.sender.Send(ctx, &sender.Message{
		To:      email,
		Subject: subject,
		HTML:    html,
	}); err != nil {
		s.logger.ErrorContext(ctx, "magic link mail dispatch failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return errDispatchFailed(err)
	}

	s.logger.InfoContext(ctx, "magic link mail sent",
		slog.String("user_id", userID),
	)

	return nil
}
