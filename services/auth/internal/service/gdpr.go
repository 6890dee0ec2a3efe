package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/karaca/identity/pkg/clock"
	apperrors "github.com/karaca/identity/pkg/errors"
	"github.com/karaca/identity/services/auth/internal/domain"
	"github.com/karaca/identity/services/auth/internal/repository"
)

// AnonymizeConfirmation is the literal a user must supply to anonymize their
// own account.
const AnonymizeConfirmation = "ANONYMIZE_MY_DATA"

// exportAuditLimit bounds the audit rows bundled into one export document.
const exportAuditLimit = 1000

// GdprService implements the right-of-access export, self-service
// anonymization, permanent deletion, and email updates.
type GdprService struct {
	users         repository.UserRepository
	sessions      repository.SessionRepository
	refreshTokens repository.RefreshTokenRepository
	oobTokens     repository.OutOfBandTokenRepository
	auditRepo     repository.AuditLogRepository
	audit         *AuditRecorder
	tx            repository.TxManager
	email         EmailDispatcher
	logger        *slog.Logger
	clock         clock.Clock
}

// NewGdprService creates the GDPR core.
func NewGdprService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	refreshTokens repository.RefreshTokenRepository,
	oobTokens repository.OutOfBandTokenRepository,
	auditRepo repository.AuditLogRepository,
	audit *AuditRecorder,
	tx repository.TxManager,
	email EmailDispatcher,
	logger *slog.Logger,
	clk clock.Clock,
) *GdprService {
	return &GdprService{
		users:         users,
		sessions:      sessions,
		refreshTokens: refreshTokens,
		oobTokens:     oobTokens,
		auditRepo:     auditRepo,
		audit:         audit,
		tx:            tx,
		email:         email,
		logger:        logger,
		clock:         clk,
	}
}

// ExportProfile is the user profile slice of an export, without credentials.
type ExportProfile struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Role          string     `json:"role"`
	EmailVerified bool       `json:"emailVerified"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// TokenIndexEntry describes a refresh token row by id and lifetime only;
// token values never appear in exports.
type TokenIndexEntry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ExportDocument bundles everything the platform stores about one user.
type ExportDocument struct {
	GeneratedAt   time.Time         `json:"generatedAt"`
	Profile       ExportProfile     `json:"profile"`
	Sessions      []domain.Session  `json:"sessions"`
	AuditLogs     []domain.AuditLog `json:"auditLogs"`
	RefreshTokens []TokenIndexEntry `json:"refreshTokens"`
}

// ExportData assembles the right-of-access document for the user.
func (s *GdprService) ExportData(ctx context.Context, userID string, rc domain.RequestContext) (*ExportDocument, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user for export: %w", err)
	}

	sessions, err := s.sessions.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions for export: %w", err)
	}
	for i := range sessions {
		sessions[i].RefreshToken = ""
	}

	auditLogs, _, err := s.auditRepo.ListByUser(ctx, userID, 0, exportAuditLimit)
	if err != nil {
		return nil, fmt.Errorf("list audit logs for export: %w", err)
	}

	tokens, err := s.refreshTokens.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens for export: %w", err)
	}

	index := make([]TokenIndexEntry, 0, len(tokens))
	for _, t := range tokens {
		index = append(index, TokenIndexEntry{
			ID:        t.ID,
			CreatedAt: t.CreatedAt,
			ExpiresAt: t.ExpiresAt,
		})
	}

	doc := &ExportDocument{
		GeneratedAt: s.clock.Now(),
		Profile: ExportProfile{
			ID:            user.ID,
			Email:         user.Email,
			Role:          user.Role,
			EmailVerified: user.EmailVerified,
			LastLoginAt:   user.LastLoginAt,
			CreatedAt:     user.CreatedAt,
			UpdatedAt:     user.UpdatedAt,
		},
		Sessions:      sessions,
		AuditLogs:     auditLogs,
		RefreshTokens: index,
	}

	s.audit.Record(ctx, Entry{
		UserID:    userID,
		Action:    domain.AuditUserDataExported,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
		Success:   true,
	})

	return doc, nil
}

// Anonymize irreversibly detaches a user from their identity while keeping
// the row for foreign-key integrity with the audit trail. The marker row is
// written before any mutation so the action itself survives anonymization.
func (s *GdprService) Anonymize(ctx context.Context, userID, password, confirmation string, rc domain.RequestContext) error {
	if confirmation != AnonymizeConfirmation {
		return apperrors.InvalidInput(fmt.Sprintf("confirmation must be %q", AnonymizeConfirmation))
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for anonymization: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return errInvalidPassword()
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		// Marker first: anonymization must itself be auditable, and the row
		// is swept into the sentinel rewrite below like all the others.
		if err := s.audit.RecordChecked(ctx, Entry{
			UserID:    userID,
			Action:    domain.AuditUserDataAnonymized,
			IPAddress: rc.IPAddress,
			UserAgent: rc.UserAgent,
			Success:   true,
		}); err != nil {
			return fmt.Errorf("write anonymization marker: %w", err)
		}

		if err := s.auditRepo.AnonymizeForUser(ctx, userID); err != nil {
			return err
		}

		if err := s.sessions.DeleteForUser(ctx, userID); err != nil {
			return err
		}
		if _, err := s.refreshTokens.DeleteAllForUser(ctx, userID); err != nil {
			return err
		}
		if err := s.oobTokens.DeleteAllForUser(ctx, userID); err != nil {
			return err
		}

		user.Email = fmt.Sprintf("anonymized_%s@deleted.local", user.ID)
		user.PasswordHash = domain.AnonymizedSentinel
		user.EmailVerified = false
		user.LastLoginAt = nil
		user.LastLoginIP = nil
		domain.ClearLockout(user)

		if err := s.users.Update(ctx, user); err != nil {
			return fmt.Errorf("anonymize user row: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("anonymize user: %w", err)
	}

	s.logger.InfoContext(ctx, "user anonymized",
		slog.String("user_id", userID),
	)

	return nil
}

// PermanentDelete removes a user and everything cascading from them. The
// audit row pins the deleted identifiers into metadata because the user row
// will no longer exist to join against.
func (s *GdprService) PermanentDelete(ctx context.Context, targetUserID, adminID string, rc domain.RequestContext) error {
	if targetUserID == adminID {
		return apperrors.InvalidInput("cannot delete your own account")
	}

	user, err := s.users.GetByID(ctx, targetUserID)
	if err != nil {
		return fmt.Errorf("get user for permanent deletion: %w", err)
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.audit.RecordChecked(ctx, Entry{
			PerformedBy: adminID,
			Action:      domain.AuditUserPermanentlyDeleted,
			Resource:    user.ID,
			IPAddress:   rc.IPAddress,
			UserAgent:   rc.UserAgent,
			Metadata:    map[string]any{"userId": user.ID, "email": user.Email},
			Success:     true,
		}); err != nil {
			return fmt.Errorf("write deletion marker: %w", err)
		}

		return s.users.Delete(ctx, user.ID)
	})
	if err != nil {
		return fmt.Errorf("permanently delete user: %w", err)
	}

	s.logger.WarnContext(ctx, "user permanently deleted",
		slog.String("user_id", user.ID),
		slog.String("performed_by", adminID),
	)

	return nil
}

// UpdateEmail changes the user's address and restarts verification. The
// database change stands even when the verification mail cannot be sent; the
// user may retry via resend.
func (s *GdprService) UpdateEmail(ctx context.Context, userID, newEmail string, rc domain.RequestContext) (*domain.Summary, error) {
	newEmail = strings.ToLower(strings.TrimSpace(newEmail))

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user for email update: %w", err)
	}

	oldEmail := user.Email
	if oldEmail == newEmail {
		return nil, apperrors.InvalidInput("new email matches the current address")
	}

	if existing, err := s.users.GetByEmail(ctx, newEmail); err == nil && existing.ID != userID {
		return nil, apperrors.AlreadyExists("user", "email", newEmail)
	} else if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("check email uniqueness: %w", err)
	}

	if err := s.oobTokens.DeleteUnused(ctx, userID, domain.TokenKindVerification); err != nil {
		return nil, fmt.Errorf("delete stale verification tokens: %w", err)
	}

	user.Email = newEmail
	user.EmailVerified = false
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user email: %w", err)
	}

	if err := s.email.SendVerification(ctx, user.ID, user.Email); err != nil {
		s.audit.Record(ctx, Entry{
			UserID:       userID,
			Action:       domain.AuditEmailUpdateFailed,
			IPAddress:    rc.IPAddress,
			UserAgent:    rc.UserAgent,
			Metadata:     map[string]any{"oldEmail": oldEmail, "newEmail": newEmail},
			Success:      false,
			ErrorMessage: err.Error(),
		})
		return nil, apperrors.Dependency("email updated but verification mail could not be sent", err)
	}

	s.audit.Record(ctx, Entry{
		UserID:    userID,
		Action:    domain.AuditEmailUpdated,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
		Metadata:  map[string]any{"oldEmail": oldEmail, "newEmail": newEmail},
		Success:   true,
	})

	s.logger.InfoContext(ctx, "user email updated",
		slog.String("user_id", userID),
	)

	summary := user.Summary()
	return &summary, nil
}
