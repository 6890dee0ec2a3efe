package service

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/karaca/identity/pkg/errors"
	"github.com/karaca/identity/services/auth/internal/domain"
)

// DeleteAllConfirmation is the literal a client must supply to wipe every
// user except the calling admin.
const DeleteAllConfirmation = "DELETE_ALL_USERS"

// ListUsers returns a page of users for the admin surface.
func (s *AuthService) ListUsers(ctx context.Context, page, perPage int) ([]domain.User, int, error) {
	offset, limit := pageBounds(page, perPage)
	users, total, err := s.users.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

// GetUser returns one user for the admin surface.
func (s *AuthService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// ChangeRole sets a user's role. Admins cannot change their own role.
func (s *AuthService) ChangeRole(ctx context.Context, targetUserID, newRole, adminID string, rc domain.RequestContext) (*domain.Summary, error) {
	if targetUserID == adminID {
		return nil, apperrors.InvalidInput("cannot change your own role")
	}
	if !domain.IsValidRole(newRole) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid role %q", newRole))
	}

	user, err := s.users.GetByID(ctx, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("get user for role change: %w", err)
	}

	oldRole := user.Role
	if oldRole == newRole {
		summary := user.Summary()
		return &summary, nil
	}

	user.Role = newRole
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user role: %w", err)
	}

	s.audit.Record(ctx, Entry{
		UserID:      user.ID,
		PerformedBy: adminID,
		Action:      domain.AuditRoleChanged,
		IPAddress:   rc.IPAddress,
		UserAgent:   rc.UserAgent,
		Metadata:    map[string]any{"oldRole": oldRole, "newRole": newRole},
		Success:     true,
	})

	s.logger.InfoContext(ctx, "user role changed",
		slog.String("user_id", user.ID),
		slog.String("old_role", oldRole),
		slog.String("new_role", newRole),
		slog.String("performed_by", adminID),
	)

	summary := user.Summary()
	return &summary, nil
}

// DeleteUser removes a user; sessions, refresh tokens, and out-of-band tokens
// cascade. Admins cannot delete themselves.
func (s *AuthService) DeleteUser(ctx context.Context, targetUserID, adminID string, rc domain.RequestContext) error {
	if targetUserID == adminID {
		return apperrors.InvalidInput("cannot delete your own account")
	}

	user, err := s.users.GetByID(ctx, targetUserID)
	if err != nil {
		return fmt.Errorf("get user for deletion: %w", err)
	}

	if err := s.users.Delete(ctx, user.ID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	s.audit.Record(ctx, Entry{
		PerformedBy: adminID,
		Action:      domain.AuditUserDeleted,
		Resource:    user.ID,
		IPAddress:   rc.IPAddress,
		UserAgent:   rc.UserAgent,
		Metadata:    map[string]any{"email": user.Email},
		Success:     true,
	})

	if err := s.events.PublishUserDeleted(ctx, user.ID, false); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.deleted event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user deleted",
		slog.String("user_id", user.ID),
		slog.String("performed_by", adminID),
	)

	return nil
}

// DeleteAllNonAdmins removes every non-admin user and returns the count.
func (s *AuthService) DeleteAllNonAdmins(ctx context.Context, adminID string, rc domain.RequestContext) (int64, error) {
	count, err := s.users.DeleteAllNonAdmins(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete non-admin users: %w", err)
	}

	s.audit.Record(ctx, Entry{
		PerformedBy: adminID,
		Action:      domain.AuditUsersBulkDeleted,
		IPAddress:   rc.IPAddress,
		UserAgent:   rc.UserAgent,
		Metadata:    map[string]any{"count": count, "scope": "non-admins"},
		Success:     true,
	})

	s.logger.WarnContext(ctx, "bulk deleted non-admin users",
		slog.Int64("count", count),
		slog.String("performed_by", adminID),
	)

	return count, nil
}

// DeleteAllUsers removes every user except the calling admin. The client must
// supply the exact confirmation literal.
func (s *AuthService) DeleteAllUsers(ctx context.Context, confirmation, adminID string, rc domain.RequestContext) (int64, error) {
	if confirmation != DeleteAllConfirmation {
		return 0, apperrors.InvalidInput(fmt.Sprintf("confirmation must be %q", DeleteAllConfirmation))
	}

	count, err := s.users.DeleteAllExcept(ctx, adminID)
	if err != nil {
		return 0, fmt.Errorf("delete all users: %w", err)
	}

	s.audit.Record(ctx, Entry{
		PerformedBy: adminID,
		Action:      domain.AuditUsersBulkDeleted,
		IPAddress:   rc.IPAddress,
		UserAgent:   rc.UserAgent,
		Metadata:    map[string]any{"count": count, "scope": "all"},
		Success:     true,
	})

	s.logger.WarnContext(ctx, "bulk deleted all users",
		slog.Int64("count", count),
		slog.String("performed_by", adminID),
	)

	return count, nil
}
