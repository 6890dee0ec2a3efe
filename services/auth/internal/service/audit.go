package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/karaca/identity/pkg/clock"
	apperrors "github.com/karaca/identity/pkg/errors"
	"github.com/karaca/identity/services/auth/internal/domain"
	"github.com/karaca/identity/services/auth/internal/repository"
)

// DefaultAuditRetention is how long audit rows are kept before the retention
// sweeper removes them.
const DefaultAuditRetention = 90 * 24 * time.Hour

// AuditRecorder appends structured rows to the audit trail and serves the
// audit queries. Append failures are logged but never mask the primary
// operation's result: the domain action has already happened by the time the
// audit attempt is made.
type AuditRecorder struct {
	repo      repository.AuditLogRepository
	logger    *slog.Logger
	clock     clock.Clock
	retention time.Duration
}

// NewAuditRecorder creates an audit recorder with the given retention window.
// A non-positive retention falls back to the 90-day default.
func NewAuditRecorder(repo repository.AuditLogRepository, logger *slog.Logger, clk clock.Clock, retention time.Duration) *AuditRecorder {
	if retention <= 0 {
		retention = DefaultAuditRetention
	}
	return &AuditRecorder{
		repo:      repo,
		logger:    logger,
		clock:     clk,
		retention: retention,
	}
}

// Entry describes one state transition to record. Zero-value optional fields
// are stored as NULL.
type Entry struct {
	UserID       string
	PerformedBy  string
	Action       string
	Resource     string
	IPAddress    string
	UserAgent    string
	Metadata     map[string]any
	Success      bool
	ErrorMessage string
}

// Record appends an audit row. It never returns an error; failures are logged
// so the caller's state transition stands regardless.
func (a *AuditRecorder) Record(ctx context.Context, e Entry) {
	if err := a.record(ctx, e); err != nil {
		a.logger.ErrorContext(ctx, "failed to write audit log",
			slog.String("action", e.Action),
			slog.String("user_id", e.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// RecordChecked appends an audit row and returns the write error. Used where
// the row must land inside the caller's transaction (e.g. the anonymization
// marker that precedes mutation).
func (a *AuditRecorder) RecordChecked(ctx context.Context, e Entry) error {
	return a.record(ctx, e)
}

func (a *AuditRecorder) record(ctx context.Context, e Entry) error {
	if !domain.IsValidAuditAction(e.Action) {
		return fmt.Errorf("unknown audit action %q", e.Action)
	}

	entry := &domain.AuditLog{
		ID:           uuid.New().String(),
		UserID:       optional(e.UserID),
		PerformedBy:  optional(e.PerformedBy),
		Action:       e.Action,
		Resource:     optional(e.Resource),
		IPAddress:    optional(e.IPAddress),
		UserAgent:    optional(e.UserAgent),
		Metadata:     e.Metadata,
		Success:      e.Success,
		ErrorMessage: optional(e.ErrorMessage),
		CreatedAt:    a.clock.Now(),
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}

	return a.repo.Append(ctx, entry)
}

// ListForUser returns a page of the user's own audit rows.
func (a *AuditRecorder) ListForUser(ctx context.Context, userID string, page, perPage int) ([]domain.AuditLog, int, error) {
	offset, limit := pageBounds(page, perPage)
	entries, total, err := a.repo.ListByUser(ctx, userID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	return entries, total, nil
}

// Query returns a filtered page of audit rows for the admin surface.
func (a *AuditRecorder) Query(ctx context.Context, filter domain.AuditFilter, page, perPage int) ([]domain.AuditLog, int, error) {
	if filter.Action != "" && !domain.IsValidAuditAction(filter.Action) {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("unknown audit action %q", filter.Action))
	}

	offset, limit := pageBounds(page, perPage)
	entries, total, err := a.repo.Query(ctx, filter, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit logs: %w", err)
	}
	return entries, total, nil
}

// SweepRetention deletes rows older than the retention window.
func (a *AuditRecorder) SweepRetention(ctx context.Context) (int64, error) {
	cutoff := a.clock.Now().Add(-a.retention)
	deleted, err := a.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep audit retention: %w", err)
	}
	return deleted, nil
}

func pageBounds(page, perPage int) (offset, limit int) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return (page - 1) * perPage, perPage
}

// optional maps "" to nil for nullable columns.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
