// Package sweeper runs the background cleanup loops of the auth service:
// expired refresh tokens and sessions hourly, audit retention daily.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/karaca/identity/pkg/clock"
	"github.com/karaca/identity/services/auth/internal/repository"
	"github.com/karaca/identity/services/auth/internal/service"
)

// Intervals for the two loops.
const (
	CredentialSweepInterval = time.Hour
	RetentionSweepInterval  = 24 * time.Hour
)

// sweepTimeout bounds one sweep pass.
const sweepTimeout = time.Minute

// Sweeper owns the periodic cleanup of expired credentials and aged audit rows.
type Sweeper struct {
	refreshTokens repository.RefreshTokenRepository
	sessions      repository.SessionRepository
	audit         *service.AuditRecorder
	logger        *slog.Logger
	clock         clock.Clock
}

// New creates a sweeper.
func New(
	refreshTokens repository.RefreshTokenRepository,
	sessions repository.SessionRepository,
	audit *service.AuditRecorder,
	logger *slog.Logger,
	clk clock.Clock,
) *Sweeper {
	return &Sweeper{
		refreshTokens: refreshTokens,
		sessions:      sessions,
		audit:         audit,
		logger:        logger,
		clock:         clk,
	}
}

// Run blocks until ctx is canceled, firing the credential sweep hourly and
// the audit retention sweep daily.
func (s *Sweeper) Run(ctx context.Context) {
	credentialTicker := time.NewTicker(CredentialSweepInterval)
	defer credentialTicker.Stop()

	retentionTicker := time.NewTicker(RetentionSweepInterval)
	defer retentionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-credentialTicker.C:
			s.sweepCredentials(ctx)
		case <-retentionTicker.C:
			s.sweepRetention(ctx)
		}
	}
}

// SweepCredentialsOnce runs one credential sweep pass immediately.
func (s *Sweeper) SweepCredentialsOnce(ctx context.Context) {
	s.sweepCredentials(ctx)
}

func (s *Sweeper) sweepCredentials(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	now := s.clock.Now()

	tokens, err := s.refreshTokens.DeleteExpired(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "refresh token sweep failed", slog.String("error", err.Error()))
	}

	sessions, err := s.sessions.DeleteExpired(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "session sweep failed", slog.String("error", err.Error()))
	}

	if tokens > 0 || sessions > 0 {
		s.logger.InfoContext(ctx, "credential sweep completed",
			slog.Int64("refresh_tokens_deleted", tokens),
			slog.Int64("sessions_deleted", sessions),
		)
	}
}

func (s *Sweeper) sweepRetention(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	deleted, err := s.audit.SweepRetention(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "audit retention sweep failed", slog.String("error", err.Error()))
		return
	}

	if deleted > 0 {
		s.logger.InfoContext(ctx, "audit retention sweep completed",
			slog.Int64("rows_deleted", deleted),
		)
	}
}
