// Package sweeper runs the email service's background cleanup: expired
// out-of-band tokens of every kind, plus consumed magic-link rows past their
// audit retention.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/karaca/identity/pkg/clock"
	"github.com/karaca/identity/services/email/internal/domain"
	"github.com/karaca/identity/services/email/internal/repository"
)

// SweepInterval is how often the token sweep runs.
const SweepInterval = time.Hour

// sweepTimeout bounds one sweep pass.
const sweepTimeout = time.Minute

// Sweeper owns the periodic token cleanup.
type Sweeper struct {
	tokens repository.TokenRepository
	logger *slog.Logger
	clock  clock.Clock
}

// New creates a sweeper.
func New(tokens repository.TokenRepository, logger *slog.Logger, clk clock.Clock) *Sweeper {
	return &Sweeper{tokens: tokens, logger: logger, clock: clk}
}

// Run blocks until ctx is canceled, sweeping hourly.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one sweep pass immediately.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	now := s.clock.Now()

	expired, err := s.tokens.SweepExpired(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "expired token sweep failed", slog.String("error", err.Error()))
	}

	usedMagic, err := s.tokens.SweepUsedMagicLinks(ctx, now.Add(-domain.UsedMagicLinkRetention))
	if err != nil {
		s.logger.ErrorContext(ctx, "used magic link sweep failed", slog.String("error", err.Error()))
	}

	if expired > 0 || usedMagic > 0 {
		s.logger.InfoContext(ctx, "token sweep completed",
			slog.Int64("expired_deleted", expired),
			slog.Int64("used_magic_links_deleted", usedMagic),
		)
	}
}
