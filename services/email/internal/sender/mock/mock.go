// Package mock provides a Sender that logs instead of delivering. Used in
// development and tests.
package mock

import (
	"context"
	"log/slog"
	"sync"

	"github.com/karaca/identity/services/email/internal/sender"
)

// Sender logs outbound messages and always succeeds. It records sent
// messages so tests can assert on them.
type Sender struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []sender.Message
}

// New creates a mock sender.
func New(logger *slog.Logger) *Sender {
	return &Sender{logger: logger}
}

// Name returns the transport name.
func (s *Sender) Name() string {
	return "mock"
}

// Send records the message and logs it.
func (s *Sender) Send(ctx context.Context, msg *sender.Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, *msg)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "mock sender: mail sent",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)

	return nil
}

// Verify always succeeds.
func (s *Sender) Verify(context.Context) error {
	return nil
}

// Sent returns a copy of the messages sent so far.
func (s *Sender) Sent() []sender.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sender.Message, len(s.sent))
	copy(out, s.sent)
	return out
}
