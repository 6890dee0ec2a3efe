package sender

import "context"

// Message is one outbound transactional mail.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender is the outbound mail transport. Implementations must be safe for
// concurrent use.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg *Message) error

	// Verify checks transport connectivity. Called once at startup; a failure
	// is logged but must not crash the process.
	Verify(ctx context.Context) error
}
