package domain

import "time"

// Out-of-band token kinds. Each is a single-use bearer credential backed by
// both a signed claim and a database row.
const (
	TokenKindVerification  = "VERIFICATION"
	TokenKindPasswordReset = "PASSWORD_RESET"
	TokenKindMagicLink     = "MAGIC_LINK"
)

// MagicLinkTokenTTL is the default magic-link lifetime. The verification and
// reset lifetimes live in the email service, which owns those flows.
const MagicLinkTokenTTL = 15 * time.Minute

// OutOfBandToken is a one-shot credential row. Verification tokens are
// consumed by deletion; reset and magic-link tokens are consumed by flipping
// Used and retained for audit.
type OutOfBandToken struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Token     string     `json:"-"`
	UserID    string     `json:"userId"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	IPAddress *string    `json:"ipAddress,omitempty"`
	UserAgent *string    `json:"userAgent,omitempty"`
	ExpiresAt time.Time  `json:"expiresAt"`
	CreatedAt time.Time  `json:"createdAt"`
}
