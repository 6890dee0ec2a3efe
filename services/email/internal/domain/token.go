package domain

import "time"

// Out-of-band token kinds. The email service owns the verification and
// password-reset lifecycles; magic-link rows are minted by the auth service
// and only swept here.
const (
	TokenKindVerification  = "VERIFICATION"
	TokenKindPasswordReset = "PASSWORD_RESET"
	TokenKindMagicLink     = "MAGIC_LINK"
)

// Default out-of-band token lifetimes.
const (
	VerificationTokenTTL = 24 * time.Hour
	ResetTokenTTL        = time.Hour
)

// UsedMagicLinkRetention is how long consumed magic-link rows are kept before
// the sweeper removes them.
const UsedMagicLinkRetention = 7 * 24 * time.Hour

// OutOfBandToken is a one-shot credential row in the shared database.
// Verification tokens are consumed by deletion; reset tokens are consumed by
// flipping Used and retained for audit.
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
