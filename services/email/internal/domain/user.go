package domain

import "time"

// User is the email service's narrow view of the shared users table: just
// enough to verify addresses and apply password resets.
type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	EmailVerified       bool
	FailedLoginAttempts int
	AccountLockedUntil  *time.Time
	TokenVersion        int
}

// RequestContext carries the client-facing metadata of the triggering request.
type RequestContext struct {
	IPAddress string
	UserAgent string
}

// Audit actions the email service reports to the auth service's internal
// audit endpoint.
const (
	AuditEmailVerified          = "EMAIL_VERIFIED"
	AuditPasswordResetRequested = "PASSWORD_RESET_REQUESTED"
	AuditPasswordResetCompleted = "PASSWORD_RESET_COMPLETED"
	AuditVerificationEmailSent  = "VERIFICATION_EMAIL_SENT"
	AuditResetEmailSent         = "RESET_EMAIL_SENT"
)
