package domain

import "time"

// Audit actions. The set is exhaustive: every state transition the platform
// surfaces distinctly appears here.
const (
	AuditUserRegister           = "USER_REGISTER"
	AuditUserLogin              = "USER_LOGIN"
	AuditUserLogout             = "USER_LOGOUT"
	AuditUserLogoutAllDevices   = "USER_LOGOUT_ALL_DEVICES"
	AuditUserLogoutOtherDevices = "USER_LOGOUT_OTHER_DEVICES"
	AuditEmailVerified          = "EMAIL_VERIFIED"
	AuditPasswordResetRequested = "PASSWORD_RESET_REQUESTED"
	AuditPasswordResetCompleted = "PASSWORD_RESET_COMPLETED"
	AuditTokenRefreshed         = "TOKEN_REFRESHED"
	AuditRoleChanged            = "ROLE_CHANGED"
	AuditUserDeleted            = "USER_DELETED"
	AuditUsersBulkDeleted       = "USERS_BULK_DELETED"
	AuditSessionRevoked         = "SESSION_REVOKED"
	AuditAccountLocked          = "ACCOUNT_LOCKED"
	AuditAccountUnlocked        = "ACCOUNT_UNLOCKED"
	AuditLoginFailed            = "LOGIN_FAILED"
	AuditVerificationEmailSent  = "VERIFICATION_EMAIL_SENT"
	AuditResetEmailSent         = "RESET_EMAIL_SENT"
	AuditMagicLinkRequested     = "MAGIC_LINK_REQUESTED"
	AuditMagicLinkSent          = "MAGIC_LINK_SENT"
	AuditMagicLinkLogin         = "MAGIC_LINK_LOGIN"
	AuditMagicLinkFailed        = "MAGIC_LINK_FAILED"
	AuditUserDataExported       = "USER_DATA_EXPORTED"
	AuditUserDataAnonymized     = "USER_DATA_ANONYMIZED"
	AuditUserPermanentlyDeleted = "USER_PERMANENTLY_DELETED"
	AuditEmailUpdated           = "EMAIL_UPDATED"
	AuditEmailUpdateFailed      = "EMAIL_UPDATE_FAILED"
)

var auditActions = map[string]struct{}{
	AuditUserRegister: {}, AuditUserLogin: {}, AuditUserLogout: {},
	AuditUserLogoutAllDevices: {}, AuditUserLogoutOtherDevices: {},
	AuditEmailVerified: {}, AuditPasswordResetRequested: {},
	AuditPasswordResetCompleted: {}, AuditTokenRefreshed: {},
	AuditRoleChanged: {}, AuditUserDeleted: {}, AuditUsersBulkDeleted: {},
	AuditSessionRevoked: {}, AuditAccountLocked: {}, AuditAccountUnlocked: {},
	AuditLoginFailed: {}, AuditVerificationEmailSent: {}, AuditResetEmailSent: {},
	AuditMagicLinkRequested: {}, AuditMagicLinkSent: {}, AuditMagicLinkLogin: {},
	AuditMagicLinkFailed: {}, AuditUserDataExported: {}, AuditUserDataAnonymized: {},
	AuditUserPermanentlyDeleted: {}, AuditEmailUpdated: {}, AuditEmailUpdateFailed: {},
}

// IsValidAuditAction checks whether the given action is part of the closed set.
func IsValidAuditAction(action string) bool {
	_, ok := auditActions[action]
	return ok
}

// AuditLog is one append-only audit trail row. UserID is nil for system-level
// rows; PerformedBy carries the admin id when the action was administrative.
type AuditLog struct {
	ID           string         `json:"id"`
	UserID       *string        `json:"userId,omitempty"`
	PerformedBy  *string        `json:"performedBy,omitempty"`
	Action       string         `json:"action"`
	Resource     *string        `json:"resource,omitempty"`
	IPAddress    *string        `json:"ipAddress,omitempty"`
	UserAgent    *string        `json:"userAgent,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	Success      bool           `json:"success"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// AuditFilter narrows the admin audit query. Zero values mean "no constraint".
type AuditFilter struct {
	UserID  string
	Action  string
	Success *bool
	From    time.Time
	To      time.Time
}

// AnonymizedSentinel replaces identifying audit fields when a user invokes
// their right to be forgotten.
const AnonymizedSentinel = "anonymized"
