package domain

import (
	"time"
)

// Role values. The set is closed; the database enforces it with a CHECK
// constraint.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// IsValidRole checks whether the given string is a known role.
func IsValidRole(r string) bool {
	return r == RoleUser || r == RoleAdmin
}

// User is the identity root. TokenVersion is a monotonically non-decreasing
// epoch embedded in every signed token; bumping it invalidates every token
// issued before the bump regardless of the token's own expiry.
type User struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	Role                string     `json:"role"`
	EmailVerified       bool       `json:"emailVerified"`
	FailedLoginAttempts int        `json:"-"`
	AccountLockedUntil  *time.Time `json:"-"`
	TokenVersion        int        `json:"-"`
	LastLoginAt         *time.Time `json:"lastLoginAt,omitempty"`
	LastLoginIP         *string    `json:"-"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Summary is the public projection of a user returned by the API.
type Summary struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"emailVerified"`
}

// Summary returns the public projection of the user.
func (u *User) Summary() Summary {
	return Summary{
		ID:            u.ID,
		Email:         u.Email,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
	}
}

// IsLocked reports whether the account lock is in effect at the given instant.
func (u *User) IsLocked(now time.Time) bool {
	return u.AccountLockedUntil != nil && u.AccountLockedUntil.After(now)
}
