package domain

import "time"

// Session is one refresh-token-bearing login. The raw refresh token value is
// stored both here and in RefreshToken; (UserID, RefreshToken) uniquely
// identifies a session. An inactive session must never be usable to refresh.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	RefreshToken   string    `json:"-"`
	DeviceName     *string   `json:"deviceName,omitempty"`
	DeviceType     *string   `json:"deviceType,omitempty"`
	Browser        *string   `json:"browser,omitempty"`
	OS             *string   `json:"os,omitempty"`
	IPAddress      *string   `json:"ipAddress,omitempty"`
	Country        *string   `json:"country,omitempty"`
	City           *string   `json:"city,omitempty"`
	IsActive       bool      `json:"isActive"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`

	// Current marks the session owning the caller's refresh cookie in
	// listings. Never persisted.
	Current bool `json:"current,omitempty"`
}

// RefreshToken is the bare credential index kept alongside Session for fast
// lookup and for cleanup independent of session metadata.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// TokenPair holds a freshly minted access/refresh token pair. ExpiresAt is
// the access token's expiry; RefreshExpiresAt drives the cookie lifetime.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"-"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"-"`
}
