package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/karaca/identity/pkg/clock"
)

// Verification failure classes. Callers branch on these to distinguish a
// garbled token from a forged or merely expired one.
var (
	ErrMalformed    = errors.New("token malformed")
	ErrBadSignature = errors.New("token signature invalid")
	ErrExpired      = errors.New("token expired")
)

// Claims are the signed contents of both access and refresh tokens. The
// token version is compared against the user's current one after signature
// verification; a mismatch is a hard invalidation.
type Claims struct {
	UserID       string `json:"userId"`
	Role         string `json:"role"`
	TokenVersion int    `json:"tokenVersion"`
	jwt.RegisteredClaims
}

// Codec signs and verifies access and refresh JWTs with independent secrets.
// Secrets are loaded once at startup and never hot-swapped.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	clock         clock.Clock
}

// NewCodec creates a token codec with the given secrets and lifetimes.
func NewCodec(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, clk clock.Clock) *Codec {
	return &Codec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		clock:         clk,
	}
}

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// SignAccess mints a signed access token and returns it with its expiry.
func (c *Codec) SignAccess(userID, role string, tokenVersion int) (string, time.Time, error) {
	return c.sign(c.accessSecret, c.accessTTL, userID, role, tokenVersion)
}

// SignRefresh mints a signed refresh token and returns it with its expiry.
func (c *Codec) SignRefresh(userID, role string, tokenVersion int) (string, time.Time, error) {
	return c.sign(c.refreshSecret, c.refreshTTL, userID, role, tokenVersion)
}

func (c *Codec) sign(secret []byte, ttl time.Duration, userID, role string, tokenVersion int) (string, time.Time, error) {
	now := c.clock.Now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		UserID:       userID,
		Role:         role,
		TokenVersion: tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			// The jti keeps two tokens minted in the same second distinct;
			// rotation relies on the refresh token value being unique.
			ID:        uuid.New().String(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "auth-service",
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// VerifyAccess parses and validates an access token, returning its claims.
func (c *Codec) VerifyAccess(tokenString string) (*Claims, error) {
	return c.verify(tokenString, c.accessSecret)
}

// VerifyRefresh parses and validates a refresh token, returning its claims.
func (c *Codec) VerifyRefresh(tokenString string) (*Claims, error) {
	return c.verify(tokenString, c.refreshSecret)
}

func (c *Codec) verify(tokenString string, secret []byte) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(c.clock.Now))
	if err != nil {
		return nil, classifyJWTError(err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrMalformed
	}

	return claims, nil
}

// classifyJWTError maps jwt/v5 parse errors to this package's failure classes.
func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
