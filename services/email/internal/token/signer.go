package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/karaca/identity/pkg/clock"
)

// Verification failure classes.
var (
	ErrMalformed    = errors.New("token malformed")
	ErrBadSignature = errors.New("token signature invalid")
	ErrExpired      = errors.New("token expired")
)

// Claims are the signed contents of out-of-band tokens. The kind binds a
// token to exactly one flow; the embedded user id is cross-checked against
// the stored row on consumption.
type Claims struct {
	UserID string `json:"userId"`
	Kind   string `json:"kind"`
	jwt.RegisteredClaims
}

// Signer mints and verifies the signed half of out-of-band tokens. It shares
// its secret with the auth service so either side can verify tokens the other
// minted.
type Signer struct {
	secret []byte
	clock  clock.Clock
}

// NewSigner creates an out-of-band token signer.
func NewSigner(secret string, clk clock.Clock) *Signer {
	return &Signer{secret: []byte(secret), clock: clk}
}

// Sign mints a signed token for the given user and kind.
func (s *Signer) Sign(userID, kind string, ttl time.Duration) (string, time.Time, error) {
	now := s.clock.Now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		UserID: userID,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}

	return signed, expiresAt, nil
}

// Verify parses a token, checks the signature and expiry, and asserts the
// embedded kind matches the expected one.
func (s *Signer) Verify(tokenString, expectedKind string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrMalformed
	}

	if claims.Kind != expectedKind {
		return nil, fmt.Errorf("%w: kind mismatch", ErrMalformed)
	}

	return claims, nil
}
