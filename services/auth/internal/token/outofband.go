package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/karaca/identity/pkg/clock"
)

// OutOfBandClaims are the signed contents of single-use tokens (verification,
// password reset, magic link). Carrying the user id and kind lets a caller
// holding only the token locate the row and cross-check the stored owner.
type OutOfBandClaims struct {
	UserID string `json:"userId"`
	Kind   string `json:"kind"`
	jwt.RegisteredClaims
}

// OutOfBandSigner mints and verifies the signed half of out-of-band tokens.
// The secret is independent from the access/refresh secrets.
type OutOfBandSigner struct {
	secret []byte
	clock  clock.Clock
}

// NewOutOfBandSigner creates a signer for out-of-band tokens.
func NewOutOfBandSigner(secret string, clk clock.Clock) *OutOfBandSigner {
	return &OutOfBandSigner{secret: []byte(secret), clock: clk}
}

// Sign mints a signed out-of-band token for the given user and kind.
func (s *OutOfBandSigner) Sign(userID, kind string, ttl time.Duration) (string, time.Time, error) {
	now := s.clock.Now()
	expiresAt := now.Add(ttl)

	claims := &OutOfBandClaims{
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

// Verify parses an out-of-band token, checks the signature and expiry, and
// asserts the embedded kind matches the expected one.
func (s *OutOfBandSigner) Verify(tokenString, expectedKind string) (*OutOfBandClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &OutOfBandClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return nil, classifyJWTError(err)
	}

	claims, ok := tok.Claims.(*OutOfBandClaims)
	if !ok || !tok.Valid {
		return nil, ErrMalformed
	}

	if claims.Kind != expectedKind {
		return nil, fmt.Errorf("%w: kind mismatch", ErrMalformed)
	}

	return claims, nil
}
