package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/karaca/identity/pkg/errors"
	"github.com/karaca/identity/services/auth/internal/domain"
)

func TestMagicLinkRequest_UnknownAddressCreatesAccountSilently(t *testing.T) {
	f := newFixture(t)

	message, err := f.magic.Request(context.Background(), "carol@example.com", rc())
	require.NoError(t, err)
	assert.Equal(t, MagicLinkMessage, message)

	// A user row appeared, unverified, role USER.
	user, err := f.users.GetByEmail(context.Background(), "carol@example.com")
	require.NoError(t, err)
	assert.False(t, user.EmailVerified)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.NotEmpty(t, user.PasswordHash)

	assert.Contains(t, f.auditRepo.actions(user.ID), domain.AuditUserRegister)
	assert.Contains(t, f.auditRepo.actions(user.ID), domain.AuditMagicLinkRequested)
	assert.Contains(t, f.auditRepo.actions(user.ID), domain.AuditMagicLinkSent)
}

func TestMagicLinkRequest_ResponseIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice@example.com", "Str0ngPass!", true)

	existing, err := f.magic.Request(context.Background(), "alice@example.com", rc())
	require.NoError(t, err)

	fresh, err := f.magic.Request(context.Background(), "newcomer@example.com", rc())
	require.NoError(t, err)

	assert.Equal(t, existing, fresh)
}

func TestMagicLinkRequest_ReplacesPriorUnusedToken(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "alice@example.com", "Str0ngPass!", true)

	_, err := f.magic.Request(context.Background(), "alice@example.com", rc())
	require.NoError(t, err)
	_, err = f.magic.Request(context.Background(), "alice@example.com", rc())
	require.NoError(t, err)

	tokens, err := f.oobTokens.ListByUserID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.False(t, tokens[0].Used)
}

func TestMagicLinkRequest_LockedAccountRefused(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "alice@example.com", "Str0ngPass!", true)

	until := f.clk.Now().Add(10 * time.Minute)
	stored, err := f.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	stored.AccountLockedUntil = &until
	require.NoError(t, f.users.Update(context.Background(), stored))

	_, err = f.magic.Request(context.Background(), "alice@example.com", rc())
	require.Error(t, err)
	assert.Equal(t, "ACCOUNT_LOCKED", appCode(t, err))
	assert.Equal(t, 1, f.auditRepo.countAction(domain.AuditMagicLinkFailed))
}

func magicToken(t *testing.T, f *fixture, email string) string {
	t.Helper()
	_, err := f.magic.Request(context.Background(), email, rc())
	require.NoError(t, err)

	user, err := f.users.GetByEmail(context.Background(), email)
	require.NoError(t, err)

	tokens, err := f.oobTokens.ListByUserID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	return tokens[0].Token
}

func TestMagicLinkRedeem_SignsInAndVerifiesEmail(t *testing.T) {
	f := newFixture(t)
	tokenString := magicToken(t, f, "carol@example.com")

	result, err := f.magic.Redeem(context.Background(), tokenString, rc())
	require.NoError(t, err)
	assert.NotEmpty(t, result.Tokens.AccessToken)
	assert.True(t, result.User.EmailVerified)

	user, err := f.users.GetByEmail(context.Background(), "carol@example.com")
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)
	require.NotNil(t, user.LastLoginAt)

	// A session backs the issued refresh token.
	session, err := f.sessions.GetByRefreshToken(context.Background(), result.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.True(t, session.IsActive)

	assert.Contains(t, f.auditRepo.actions(user.ID), domain.AuditMagicLinkLogin)
}

func TestMagicLinkRedeem_OneShot(t *testing.T) {
	f := newFixture(t)
	tokenString := magicToken(t, f, "carol@example.com")

	_, err := f.magic.Redeem(context.Background(), tokenString, rc())
	require.NoError(t, err)

	// Second redemption of the same token fails uniformly, TTL or not.
	_, err = f.magic.Redeem(context.Background(), tokenString, rc())
	require.Error(t, err)
	assert.Equal(t, "MAGIC_LINK_USED", appCode(t, err))

	_, err = f.magic.Redeem(context.Background(), tokenString, rc())
	require.Error(t, err)
	assert.Equal(t, "MAGIC_LINK_USED", appCode(t, err))
}

func TestMagicLinkRedeem_Expired(t *testing.T) {
	f := newFixture(t)
	tokenString := magicToken(t, f, "carol@example.com")

	f.clk.Advance(16 * time.Minute)

	_, err := f.magic.Redeem(context.Background(), tokenString, rc())
	require.Error(t, err)
	assert.Equal(t, "MAGIC_LINK_EXPIRED", appCode(t, err))
}

func TestMagicLinkRedeem_Unknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.magic.Redeem(context.Background(), "garbage-token", rc())
	require.Error(t, err)
	assert.Equal(t, "MAGIC_LINK_INVALID", appCode(t, err))
}

func TestMagicLinkRequest_DispatchFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice@example.com", "Str0ngPass!", true)
	f.email.failNext = true

	_, err := f.magic.Request(context.Background(), "alice@example.com", rc())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDependency)
}
