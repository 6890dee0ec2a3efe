package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karaca/identity/services/auth/internal/domain"
)

func TestSessionRegistry_BuildSessionParsesUserAgent(t *testing.T) {
	f := newFixture(t)

	session := f.registry.BuildSession("user-1", "refresh-1", f.clk.Now().Add(time.Hour), domain.RequestContext{
		IPAddress: "203.0.113.7",
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	})

	require.NotNil(t, session.Browser)
	assert.Equal(t, "Chrome", *session.Browser)
	require.NotNil(t, session.OS)
	require.NotNil(t, session.IPAddress)
	assert.Equal(t, "203.0.113.7", *session.IPAddress)
	assert.True(t, session.IsActive)
}

func TestSessionRegistry_ListActiveHidesTokensAndMarksCurrent(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "alice@example.com", "Str0ngPass!", true)

	first, err := f.auth.Login(context.Background(), "alice@example.com", "Str0ngPass!", rc())
	require.NoError(t, err)
	second, err := f.auth.Login(context.Background(), "alice@example.com", "Str0ngPass!", rc())
	require.NoError(t, err)

	sessions, err := f.registry.ListActive(context.Background(), user.ID, second.Tokens.RefreshToken)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	var currentCount int
	for _, s := range sessions {
		assert.Empty(t, s.RefreshToken, "raw refresh token must not leak")
		if s.Current {
			currentCount++
		}
	}
	assert.Equal(t, 1, currentCount)

	_ = first
}

func TestSessionRegistry_RevokeNonOwnedLooksLikeMissing(t *testing.T) {
	f := newFixture(t)
	alice := f.seedUser(t, "alice@example.com", "Str0ngPass!", true)
	f.seedUser(t, "eve@example.com", "Str0ngPass!", true)

	login, err := f.auth.Login(context.Background(), "alice@example.com", "Str0ngPass!", rc())
	require.NoError(t, err)

	session, err := f.sessions.GetByRefreshToken(context.Background(), login.Tokens.RefreshToken)
	require.NoError(t, err)

	eve, err := f.users.GetByEmail(context.Background(), "eve@example.com")
	require.NoError(t, err)

	// Someone else's session id yields the same error as a missing one.
	err = f.registry.Revoke(context.Background(), session.ID, eve.ID, rc())
	require.Error(t, err)
	assert.Equal(t, "SESSION_NOT_FOUND", appCode(t, err))

	err = f.registry.Revoke(context.Background(), "00000000-0000-0000-0000-000000000000", eve.ID, rc())
	require.Error(t, err)
	assert.Equal(t, "SESSION_NOT_FOUND", appCode(t, err))

	// The owner can revoke it.
	require.NoError(t, f.registry.Revoke(context.Background(), session.ID, alice.ID, rc()))

	active, err := f.sessions.ListActive(context.Background(), alice.ID, f.clk.Now())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSessionRegistry_RevokeAllOtherKeepsCurrent(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "alice@example.com", "Str0ngPass!", true)

	_, err := f.auth.Login(context.Background(), "alice@example.com", "Str0ngPass!", rc())
	require.NoError(t, err)
	_, err = f.auth.Login(context.Background(), "alice@example.com", "Str0ngPass!", rc())
	require.NoError(t, err)
	current, err := f.auth.Login(context.Background(), "alice@example.com", "Str0ngPass!", rc())
	require.NoError(t, err)

	revoked, err := f.registry.RevokeAllOther(context.Background(), user.ID, current.Tokens.RefreshToken, rc())
	require.NoError(t, err)
	assert.Equal(t, int64(2), revoked)

	active, err := f.sessions.ListActive(context.Background(), user.ID, f.clk.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, current.Tokens.RefreshToken, active[0].RefreshToken)

	// The surviving refresh token still rotates.
	_, err = f.auth.Refresh(context.Background(), current.Tokens.RefreshToken, rc())
	require.NoError(t, err)
}

func TestSessionRegistry_RevokeAll(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "alice@example.com", "Str0ngPass!", true)

	login, err := f.auth.Login(context.Background(), "alice@example.com", "Str0ngPass!", rc())
	require.NoError(t, err)
	_, err = f.auth.Login(context.Background(), "alice@example.com", "Str0ngPass!", rc())
	require.NoError(t, err)

	revoked, err := f.registry.RevokeAll(context.Background(), user.ID, rc())
	require.NoError(t, err)
	assert.Equal(t, int64(2), revoked)

	// Every refresh token is gone.
	assert.Zero(t, f.refresh.count(user.ID))

	_, err = f.auth.Refresh(context.Background(), login.Tokens.RefreshToken, rc())
	require.Error(t, err)
	assert.Equal(t, "REFRESH_NOT_FOUND", appCode(t, err))
}
