package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_Verification(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	html, err := r.Verification(LinkData{
		Link:        "https://app.example.com/verify-email?token=abc",
		DisplayName: "alice",
	})
	require.NoError(t, err)
	assert.Contains(t, html, "Hi alice")
	assert.Contains(t, html, "verify-email?token=abc")
	assert.Contains(t, html, "24 hours")
}

func TestRenderer_Reset(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	html, err := r.Reset(LinkData{
		Link:        "https://app.example.com/reset-password?token=abc",
		DisplayName: "bob",
	})
	require.NoError(t, err)
	assert.Contains(t, html, "Hi bob")
	assert.Contains(t, html, "reset-password?token=abc")
}

func TestRenderer_MagicLinkGreeting(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	fresh, err := r.MagicLink(MagicLinkData{Link: "https://x/y", DisplayName: "carol", IsNewUser: true})
	require.NoError(t, err)
	assert.Contains(t, fresh, "Welcome")
	assert.Contains(t, fresh, "account has been created")

	returning, err := r.MagicLink(MagicLinkData{Link: "https://x/y", DisplayName: "carol", IsNewUser: false})
	require.NoError(t, err)
	assert.NotContains(t, returning, "account has been created")
	assert.Contains(t, returning, "Your sign-in link")
}

func TestRenderer_EscapesHostileNames(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	html, err := r.Verification(LinkData{
		Link:        "https://x/y",
		DisplayName: "<script>alert(1)</script>",
	})
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
}

func TestDisplayNameFromEmail(t *testing.T) {
	assert.Equal(t, "alice", DisplayNameFromEmail("alice@example.com"))
	assert.Equal(t, "there", DisplayNameFromEmail("not-an-email"))
	assert.Equal(t, "there", DisplayNameFromEmail("@example.com"))
}
