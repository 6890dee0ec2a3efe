// Package template renders the transactional mail bodies. Templates are
// compiled once at startup and are safe for concurrent rendering.
package template

import (
	"fmt"
	"html/template"
	"strings"
)

// LinkData feeds the verification and reset templates.
type LinkData struct {
	Link        string
	DisplayName string
}

// MagicLinkData additionally distinguishes a freshly created account, which
// changes the greeting and the security notice.
type MagicLinkData struct {
	Link        string
	DisplayName string
	IsNewUser   bool
}

const verificationHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222; max-width: 560px; margin: 0 auto;">
  <h2>Verify your email address</h2>
  <p>Hi {{.DisplayName}},</p>
  <p>Thanks for signing up. Please confirm your email address by clicking the button below. The link is valid for 24 hours.</p>
  <p><a href="{{.Link}}" style="display: inline-block; padding: 12px 24px; background: #2563eb; color: #fff; text-decoration: none; border-radius: 6px;">Verify email</a></p>
  <p>If the button does not work, copy this address into your browser:<br>{{.Link}}</p>
  <p>If you did not create an account, you can ignore this message.</p>
</body>
</html>`

const resetHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222; max-width: 560px; margin: 0 auto;">
  <h2>Reset your password</h2>
  <p>Hi {{.DisplayName}},</p>
  <p>We received a request to reset your password. The link below is valid for one hour and can be used once.</p>
  <p><a href="{{.Link}}" style="display: inline-block; padding: 12px 24px; background: #2563eb; color: #fff; text-decoration: none; border-radius: 6px;">Choose a new password</a></p>
  <p>If the button does not work, copy this address into your browser:<br>{{.Link}}</p>
  <p>If you did not request a reset, no action is needed; your password is unchanged.</p>
</body>
</html>`

const magicLinkHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222; max-width: 560px; margin: 0 auto;">
  {{if .IsNewUser}}<h2>Welcome!</h2>
  <p>Hi {{.DisplayName}},</p>
  <p>An account has been created for this address. Click the button below to sign in; no password needed. The link is valid for 15 minutes and can be used once.</p>
  {{else}}<h2>Your sign-in link</h2>
  <p>Hi {{.DisplayName}},</p>
  <p>Click the button below to sign in. The link is valid for 15 minutes and can be used once.</p>
  {{end}}<p><a href="{{.Link}}" style="display: inline-block; padding: 12px 24px; background: #2563eb; color: #fff; text-decoration: none; border-radius: 6px;">Sign in</a></p>
  <p>If the button does not work, copy this address into your browser:<br>{{.Link}}</p>
  {{if .IsNewUser}}<p>If you did not request this, you can ignore the message and the account will stay unverified.</p>
  {{else}}<p>If you did not request this link, someone may have typed your address by mistake. Your account is safe as long as the link stays private.</p>
  {{end}}</body>
</html>`

// Renderer holds the compiled mail templates.
type Renderer struct {
	verification *template.Template
	reset        *template.Template
	magicLink    *template.Template
}

// NewRenderer compiles the built-in templates.
func NewRenderer() (*Renderer, error) {
	verification, err := template.New("verification").Parse(verificationHTML)
	if err != nil {
		return nil, fmt.Errorf("parse verification template: %w", err)
	}

	reset, err := template.New("reset").Parse(resetHTML)
	if err != nil {
		return nil, fmt.Errorf("parse reset template: %w", err)
	}

	magicLink, err := template.New("magicLink").Parse(magicLinkHTML)
	if err != nil {
		return nil, fmt.Errorf("parse magic link template: %w", err)
	}

	return &Renderer{
		verification: verification,
		reset:        reset,
		magicLink:    magicLink,
	}, nil
}

// Verification renders the email verification body.
func (r *Renderer) Verification(data LinkData) (string, error) {
	return render(r.verification, data)
}

// Reset renders the password reset body.
func (r *Renderer) Reset(data LinkData) (string, error) {
	return render(r.reset, data)
}

// MagicLink renders the magic-link body.
func (r *Renderer) MagicLink(data MagicLinkData) (string, error) {
	return render(r.magicLink, data)
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", t.Name(), err)
	}
	return b.String(), nil
}

// DisplayNameFromEmail derives a greeting name from the address local part.
func DisplayNameFromEmail(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found || local == "" {
		return "there"
	}
	return local
}
