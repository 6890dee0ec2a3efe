package http

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/karaca/identity/services/auth/internal/domain"
)

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 {
			ct := r.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "application/json") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requestContext extracts the client-facing metadata services record. The
// client IP comes from X-Forwarded-For (first hop), then X-Real-IP, then the
// socket address.
func requestContext(r *http.Request) domain.RequestContext {
	return domain.RequestContext{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}

	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cookieWriter issues and clears the HTTP-only refresh cookie. SameSite is
// Lax in development and None+Secure everywhere else, so the cookie flows
// from a cross-origin SPA in production.
type cookieWriter struct {
	name        string
	development bool
}

func newCookieWriter(name string, development bool) cookieWriter {
	return cookieWriter{name: name, development: development}
}

func (c cookieWriter) set(w http.ResponseWriter, refreshToken string, expiresAt time.Time) {
	cookie := &http.Cookie{
		Name:     c.name,
		Value:    refreshToken,
		Path:     "/",
		HttpOnly: true,
		Expires:  expiresAt,
	}

	if c.development {
		cookie.SameSite = http.SameSiteLaxMode
	} else {
		cookie.SameSite = http.SameSiteNoneMode
		cookie.Secure = true
	}

	http.SetCookie(w, cookie)
}

func (c cookieWriter) clear(w http.ResponseWriter) {
	cookie := &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	}

	if c.development {
		cookie.SameSite = http.SameSiteLaxMode
	} else {
		cookie.SameSite = http.SameSiteNoneMode
		cookie.Secure = true
	}

	http.SetCookie(w, cookie)
}

// read returns the refresh token carried by the cookie, or "".
func (c cookieWriter) read(r *http.Request) string {
	cookie, err := r.Cookie(c.name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
