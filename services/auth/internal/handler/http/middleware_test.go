package http

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIP_HeaderPrecedence(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4321"

	// Socket address is the fallback.
	assert.Equal(t, "10.0.0.1", clientIP(req))

	// X-Real-IP beats the socket.
	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", clientIP(req))

	// X-Forwarded-For's first hop beats everything.
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 198.51.100.4, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))

	// A single-entry forwarded header works too.
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}

func TestCookieWriter_DevelopmentVsProduction(t *testing.T) {
	expires := time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC)

	rec := httptest.NewRecorder()
	newCookieWriter("jid", true).set(rec, "refresh-value", expires)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	dev := cookies[0]
	assert.Equal(t, "jid", dev.Name)
	assert.Equal(t, "refresh-value", dev.Value)
	assert.Equal(t, "/", dev.Path)
	assert.True(t, dev.HttpOnly)
	assert.False(t, dev.Secure)
	assert.Equal(t, http.SameSiteLaxMode, dev.SameSite)

	rec = httptest.NewRecorder()
	newCookieWriter("jid", false).set(rec, "refresh-value", expires)

	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	prod := cookies[0]
	assert.True(t, prod.Secure)
	assert.Equal(t, http.SameSiteNoneMode, prod.SameSite)
}

func TestCookieWriter_ClearExpiresImmediately(t *testing.T) {
	rec := httptest.NewRecorder()
	newCookieWriter("jid", true).clear(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestCookieWriter_Read(t *testing.T) {
	cw := newCookieWriter("jid", true)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	assert.Empty(t, cw.read(req))

	req.AddCookie(&http.Cookie{Name: "jid", Value: "refresh-value"})
	assert.Equal(t, "refresh-value", cw.read(req))
}

func TestContentTypeJSON(t *testing.T) {
	handler := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@b.c"}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@b.c"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Bodyless requests pass without a content type.
	req = httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthHandler_RejectsBadBodiesBeforeTouchingServices(t *testing.T) {
	h := NewAuthHandler(nil, newCookieWriter("jid", true), newNopLogger())

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email":`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Valid JSON, invalid fields.
	req = httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email":"nope","password":"short"}`))
	rec = httptest.NewRecorder()
	h.Register(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestRefresh_MissingCookie(t *testing.T) {
	h := NewAuthHandler(nil, newCookieWriter("jid", true), newNopLogger())

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	rec := httptest.NewRecorder()
	h.Refresh(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "REFRESH_MISSING")
}

func newNopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
