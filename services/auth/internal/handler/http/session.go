package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/karaca/identity/pkg/httputil"
	"github.com/karaca/identity/pkg/middleware"
	"github.com/karaca/identity/services/auth/internal/service"
)

// SessionHandler handles HTTP requests for session management.
type SessionHandler struct {
	registry *service.SessionRegistry
	cookies  cookieWriter
	logger   *slog.Logger
}

// NewSessionHandler creates a new session HTTP handler.
func NewSessionHandler(registry *service.SessionRegistry, cookies cookieWriter, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{registry: registry, cookies: cookies, logger: logger}
}

// List handles GET /auth/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	sessions, err := h.registry.ListActive(r.Context(), userID, h.cookies.read(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]any{"sessions": sessions},
	})
}

// Revoke handles DELETE /auth/sessions/{id}
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	sessionID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.registry.Revoke(r.Context(), sessionID.String(), userID, requestContext(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": "session revoked"},
	})
}

// LogoutOtherDevices handles POST /auth/sessions/logout-other-devices
func (h *SessionHandler) LogoutOtherDevices(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	current := h.cookies.read(r)
	if current == "" {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "REFRESH_MISSING", Message: "refresh token missing"},
		})
		return
	}

	revoked, err := h.registry.RevokeAllOther(r.Context(), userID, current, requestContext(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]any{"revokedCount": revoked},
	})
}

// LogoutAllDevices handles POST /auth/sessions/logout-all-devices
func (h *SessionHandler) LogoutAllDevices(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	revoked, err := h.registry.RevokeAll(r.Context(), userID, requestContext(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.clear(w)

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]any{"revokedCount": revoked},
	})
}
