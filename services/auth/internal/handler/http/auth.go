package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/karaca/identity/pkg/httputil"
	"github.com/karaca/identity/pkg/middleware"
	"github.com/karaca/identity/pkg/validator"
	"github.com/karaca/identity/services/auth/internal/service"
)

// maxBodyBytes caps request bodies on the auth endpoints.
const maxBodyBytes = 1 << 20 // 1MB

// AuthHandler handles HTTP requests for the credential endpoints.
type AuthHandler struct {
	auth    *service.AuthService
	cookies cookieWriter
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(auth *service.AuthService, cookies cookieWriter, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, cookies: cookies, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for user registration.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Role     string `json:"role" validate:"omitempty,oneof=USER ADMIN"`
}

// LoginRequest is the JSON request body for user login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// --- Response DTOs ---

// AuthResponse carries the access token and the user's public profile. The
// refresh token travels only in the HTTP-only cookie.
type AuthResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   string `json:"expiresAt"`
	User        any    `json:"user"`
}

// --- Handlers ---

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	summary, err := h.auth.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	}, requestContext(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{
		Data: map[string]any{"user": summary},
	})
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password, requestContext(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.set(w, result.Tokens.RefreshToken, result.Tokens.RefreshExpiresAt)

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: AuthResponse{
			AccessToken: result.Tokens.AccessToken,
			ExpiresAt:   result.Tokens.ExpiresAt.Format(timeFormat),
			User:        result.User,
		},
	})
}

// Refresh handles POST /auth/refresh. The refresh token arrives in the
// HTTP-only cookie and is rotated on every use.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := h.cookies.read(r)
	if refreshToken == "" {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "REFRESH_MISSING", Message: "refresh token missing"},
		})
		return
	}

	result, err := h.auth.Refresh(r.Context(), refreshToken, requestContext(r))
	if err != nil {
		h.cookies.clear(w)
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.set(w, result.Tokens.RefreshToken, result.Tokens.RefreshExpiresAt)

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: AuthResponse{
			AccessToken: result.Tokens.AccessToken,
			ExpiresAt:   result.Tokens.ExpiresAt.Format(timeFormat),
			User:        result.User,
		},
	})
}

// Logout handles POST /auth/logout. Always succeeds and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	refreshToken := h.cookies.read(r)

	if err := h.auth.Logout(r.Context(), refreshToken, requestContext(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.clear(w)

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": "logged out"},
	})
}

// Profile handles GET /auth/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.GetProfile(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]any{"user": user},
	})
}

// timeFormat renders expiry instants in RFC 3339.
const timeFormat = "2006-01-02T15:04:05Z07:00"
