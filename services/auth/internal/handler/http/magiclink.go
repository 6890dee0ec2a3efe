package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/karaca/identity/pkg/httputil"
	"github.com/karaca/identity/pkg/validator"
	"github.com/karaca/identity/services/auth/internal/service"
)

// MagicLinkHandler handles HTTP requests for the passwordless flow.
type MagicLinkHandler struct {
	magicLink *service.MagicLinkService
	cookies   cookieWriter
	logger    *slog.Logger
}

// NewMagicLinkHandler creates a new magic-link HTTP handler.
func NewMagicLinkHandler(magicLink *service.MagicLinkService, cookies cookieWriter, logger *slog.Logger) *MagicLinkHandler {
	return &MagicLinkHandler{magicLink: magicLink, cookies: cookies, logger: logger}
}

// MagicLinkRequestBody is the JSON request body for requesting a magic link.
type MagicLinkRequestBody struct {
	Email string `json:"email" validate:"required,email"`
}

// MagicLinkVerifyBody is the JSON request body for redeeming a magic link.
type MagicLinkVerifyBody struct {
	Token string `json:"token" validate:"required"`
}

// Request handles POST /auth/magic-link/request. The response is identical
// for known and unknown addresses.
func (h *MagicLinkHandler) Request(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req MagicLinkRequestBody
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

	message, err := h.magicLink.Request(r.Context(), req.Email, requestContext(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": message},
	})
}

// Verify handles POST /auth/magic-link/verify
func (h *MagicLinkHandler) Verify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req MagicLinkVerifyBody
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

	result, err := h.magicLink.Redeem(r.Context(), req.Token, requestContext(r))
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
