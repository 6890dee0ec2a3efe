package http

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/karaca/identity/pkg/httputil"
	"github.com/karaca/identity/pkg/validator"
	"github.com/karaca/identity/services/email/internal/domain"
	"github.com/karaca/identity/services/email/internal/service"
)

// maxBodyBytes caps request bodies on the email endpoints.
const maxBodyBytes = 1 << 20 // 1MB

// EmailHandler handles HTTP requests for the email flows.
type EmailHandler struct {
	email  *service.EmailService
	logger *slog.Logger
}

// NewEmailHandler creates a new email HTTP handler.
func NewEmailHandler(email *service.EmailService, logger *slog.Logger) *EmailHandler {
	return &EmailHandler{email: email, logger: logger}
}

// --- Request DTOs ---

// SendVerificationRequest is posted by the auth service after registration.
type SendVerificationRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
	Email  string `json:"email" validate:"omitempty,email"`
}

// VerifyEmailRequest carries the verification token.
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// ResendVerificationRequest carries the address to re-verify.
type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ForgotPasswordRequest carries the address requesting a reset.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest carries the reset token and the new password.
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=128"`
}

// SendMagicLinkRequest is posted by the auth service with a finished link.
type SendMagicLinkRequest struct {
	UserID    string `json:"userId" validate:"required,uuid"`
	Email     string `json:"email" validate:"required,email"`
	Link      string `json:"link" validate:"required,url"`
	IsNewUser bool   `json:"isNewUser"`
}

// --- Handlers ---

// SendVerification handles POST /email/send-verification
func (h *EmailHandler) SendVerification(w http.ResponseWriter, r *http.Request) {
	var req SendVerificationRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.email.SendVerification(r.Context(), req.UserID, req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": "verification email sent"},
	})
}

// VerifyEmail handles POST /email/verify-email
func (h *EmailHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.email.VerifyEmail(r.Context(), req.Token, requestContext(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": "email verified"},
	})
}

// ResendVerification handles POST /email/resend-verification
func (h *EmailHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.email.ResendVerification(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": "verification email sent"},
	})
}

// ForgotPassword handles POST /email/forgot-password
func (h *EmailHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	message, err := h.email.SendPasswordReset(r.Context(), req.Email, requestContext(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": message},
	})
}

// ResetPassword handles POST /email/reset-password
func (h *EmailHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	message, err := h.email.ResetPassword(r.Context(), req.Token, req.NewPassword, requestContext(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": message},
	})
}

// SendMagicLink handles POST /email/send-magic-link
func (h *EmailHandler) SendMagicLink(w http.ResponseWriter, r *http.Request) {
	var req SendMagicLinkRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.email.SendMagicLink(r.Context(), req.UserID, req.Email, req.Link, req.IsNewUser); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": "magic link email sent"},
	})
}

// decode reads, decodes, and validates the request body, writing the error
// response itself when the body is bad.
func (h *EmailHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return false
	}

	if err := validator.Validate(dst); err != nil {
		httputil.WriteValidationError(w, err)
		return false
	}

	return true
}

// requestContext extracts the client-facing metadata recorded with consumed
// tokens.
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
