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

// GdprHandler handles HTTP requests for the GDPR surface.
type GdprHandler struct {
	gdpr   *service.GdprService
	logger *slog.Logger
}

// NewGdprHandler creates a new GDPR HTTP handler.
func NewGdprHandler(gdpr *service.GdprService, logger *slog.Logger) *GdprHandler {
	return &GdprHandler{gdpr: gdpr, logger: logger}
}

// AnonymizeRequest is the JSON request body for self-service anonymization.
type AnonymizeRequest struct {
	Confirmation string `json:"confirmation" validate:"required"`
	Password     string `json:"password" validate:"required"`
}

// UpdateEmailRequest is the JSON request body for changing the account email.
type UpdateEmailRequest struct {
	NewEmail string `json:"newEmail" validate:"required,email"`
}

// Export handles GET /auth/gdpr/export and returns the document as a JSON
// attachment.
func (h *GdprHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	doc, err := h.gdpr.ExportData(r.Context(), userID, requestContext(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="identity-export.json"`)
	httputil.WriteJSON(w, http.StatusOK, doc)
}

// Anonymize handles POST /auth/gdpr/anonymize
func (h *GdprHandler) Anonymize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req AnonymizeRequest
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

	userID := middleware.UserIDFromContext(r.Context())

	if err := h.gdpr.Anonymize(r.Context(), userID, req.Password, req.Confirmation, requestContext(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": "account anonymized"},
	})
}

// UpdateEmail handles PATCH /auth/gdpr/update-email
func (h *GdprHandler) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req UpdateEmailRequest
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

	userID := middleware.UserIDFromContext(r.Context())

	summary, err := h.gdpr.UpdateEmail(r.Context(), userID, req.NewEmail, requestContext(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]any{
			"user":    summary,
			"message": "verification email sent to the new address",
		},
	})
}
