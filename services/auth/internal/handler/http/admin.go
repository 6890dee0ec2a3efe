package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/karaca/identity/pkg/httputil"
	"github.com/karaca/identity/pkg/middleware"
	"github.com/karaca/identity/pkg/pagination"
	"github.com/karaca/identity/pkg/validator"
	"github.com/karaca/identity/services/auth/internal/service"
)

// AdminHandler handles HTTP requests for the admin user-management surface.
type AdminHandler struct {
	auth   *service.AuthService
	gdpr   *service.GdprService
	logger *slog.Logger
}

// NewAdminHandler creates a new admin HTTP handler.
func NewAdminHandler(auth *service.AuthService, gdpr *service.GdprService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{auth: auth, gdpr: gdpr, logger: logger}
}

// ChangeRoleRequest is the JSON request body for a role change.
type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=USER ADMIN"`
}

// DeleteAllUsersRequest is the JSON request body for the full wipe.
type DeleteAllUsersRequest struct {
	Confirmation string `json:"confirmation" validate:"required"`
}

// ListUsers handles GET /auth/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)

	users, total, err := h.auth.ListUsers(r.Context(), params.Page, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(users, total, params.Page, params.PerPage))
}

// GetUser handles GET /auth/admin/users/{id}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	user, err := h.auth.GetUser(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]any{"user": user},
	})
}

// ChangeRole handles PATCH /auth/admin/users/{id}/role
func (h *AdminHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req ChangeRoleRequest
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

	adminID := middleware.UserIDFromContext(r.Context())

	summary, err := h.auth.ChangeRole(r.Context(), id.String(), req.Role, adminID, requestContext(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]any{"user": summary},
	})
}

// DeleteUser handles DELETE /auth/admin/users/{id}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	adminID := middleware.UserIDFromContext(r.Context())

	if err := h.auth.DeleteUser(r.Context(), id.String(), adminID, requestContext(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": "user deleted"},
	})
}

// PermanentDelete handles DELETE /auth/admin/users/{id}/permanent
func (h *AdminHandler) PermanentDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	adminID := middleware.UserIDFromContext(r.Context())

	if err := h.gdpr.PermanentDelete(r.Context(), id.String(), adminID, requestContext(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": "user permanently deleted"},
	})
}

// DeleteAllNonAdmins handles DELETE /auth/admin/users
func (h *AdminHandler) DeleteAllNonAdmins(w http.ResponseWriter, r *http.Request) {
	adminID := middleware.UserIDFromContext(r.Context())

	count, err := h.auth.DeleteAllNonAdmins(r.Context(), adminID, requestContext(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]any{"deletedCount": count},
	})
}

// DeleteAllUsers handles POST /auth/admin/users/delete-all
func (h *AdminHandler) DeleteAllUsers(w http.ResponseWriter, r *http.Request) {
	var req DeleteAllUsersRequest
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

	adminID := middleware.UserIDFromContext(r.Context())

	count, err := h.auth.DeleteAllUsers(r.Context(), req.Confirmation, adminID, requestContext(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]any{"deletedCount": count},
	})
}
