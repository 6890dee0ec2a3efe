package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/karaca/identity/pkg/httputil"
	"github.com/karaca/identity/pkg/middleware"
	"github.com/karaca/identity/pkg/pagination"
	"github.com/karaca/identity/pkg/validator"
	"github.com/karaca/identity/services/auth/internal/domain"
	"github.com/karaca/identity/services/auth/internal/service"
)

// AuditHandler serves the audit queries plus the internal append endpoint the
// email service posts to.
type AuditHandler struct {
	audit  *service.AuditRecorder
	logger *slog.Logger
}

// NewAuditHandler creates a new audit HTTP handler.
func NewAuditHandler(audit *service.AuditRecorder, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// Me handles GET /auth/audit/me
func (h *AuditHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	params := pagination.FromRequest(r)

	logs, total, err := h.audit.ListForUser(r.Context(), userID, params.Page, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(logs, total, params.Page, params.PerPage))
}

// AdminQuery handles GET /auth/admin/audit with filters
// {userId, action, success, from, to} and offset pagination.
func (h *AuditHandler) AdminQuery(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	q := r.URL.Query()

	filter := domain.AuditFilter{
		UserID: q.Get("userId"),
		Action: q.Get("action"),
	}

	if success := q.Get("success"); success != "" {
		v := success == "true"
		filter.Success = &v
	}

	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			httputil.WriteValidationError(w, err)
			return
		}
		filter.From = t
	}

	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			httputil.WriteValidationError(w, err)
			return
		}
		filter.To = t
	}

	logs, total, err := h.audit.Query(r.Context(), filter, params.Page, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(logs, total, params.Page, params.PerPage))
}

// InternalAppendRequest is the payload peer services post to append an audit
// row.
type InternalAppendRequest struct {
	UserID       string         `json:"userId" validate:"omitempty,uuid"`
	PerformedBy  string         `json:"performedBy" validate:"omitempty,uuid"`
	Action       string         `json:"action" validate:"required"`
	Resource     string         `json:"resource"`
	IPAddress    string         `json:"ipAddress"`
	UserAgent    string         `json:"userAgent"`
	Metadata     map[string]any `json:"metadata"`
	Success      *bool          `json:"success"`
	ErrorMessage string         `json:"errorMessage"`
}

// InternalAppend handles POST /auth/internal/audit-log. Reachable only from
// the private network (CIDR allowlist / shared secret middleware).
func (h *AuditHandler) InternalAppend(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req InternalAppendRequest
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

	if !domain.IsValidAuditAction(req.Action) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "unknown audit action"},
		})
		return
	}

	success := true
	if req.Success != nil {
		success = *req.Success
	}

	h.audit.Record(r.Context(), service.Entry{
		UserID:       req.UserID,
		PerformedBy:  req.PerformedBy,
		Action:       req.Action,
		Resource:     req.Resource,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
		Metadata:     req.Metadata,
		Success:      success,
		ErrorMessage: req.ErrorMessage,
	})

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{
		Data: map[string]string{"message": "audit log appended"},
	})
}
