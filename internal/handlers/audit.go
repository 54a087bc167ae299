package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/schedulo/access-control/internal/middleware"
	"github.com/schedulo/access-control/internal/models"
)

// AuditReader lists audit events for a tenant
type AuditReader interface {
	GetByTenantID(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// AuditHandler exposes the tenant's security event log
type AuditHandler struct {
	audits AuditReader
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(audits AuditReader) *AuditHandler {
	return &AuditHandler{audits: audits}
}

// List handles GET /api/v1/audit, scoped to the caller's tenant
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	uc, ok := middleware.GetUserContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing authentication", Reason: "TokenExpired"})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	logs, err := h.audits.GetByTenantID(r.Context(), uc.TenantID, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list audit logs")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list audit logs"})
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
