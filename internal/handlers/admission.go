package handlers

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/schedulo/access-control/internal/authz"
	"github.com/schedulo/access-control/internal/middleware"
	"github.com/schedulo/access-control/internal/models"
	"github.com/schedulo/access-control/internal/services"
)

// AdmissionHandler exposes the admission gate's decisions to the rest of the
// platform: the scheduling, staff, and catalog subsystems call it before
// creating quota-bound resources.
type AdmissionHandler struct {
	admissionService *services.AdmissionService
}

// NewAdmissionHandler creates a new admission handler
func NewAdmissionHandler(admissionService *services.AdmissionService) *AdmissionHandler {
	return &AdmissionHandler{admissionService: admissionService}
}

type admissionCheckRequest struct {
	ResourceKind models.ResourceKind `json:"resource_kind"`
	// TenantID is honored only for SUPER_ADMIN callers; everyone else is
	// scoped to their own tenant.
	TenantID *uuid.UUID `json:"tenant_id,omitempty"`
}

// Check handles POST /api/v1/admission/check. Denial is a 200 with
// allowed=false: the gate answered; the caller decides what to surface.
func (h *AdmissionHandler) Check(w http.ResponseWriter, r *http.Request) {
	uc, ok := middleware.GetUserContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing authentication", Reason: "TokenExpired"})
		return
	}

	var req admissionCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if !slices.Contains(models.QuotaBoundKinds, req.ResourceKind) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown resource kind"})
		return
	}

	// Creating a kind requires the matching manage permission; the
	// operation table is the single source of truth for which.
	required := middleware.OperationPermissions["admission.check."+string(req.ResourceKind)]
	if !authz.HasAnyPermission(uc, required...) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden", Reason: "PermissionDenied"})
		return
	}

	tenantID := uc.TenantID
	if req.TenantID != nil {
		tenantID = *req.TenantID
	}
	if !authz.CanAccessTenant(uc, tenantID) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden", Reason: "PermissionDenied"})
		return
	}

	decision, err := h.admissionService.CanCreate(r.Context(), tenantID, req.ResourceKind)
	if err != nil {
		// Fail closed: an unanswerable gate denies the create.
		log.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("Admission check failed")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "usage check unavailable; creation denied"})
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// Entitlements handles GET /api/v1/entitlements: the tenant's usage versus
// plan limits for every quota-bound kind, for dashboard display.
func (h *AdmissionHandler) Entitlements(w http.ResponseWriter, r *http.Request) {
	uc, ok := middleware.GetUserContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing authentication", Reason: "TokenExpired"})
		return
	}

	entitlements, err := h.admissionService.Entitlements(r.Context(), uc.TenantID)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", uc.TenantID.String()).Msg("Failed to compute entitlements")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to compute entitlements"})
		return
	}
	writeJSON(w, http.StatusOK, entitlements)
}
