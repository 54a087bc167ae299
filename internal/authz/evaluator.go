// Package authz evaluates permissions over already-verified access claims.
// Every function here is pure: no I/O, no lookups, no suspension. Denial is a
// value, never an error; callers decide the user-visible consequence.
package authz

import (
	"slices"

	"github.com/google/uuid"

	"github.com/schedulo/access-control/internal/models"
)

// HasPermission reports whether the claims carry the named permission. The
// access token embeds the union of permissions across the user's roles, so
// membership in that set is the whole check.
func HasPermission(uc *models.UserContext, permission string) bool {
	if uc == nil {
		return false
	}
	return slices.Contains(uc.Permissions, permission)
}

// HasAnyPermission reports whether the claims carry at least one of the named
// permissions.
func HasAnyPermission(uc *models.UserContext, permissions ...string) bool {
	for _, p := range permissions {
		if HasPermission(uc, p) {
			return true
		}
	}
	return false
}

// IsSuperAdmin reports whether the claims carry the platform SUPER_ADMIN role
func IsSuperAdmin(uc *models.UserContext) bool {
	if uc == nil {
		return false
	}
	return slices.Contains(uc.Roles, models.RoleSuperAdmin)
}

// CanAccessTenant reports whether the claims may act on the given tenant's
// resources. Every check is scoped to the caller's own tenant; SUPER_ADMIN is
// the single designed exception to tenant isolation and is authorized across
// all tenants.
func CanAccessTenant(uc *models.UserContext, tenantID uuid.UUID) bool {
	if uc == nil {
		return false
	}
	if IsSuperAdmin(uc) {
		return true
	}
	return uc.TenantID == tenantID
}
