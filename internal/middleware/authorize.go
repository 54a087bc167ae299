package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/schedulo/access-control/internal/authz"
	"github.com/schedulo/access-control/internal/models"
)

// OperationPermissions is the static table mapping operation identifiers to
// the permission names that satisfy them (any one suffices). Authorization is
// a single evaluator call at each operation's entry point consulting this
// table; routes declare their operation ID, nothing else.
var OperationPermissions = map[string][]string{
	"entitlements.view":       {models.PermViewReports},
	"audit.view":              {models.PermViewReports},
	"admission.check.user":    {models.PermManageUsers},
	"admission.check.service": {models.PermManageServices},
	"admission.check.booking": {models.PermManageBookings},
}

// RequirePermission authorizes the request against the operation's entry in
// OperationPermissions. Unknown operations deny everything: an unregistered
// operation is a programming error, not an open door.
func RequirePermission(operation string) func(http.Handler) http.Handler {
	required, known := OperationPermissions[operation]
	if !known {
		log.Error().Str("operation", operation).Msg("Operation missing from permission table")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uc, ok := GetUserContext(r.Context())
			if !ok {
				writeAuthError(w, "TokenExpired", "missing authentication")
				return
			}
			if !known || !authz.HasAnyPermission(uc, required...) {
				writeForbidden(w, "PermissionDenied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeForbidden(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]string{
		"error":  "forbidden",
		"reason": reason,
	})
}
