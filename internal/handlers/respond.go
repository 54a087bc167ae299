package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/schedulo/access-control/internal/services"
)

// errorResponse is the uniform error body: a human-readable message plus a
// machine-readable reason code clients branch on.
type errorResponse struct {
	Error             string `json:"error"`
	Reason            string `json:"reason,omitempty"`
	RemainingAttempts *int64 `json:"remaining_attempts,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeServiceError maps service sentinel errors to wire status + reason.
// Authentication failures are 401 and terminal for the session; permission
// and quota denials are 403 and terminal for the action only. Anything
// unmapped is a 500 with no detail leaked.
func writeServiceError(w http.ResponseWriter, err error) {
	var zero int64
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials", Reason: "InvalidCredentials"})
	case errors.Is(err, services.ErrAccountInactive):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "account is inactive", Reason: "AccountInactive"})
	case errors.Is(err, services.ErrTooManyAttempts):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:             "too many failed login attempts",
			Reason:            "TooManyAttempts",
			RemainingAttempts: &zero,
		})
	case errors.Is(err, services.ErrTokenExpired):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "token expired or invalid", Reason: "TokenExpired"})
	case errors.Is(err, services.ErrTokenReplayDetected):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "refresh token already used", Reason: "TokenReplayDetected"})
	case errors.Is(err, services.ErrSessionRevoked):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "session revoked", Reason: "SessionRevoked"})
	case errors.Is(err, services.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden", Reason: "PermissionDenied"})
	case errors.Is(err, services.ErrSubscriptionInactive):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "subscription inactive", Reason: "SubscriptionInactive"})
	case errors.Is(err, services.ErrQuotaExceeded):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "plan limit reached", Reason: "LimitReached"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}
