package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/schedulo/access-control/internal/middleware"
	"github.com/schedulo/access-control/internal/services"
)

// AuthHandler exposes the session lifecycle over HTTP
type AuthHandler struct {
	authService *services.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *userSummary `json:"user,omitempty"`
}

type userSummary struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Email       string    `json:"email"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password,
		r.UserAgent(), clientIP(r))
	if err != nil {
		if errors.Is(err, services.ErrTooManyAttempts) {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfterSeconds)))
		}
		if !isAuthFailure(err) {
			log.Error().Err(err).Msg("Login failed")
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		User: &userSummary{
			ID:          result.User.ID,
			TenantID:    result.User.TenantID,
			Email:       result.User.Email,
			Roles:       result.Claims.Roles,
			Permissions: result.Claims.Permissions,
		},
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if !isAuthFailure(err) {
			log.Error().Err(err).Msg("Refresh failed")
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
	})
}

// Logout handles POST /auth/logout: revokes the session backing the current
// access token. 204 even if already revoked.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	uc, ok := middleware.GetUserContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing authentication", Reason: "TokenExpired"})
		return
	}

	if err := h.authService.Revoke(r.Context(), uc, uc.SessionID); err != nil {
		log.Error().Err(err).Msg("Logout failed")
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles POST /auth/logout-all: revokes every session of the caller
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	uc, ok := middleware.GetUserContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing authentication", Reason: "TokenExpired"})
		return
	}

	if err := h.authService.RevokeAll(r.Context(), uc, uc.UserID); err != nil {
		log.Error().Err(err).Msg("Logout-all failed")
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions handles GET /auth/sessions
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	uc, ok := middleware.GetUserContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing authentication", Reason: "TokenExpired"})
		return
	}

	sessions, err := h.authService.ListSessions(r.Context(), uc)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list sessions")
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// RevokeSession handles DELETE /auth/sessions/{id}. Idempotent 204.
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	uc, ok := middleware.GetUserContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing authentication", Reason: "TokenExpired"})
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid session ID"})
		return
	}

	if err := h.authService.Revoke(r.Context(), uc, sessionID); err != nil {
		if !errors.Is(err, services.ErrPermissionDenied) {
			log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to revoke session")
		}
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// retryAfterSeconds hints blocked clients when to retry; kept coarse so the
// header does not disclose the exact window boundary.
const retryAfterSeconds int64 = 60

func isAuthFailure(err error) bool {
	return errors.Is(err, services.ErrInvalidCredentials) ||
		errors.Is(err, services.ErrAccountInactive) ||
		errors.Is(err, services.ErrTooManyAttempts) ||
		errors.Is(err, services.ErrTokenExpired) ||
		errors.Is(err, services.ErrTokenReplayDetected) ||
		errors.Is(err, services.ErrSessionRevoked)
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from X-Forwarded-For.
	return r.RemoteAddr
}
