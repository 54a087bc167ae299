package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/schedulo/access-control/internal/cache"
	"github.com/schedulo/access-control/internal/middleware"
	"github.com/schedulo/access-control/internal/models"
	"github.com/schedulo/access-control/internal/ratelimit"
	"github.com/schedulo/access-control/internal/security"
	"github.com/schedulo/access-control/internal/services"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users []*models.User
}

func (r *fakeUserRepo) FindByEmail(ctx context.Context, email string) ([]models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.User
	for _, u := range r.users {
		if u.Email == email {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

type fakeSessionRepo struct {
	mu sync.Mutex
	m  map[uuid.UUID]*models.Session
}

func (r *fakeSessionRepo) Create(ctx context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.CreatedAt = time.Now().UTC()
	r.m[s.ID] = &cp
	return nil
}

func (r *fakeSessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) Rotate(ctx context.Context, id uuid.UUID, oldFP, newFP string, exp time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok || s.RevokedAt != nil || s.RefreshFingerprint != oldFP {
		return false, nil
	}
	s.RefreshFingerprint = newFP
	s.ExpiresAt = exp
	return true, nil
}

func (r *fakeSessionRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok && s.RevokedAt == nil {
		now := time.Now().UTC()
		s.RevokedAt = &now
	}
	return nil
}

func (r *fakeSessionRepo) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, s := range r.m {
		if s.UserID == userID && s.RevokedAt == nil {
			at := now
			s.RevokedAt = &at
		}
	}
	return nil
}

func (r *fakeSessionRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Session
	for _, s := range r.m {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

type fakeAuditRepo struct{}

func (fakeAuditRepo) Create(ctx context.Context, entry *models.AuditLog) error { return nil }

// newAuthRouter wires the auth handler behind the same route layout the
// server uses, backed by in-memory stores.
func newAuthRouter(t *testing.T, maxAttempts int64) *chi.Mux {
	t.Helper()
	key, err := security.GenerateEphemeralKey()
	if err != nil {
		t.Fatalf("GenerateEphemeralKey: %v", err)
	}
	tokens := security.NewTokenProvider(key, "test", 15*time.Minute, time.Hour)
	hasher := security.NewHasher(4)

	hash, err := hasher.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	user := &models.User{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		Email:        "admin@acme.test",
		PasswordHash: hash,
		IsActive:     true,
	}

	svc := services.NewAuthService(
		&fakeUserRepo{users: []*models.User{user}},
		&fakeSessionRepo{m: make(map[uuid.UUID]*models.Session)},
		fakeAuditRepo{},
		tokens,
		hasher,
		ratelimit.NewLoginLimiter(cache.NewMemoryCache(), maxAttempts, time.Minute),
		false,
	)
	h := NewAuthHandler(svc)

	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticator(svc))
			r.Post("/logout", h.Logout)
			r.Post("/logout-all", h.LogoutAll)
			r.Get("/sessions", h.ListSessions)
			r.Delete("/sessions/{id}", h.RevokeSession)
		})
	})
	return r
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, router http.Handler, email, password string) (*httptest.ResponseRecorder, tokenResponse) {
	t.Helper()
	rec := postJSON(t, router, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	var body tokenResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode login response: %v", err)
		}
	}
	return rec, body
}

func TestLoginEndpoint(t *testing.T) {
	router := newAuthRouter(t, 5)

	rec, body := login(t, router, "admin@acme.test", "correct-horse")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d, body %s", rec.Code, rec.Body.String())
	}
	if body.AccessToken == "" || body.RefreshToken == "" {
		t.Fatal("expected both tokens in response")
	}
	if body.User == nil || body.User.Email != "admin@acme.test" {
		t.Errorf("expected user summary, got %+v", body.User)
	}
}

func TestLoginEndpointInvalidCredentials(t *testing.T) {
	router := newAuthRouter(t, 5)

	rec, _ := login(t, router, "admin@acme.test", "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
	var resp errorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Reason != "InvalidCredentials" {
		t.Errorf("reason = %q, want InvalidCredentials", resp.Reason)
	}
}

func TestLoginEndpointRateLimited(t *testing.T) {
	router := newAuthRouter(t, 3)

	for i := 0; i < 3; i++ {
		login(t, router, "admin@acme.test", "wrong")
	}
	rec, _ := login(t, router, "admin@acme.test", "correct-horse")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	var resp errorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Reason != "TooManyAttempts" {
		t.Errorf("reason = %q, want TooManyAttempts", resp.Reason)
	}
	if resp.RemainingAttempts == nil || *resp.RemainingAttempts != 0 {
		t.Errorf("remaining_attempts = %v, want 0", resp.RemainingAttempts)
	}
}

func TestRefreshEndpointRotatesAndDetectsReplay(t *testing.T) {
	router := newAuthRouter(t, 5)
	_, first := login(t, router, "admin@acme.test", "correct-horse")

	rec := postJSON(t, router, "/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d, body %s", rec.Code, rec.Body.String())
	}
	var rotated tokenResponse
	json.Unmarshal(rec.Body.Bytes(), &rotated)
	if rotated.RefreshToken == first.RefreshToken {
		t.Error("refresh token did not rotate")
	}

	// Replaying the consumed token is rejected with its own reason code.
	rec = postJSON(t, router, "/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay: status %d, want 401", rec.Code)
	}
	var resp errorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Reason != "TokenReplayDetected" {
		t.Errorf("reason = %q, want TokenReplayDetected", resp.Reason)
	}
}

func TestSessionEndpoints(t *testing.T) {
	router := newAuthRouter(t, 5)
	_, laptop := login(t, router, "admin@acme.test", "correct-horse")
	_, phone := login(t, router, "admin@acme.test", "correct-horse")

	req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+phone.AccessToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions: status %d, body %s", rec.Code, rec.Body.String())
	}
	var sessions []models.SessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	currents := 0
	var laptopSession uuid.UUID
	for _, s := range sessions {
		if s.Current {
			currents++
		} else {
			laptopSession = s.ID
		}
	}
	if currents != 1 {
		t.Errorf("exactly one session must be flagged current, got %d", currents)
	}

	// Revoke the other session; repeating the call stays 204.
	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/auth/sessions/%s", laptopSession), nil)
		req.Header.Set("Authorization", "Bearer "+phone.AccessToken)
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("revoke attempt %d: status %d, want 204", i+1, rec.Code)
		}
	}

	// The revoked session's refresh token is dead.
	rec = postJSON(t, router, "/auth/refresh", map[string]string{"refresh_token": laptop.RefreshToken}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("revoked session refresh: status %d, want 401", rec.Code)
	}
}

func TestLogoutEndpoint(t *testing.T) {
	router := newAuthRouter(t, 5)
	_, tokens := login(t, router, "admin@acme.test", "correct-horse")

	rec := postJSON(t, router, "/auth/logout", struct{}{}, tokens.AccessToken)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: status %d, body %s", rec.Code, rec.Body.String())
	}

	// The access token still verifies until it expires, but the refresh
	// token is gone with the session.
	rec = postJSON(t, router, "/auth/refresh", map[string]string{"refresh_token": tokens.RefreshToken}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("post-logout refresh: status %d, want 401", rec.Code)
	}
}

func TestAuthenticatedEndpointsRejectMissingToken(t *testing.T) {
	router := newAuthRouter(t, 5)

	req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status %d, want 401", rec.Code)
	}
}
