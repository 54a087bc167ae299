package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/schedulo/access-control/internal/models"
)

func authorizedRequest(uc *models.UserContext) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if uc != nil {
		req = req.WithContext(WithUserContext(req.Context(), uc))
	}
	return req
}

func runRequirePermission(t *testing.T, operation string, uc *models.UserContext) int {
	t.Helper()
	called := false
	handler := RequirePermission(operation)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authorizedRequest(uc))
	if called != (rec.Code == http.StatusOK) {
		t.Errorf("handler called=%v with status %d", called, rec.Code)
	}
	return rec.Code
}

func TestRequirePermission(t *testing.T) {
	reporter := &models.UserContext{
		UserID:      uuid.New(),
		TenantID:    uuid.New(),
		Permissions: []string{models.PermViewReports},
	}
	booker := &models.UserContext{
		UserID:      uuid.New(),
		TenantID:    uuid.New(),
		Permissions: []string{models.PermManageBookings},
	}

	if code := runRequirePermission(t, "entitlements.view", reporter); code != http.StatusOK {
		t.Errorf("VIEW_REPORTS on entitlements.view: status %d, want 200", code)
	}
	if code := runRequirePermission(t, "entitlements.view", booker); code != http.StatusForbidden {
		t.Errorf("MANAGE_BOOKINGS on entitlements.view: status %d, want 403", code)
	}
	if code := runRequirePermission(t, "admission.check.booking", booker); code != http.StatusOK {
		t.Errorf("MANAGE_BOOKINGS on admission.check.booking: status %d, want 200", code)
	}
}

func TestRequirePermissionUnknownOperationDenies(t *testing.T) {
	uc := &models.UserContext{
		UserID:      uuid.New(),
		Permissions: []string{models.PermViewReports, models.PermManageUsers},
	}
	if code := runRequirePermission(t, "no.such.operation", uc); code != http.StatusForbidden {
		t.Errorf("unknown operation: status %d, want 403", code)
	}
}

func TestRequirePermissionMissingClaims(t *testing.T) {
	if code := runRequirePermission(t, "entitlements.view", nil); code != http.StatusUnauthorized {
		t.Errorf("no claims: status %d, want 401", code)
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		if got := bearerToken(req); got != tc.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}
