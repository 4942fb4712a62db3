package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newRoleContext(roles ...string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(context.Background(), "user-1", roles...))
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole_Allowed(t *testing.T) {
	c := newRoleContext("nurse")
	if err := RequireRole("nurse", "doctor")(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c := newRoleContext("lab_technician")
	err := RequireRole("reception")(okHandler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", httpErr.Code)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c := newRoleContext("admin")
	if err := RequireRole("reception")(okHandler)(c); err != nil {
		t.Fatalf("expected admin to bypass, got %v", err)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	c := newRoleContext()
	if err := RequireRole("doctor")(okHandler)(c); err == nil {
		t.Fatal("expected error without roles")
	}
}

func TestHasAnyRole(t *testing.T) {
	tests := []struct {
		granted  []string
		required []string
		want     bool
	}{
		{[]string{"doctor"}, []string{"doctor"}, true},
		{[]string{"nurse", "doctor"}, []string{"doctor"}, true},
		{[]string{"nurse"}, []string{"doctor", "reception"}, false},
		{[]string{"admin"}, []string{"lab_technician"}, true},
		{nil, []string{"nurse"}, false},
	}
	for _, tt := range tests {
		if got := HasAnyRole(tt.granted, tt.required...); got != tt.want {
			t.Errorf("HasAnyRole(%v, %v) = %v, want %v", tt.granted, tt.required, got, tt.want)
		}
	}
}
