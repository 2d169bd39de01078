package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestActor_HasAnyRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  []string
		ok    bool
	}{
		{"exact match", []string{RoleNurse}, []string{RoleNurse, RoleDoctor}, true},
		{"no match", []string{RoleOperator}, []string{RoleNurse}, false},
		{"admin satisfies human role", []string{RoleAdmin}, []string{RoleHeadDoctor}, true},
		{"admin does not satisfy system", []string{RoleAdmin}, []string{RoleSystem}, false},
		{"system matches system", []string{RoleSystem}, []string{RoleSystem}, true},
		{"system is not a nurse", []string{RoleSystem}, []string{RoleNurse}, false},
		{"no roles", nil, []string{RoleNurse}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Actor{UserID: "u", Roles: tt.roles}
			if got := a.HasAnyRole(tt.want...); got != tt.ok {
				t.Errorf("HasAnyRole(%v) = %v, want %v", tt.want, got, tt.ok)
			}
		})
	}
}

func TestActor_CanAccessHospital(t *testing.T) {
	nurse := Actor{UserID: "n", Roles: []string{RoleNurse}, HospitalID: "h-1"}
	if !nurse.CanAccessHospital("h-1") {
		t.Error("nurse should access own hospital")
	}
	if nurse.CanAccessHospital("h-2") {
		t.Error("nurse should not access another hospital")
	}

	globalAdmin := Actor{UserID: "a", Roles: []string{RoleAdmin}}
	if !globalAdmin.CanAccessHospital("h-2") {
		t.Error("admin without hospital scope should access any hospital")
	}

	hospitalAdmin := Actor{UserID: "a", Roles: []string{RoleAdmin}, HospitalID: "h-1"}
	if hospitalAdmin.CanAccessHospital("h-2") {
		t.Error("hospital-scoped admin should not access another hospital")
	}

	if !SystemActor().CanAccessHospital("anything") {
		t.Error("system actor should access every hospital")
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		actor  *Actor
		status int
	}{
		{"unauthenticated", nil, http.StatusUnauthorized},
		{"wrong role", &Actor{UserID: "o", Roles: []string{RoleOperator}}, http.StatusForbidden},
		{"allowed", &Actor{UserID: "d", Roles: []string{RoleDoctor}}, http.StatusOK},
		{"admin", &Actor{UserID: "a", Roles: []string{RoleAdmin}}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.actor != nil {
				req = req.WithContext(WithActor(req.Context(), *tt.actor))
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			h := RequireRole(RoleNurse, RoleDoctor)(func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			})
			err := h(c)
			if tt.status == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T", err)
			}
			if httpErr.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, httpErr.Code)
			}
		})
	}
}
