package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Roles known to the alerting core. Hospitals may configure additional
// escalation roles; these are the ones the core authorizes against.
const (
	RoleOperator   = "operator"
	RoleNurse      = "nurse"
	RoleDoctor     = "doctor"
	RoleHeadDoctor = "head_doctor"
	RoleAdmin      = "admin"
	// RoleSystem is carried only by the in-process escalation scheduler.
	RoleSystem = "system"
)

// Actor is the authenticated caller of a mutating operation.
type Actor struct {
	UserID       string   `json:"user_id"`
	Roles        []string `json:"roles"`
	HospitalID   string   `json:"hospital_id"`
	DepartmentID string   `json:"department_id,omitempty"`
}

// SystemActor is the identity the scheduler uses when it escalates an alert.
func SystemActor() Actor {
	return Actor{UserID: "system:scheduler", Roles: []string{RoleSystem}}
}

// HasAnyRole reports whether the actor holds one of roles. Admin satisfies
// every human role; system only satisfies an explicit system requirement.
func (a Actor) HasAnyRole(roles ...string) bool {
	for _, has := range a.Roles {
		for _, required := range roles {
			if has == required {
				return true
			}
			if has == RoleAdmin && required != RoleSystem {
				return true
			}
		}
	}
	return false
}

// CanAccessHospital reports whether the actor may act on alerts of hospitalID.
func (a Actor) CanAccessHospital(hospitalID string) bool {
	if a.HasAnyRole(RoleSystem) {
		return true
	}
	for _, r := range a.Roles {
		if r == RoleAdmin && a.HospitalID == "" {
			return true
		}
	}
	return a.HospitalID == hospitalID
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			if actor.HasAnyRole(roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
