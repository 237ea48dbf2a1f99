package authz

import (
	"errors"
	"fmt"
)

// Role is the closed set of role claims recognised by the platform. Role
// values arriving from the identity provider are parsed strictly; anything
// outside this set is rejected at the boundary.
type Role string

const (
	RoleStudent         Role = "student"
	RoleAdvisor         Role = "advisor"
	RoleStaff           Role = "staff"
	RoleUniversityAdmin Role = "university_admin"
	RoleSuperAdmin      Role = "super_admin"
)

// ErrUnknownRole indicates a role claim outside the closed enum.
var ErrUnknownRole = errors.New("authz: unknown role")

// ParseRole validates a raw role claim.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleStudent, RoleAdvisor, RoleStaff, RoleUniversityAdmin, RoleSuperAdmin:
		return Role(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
}

// Roles returns every known role, ordered by increasing privilege.
func Roles() []Role {
	return []Role{RoleStudent, RoleAdvisor, RoleStaff, RoleUniversityAdmin, RoleSuperAdmin}
}

// RequiresUniversity reports whether the role only makes sense inside a
// university tenant.
func (r Role) RequiresUniversity() bool {
	return r == RoleAdvisor || r == RoleUniversityAdmin
}

// Plan is the subscription tier attached to an identity. Impersonation may
// assume a plan to reproduce plan-gated behaviour.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPremium    Plan = "premium"
	PlanUniversity Plan = "university"
)

// ParsePlan validates a raw plan value. Empty input maps to the free tier.
func ParsePlan(raw string) (Plan, error) {
	switch Plan(raw) {
	case "":
		return PlanFree, nil
	case PlanFree, PlanPremium, PlanUniversity:
		return Plan(raw), nil
	}
	return "", fmt.Errorf("authz: unknown plan %q", raw)
}

// Scope classifies how far a permission reaches.
type Scope string

const (
	// ScopePlatform permissions apply across every tenant.
	ScopePlatform Scope = "platform"
	// ScopeUniversity permissions are confined to the actor's university.
	ScopeUniversity Scope = "university"
	// ScopeSelf permissions only cover resources the actor owns.
	ScopeSelf Scope = "self"
)

func parseScope(raw string) (Scope, error) {
	switch Scope(raw) {
	case ScopePlatform, ScopeUniversity, ScopeSelf:
		return Scope(raw), nil
	}
	return "", fmt.Errorf("authz: unknown scope %q", raw)
}

// Actor is the effective principal for a permission check. When an
// impersonation overlay is active the overlay values are substituted here;
// the evaluator cannot tell the difference.
type Actor struct {
	ID           string
	Role         Role
	UniversityID string
	Plan         Plan
}

// Resource carries the context of the object being acted on. Zero values mean
// "not applicable" and skip the corresponding scope check.
type Resource struct {
	OwnerID      string
	UniversityID string
}
