package authz

import (
	"errors"
	"fmt"
)

// ErrUnknownPermission indicates a permission key absent from the matrix.
// The check still denies; the error exists so callers can surface the
// misconfiguration instead of treating it as an ordinary refusal.
var ErrUnknownPermission = errors.New("authz: unknown permission")

// Evaluator decides permission checks against the static matrix. It is pure:
// no I/O, no clock, no mutable state, so the same instance serves the HTTP
// guards and any in-process caller on the hot path.
type Evaluator struct {
	matrix *Matrix
}

// NewEvaluator constructs an Evaluator over a loaded matrix.
func NewEvaluator(matrix *Matrix) *Evaluator {
	return &Evaluator{matrix: matrix}
}

// Evaluate reports whether actor may exercise the permission against the
// given resource context. Unknown keys fail closed with ErrUnknownPermission.
func (e *Evaluator) Evaluate(permission string, actor Actor, resource Resource) (bool, error) {
	rule, ok := e.matrix.Lookup(permission)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownPermission, permission)
	}
	if !rule.Allows(actor.Role) {
		return false, nil
	}
	// The top platform role bypasses scope checks entirely.
	if actor.Role == RoleSuperAdmin {
		return true, nil
	}
	switch rule.Scope {
	case ScopeSelf:
		if resource.OwnerID != "" && resource.OwnerID != actor.ID {
			return false, nil
		}
	case ScopeUniversity:
		if resource.UniversityID != "" && resource.UniversityID != actor.UniversityID {
			return false, nil
		}
	}
	return true, nil
}

// Can is a convenience wrapper for checks with no resource context, such as
// UI conditionals. Unknown keys deny.
func (e *Evaluator) Can(permission string, actor Actor) bool {
	allowed, err := e.Evaluate(permission, actor, Resource{})
	if err != nil {
		return false
	}
	return allowed
}
