package authz

import (
	"errors"
	"testing"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	matrix, err := LoadMatrix()
	if err != nil {
		t.Fatalf("load matrix: %v", err)
	}
	return NewEvaluator(matrix)
}

func TestEvaluateDeniesRoleOutsideAllowedSet(t *testing.T) {
	eval := newTestEvaluator(t)
	resources := []Resource{
		{},
		{OwnerID: "user_1"},
		{UniversityID: "univ_1"},
		{OwnerID: "user_1", UniversityID: "univ_1"},
	}
	for _, res := range resources {
		allowed, err := eval.Evaluate("users.roles.manage", Actor{ID: "user_1", Role: RoleStudent, UniversityID: "univ_1"}, res)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if allowed {
			t.Fatalf("student must never hold users.roles.manage (resource %+v)", res)
		}
	}
}

func TestEvaluateSelfScope(t *testing.T) {
	eval := newTestEvaluator(t)

	allowed, err := eval.Evaluate("career.documents.manage", Actor{ID: "user_a", Role: RoleStudent}, Resource{OwnerID: "user_b"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if allowed {
		t.Fatalf("self-scoped permission must deny foreign owner")
	}

	allowed, err = eval.Evaluate("career.documents.manage", Actor{ID: "user_a", Role: RoleStudent}, Resource{OwnerID: "user_a"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !allowed {
		t.Fatalf("self-scoped permission must allow the owner")
	}
}

func TestEvaluateUniversityScope(t *testing.T) {
	eval := newTestEvaluator(t)

	actor := Actor{ID: "admin_1", Role: RoleUniversityAdmin, UniversityID: "univ_1"}
	allowed, err := eval.Evaluate("university.students.manage", actor, Resource{UniversityID: "univ_2"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if allowed {
		t.Fatalf("university admin must not cross tenants")
	}

	allowed, err = eval.Evaluate("university.students.manage", actor, Resource{UniversityID: "univ_1"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !allowed {
		t.Fatalf("university admin must manage own tenant")
	}
}

func TestEvaluateSuperAdminBypassesScope(t *testing.T) {
	eval := newTestEvaluator(t)
	actor := Actor{ID: "root", Role: RoleSuperAdmin, UniversityID: "univ_1"}

	allowed, err := eval.Evaluate("university.students.manage", actor, Resource{UniversityID: "univ_2"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !allowed {
		t.Fatalf("super admin must bypass tenant scope")
	}

	allowed, err = eval.Evaluate("career.documents.manage", actor, Resource{OwnerID: "someone_else"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !allowed {
		t.Fatalf("super admin must bypass self scope")
	}
}

func TestEvaluateAdvisorCannotManageStudents(t *testing.T) {
	eval := newTestEvaluator(t)
	actor := Actor{ID: "adv_1", Role: RoleAdvisor, UniversityID: "univ_1"}
	allowed, err := eval.Evaluate("university.students.manage", actor, Resource{UniversityID: "univ_1"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if allowed {
		t.Fatalf("advisor must not manage students even inside own university")
	}
}

func TestEvaluateUnknownPermissionFailsClosed(t *testing.T) {
	eval := newTestEvaluator(t)
	allowed, err := eval.Evaluate("does.not.exist", Actor{ID: "root", Role: RoleSuperAdmin}, Resource{})
	if !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("expected ErrUnknownPermission, got %v", err)
	}
	if allowed {
		t.Fatalf("unknown permission must deny")
	}
}

func TestEvaluateMissingResourceContextAllows(t *testing.T) {
	eval := newTestEvaluator(t)
	// Absent owner/tenant context skips the scope comparison rather than denying.
	allowed, err := eval.Evaluate("university.invites.send", Actor{ID: "admin_1", Role: RoleUniversityAdmin, UniversityID: "univ_1"}, Resource{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !allowed {
		t.Fatalf("missing resource context should not deny an allowed role")
	}
}

func TestCanSwallowsConfigurationError(t *testing.T) {
	eval := newTestEvaluator(t)
	if eval.Can("does.not.exist", Actor{ID: "root", Role: RoleSuperAdmin}) {
		t.Fatalf("Can must deny unknown permissions")
	}
	if !eval.Can("support.impersonate", Actor{ID: "root", Role: RoleSuperAdmin}) {
		t.Fatalf("Can must allow known permissions")
	}
}
