package authz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Ascentul/Ascentul-sub014/internal/shared"
)

type stubResolver struct {
	actor Actor
	err   error
}

func (s stubResolver) EffectiveActor(ctx context.Context, sess *shared.Session) (Actor, error) {
	return s.actor, s.err
}

func newGuard(t *testing.T, resolver ActorResolver) Middleware {
	t.Helper()
	matrix, err := LoadMatrix()
	if err != nil {
		t.Fatalf("load matrix: %v", err)
	}
	return Middleware{Evaluator: NewEvaluator(matrix), Resolver: resolver}
}

func requestWithSession(user string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/audit", nil)
	sess := &shared.Session{}
	sess.SetUser(user)
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func TestRequireRejectsAnonymous(t *testing.T) {
	guard := newGuard(t, stubResolver{})
	handler := guard.Require("audit.history.view")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequireRejectsInsufficientRole(t *testing.T) {
	guard := newGuard(t, stubResolver{actor: Actor{ID: "user_1", Role: RoleStudent}})
	handler := guard.Require("audit.history.view")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, requestWithSession("user_1"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequireAllowsAndInjectsActor(t *testing.T) {
	guard := newGuard(t, stubResolver{actor: Actor{ID: "root", Role: RoleSuperAdmin}})
	var seen Actor
	handler := guard.Require("audit.history.view")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			t.Fatalf("actor missing from context")
		}
		seen = actor
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, requestWithSession("root"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if seen.Role != RoleSuperAdmin {
		t.Fatalf("unexpected actor %+v", seen)
	}
}

func TestRequireFailsClosedOnUnknownPermission(t *testing.T) {
	guard := newGuard(t, stubResolver{actor: Actor{ID: "root", Role: RoleSuperAdmin}})
	handler := guard.Require("not.configured")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, requestWithSession("root"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequireMapsMissingRecordToForbidden(t *testing.T) {
	guard := newGuard(t, stubResolver{err: shared.ErrNotFound})
	handler := guard.Require("audit.history.view")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, requestWithSession("ghost"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequireSurfacesResolverFailure(t *testing.T) {
	guard := newGuard(t, stubResolver{err: errors.New("redis down")})
	handler := guard.Require("audit.history.view")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, requestWithSession("root"))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
