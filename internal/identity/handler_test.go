package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
)

type stubPusher struct {
	pushed []string
}

func (s *stubPusher) EnqueuePush(_ context.Context, identityID string) error {
	s.pushed = append(s.pushed, identityID)
	return nil
}

func adminActor() authz.Actor {
	return authz.Actor{ID: "admin_1", Role: authz.RoleSuperAdmin, Plan: authz.PlanPremium}
}

func doRequest(method, target, body string, actor *authz.Actor, handle http.HandlerFunc, identityID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("identityID", identityID)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if actor != nil {
		ctx = authz.ContextWithActor(ctx, *actor)
	}
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	handle(rec, req)
	return rec
}

func TestHandleGetReturnsRecord(t *testing.T) {
	store := newMockStore()
	seedRecord(store, authz.RoleAdvisor)
	h := NewHandler(nil, newTestService(store, &mockRecorder{}), nil)

	rec := doRequest(http.MethodGet, "/users/user_x", "", nil, h.handleGet, "user_x")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.IdentityID != "user_x" || body.Role != "advisor" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestHandleGetUnknownIdentity(t *testing.T) {
	h := NewHandler(nil, newTestService(newMockStore(), &mockRecorder{}), nil)

	rec := doRequest(http.MethodGet, "/users/ghost", "", nil, h.handleGet, "ghost")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleChangeRoleAppliesAndEnqueuesPush(t *testing.T) {
	store := newMockStore()
	seedRecord(store, authz.RoleStudent)
	pusher := &stubPusher{}
	recorder := &mockRecorder{}
	h := NewHandler(nil, newTestService(store, recorder), pusher)

	actor := adminActor()
	body := `{"role":"advisor","university_id":"univ_1","reason":"promoted to advisor"}`
	rec := doRequest(http.MethodPost, "/users/user_x/role", body, &actor, h.handleChangeRole, "user_x")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	var resp userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Role != "advisor" || resp.UniversityID != "univ_1" {
		t.Fatalf("unexpected record: %+v", resp)
	}
	if !resp.PendingPush {
		t.Fatal("admin edits must flag the record for outbound push")
	}
	if len(pusher.pushed) != 1 || pusher.pushed[0] != "user_x" {
		t.Fatalf("pushed = %v, want [user_x]", pusher.pushed)
	}
	if len(recorder.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(recorder.entries))
	}
	if recorder.entries[0].Reason != "promoted to advisor" {
		t.Fatalf("reason = %q", recorder.entries[0].Reason)
	}
}

func TestHandleChangeRoleNoOpSkipsPush(t *testing.T) {
	store := newMockStore()
	seedRecord(store, authz.RoleStudent)
	pusher := &stubPusher{}
	h := NewHandler(nil, newTestService(store, &mockRecorder{}), pusher)

	actor := adminActor()
	rec := doRequest(http.MethodPost, "/users/user_x/role", `{"role":"student"}`, &actor, h.handleChangeRole, "user_x")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(pusher.pushed) != 0 {
		t.Fatalf("no-op edit must not enqueue a push, got %v", pusher.pushed)
	}
}

func TestHandleChangeRoleRejectsUnknownRole(t *testing.T) {
	h := NewHandler(nil, newTestService(newMockStore(), &mockRecorder{}), nil)

	actor := adminActor()
	rec := doRequest(http.MethodPost, "/users/user_x/role", `{"role":"warlock"}`, &actor, h.handleChangeRole, "user_x")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleChangeRoleScopedRoleNeedsUniversity(t *testing.T) {
	store := newMockStore()
	seedRecord(store, authz.RoleStudent)
	pusher := &stubPusher{}
	h := NewHandler(nil, newTestService(store, &mockRecorder{}), pusher)

	actor := adminActor()
	rec := doRequest(http.MethodPost, "/users/user_x/role", `{"role":"advisor"}`, &actor, h.handleChangeRole, "user_x")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "university_id") {
		t.Fatalf("body should name the missing field: %s", rec.Body.String())
	}
	if got := store.records["user_x"].Role; got != authz.RoleStudent {
		t.Fatalf("role = %s, record must be untouched", got)
	}
	if len(pusher.pushed) != 0 {
		t.Fatal("rejected edit must not enqueue a push")
	}
}

func TestHandleChangeRoleRequiresActor(t *testing.T) {
	store := newMockStore()
	seedRecord(store, authz.RoleStudent)
	h := NewHandler(nil, newTestService(store, &mockRecorder{}), nil)

	rec := doRequest(http.MethodPost, "/users/user_x/role", `{"role":"staff"}`, nil, h.handleChangeRole, "user_x")

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestHandleChangeRoleUnknownTarget(t *testing.T) {
	h := NewHandler(nil, newTestService(newMockStore(), &mockRecorder{}), nil)

	actor := adminActor()
	rec := doRequest(http.MethodPost, "/users/ghost/role", `{"role":"staff"}`, &actor, h.handleChangeRole, "ghost")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
