package clerk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
)

func TestPushRoleSucceeds(t *testing.T) {
	var seenAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		if r.URL.Path != "/v1/users/user_1/metadata" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_123", nil)
	if err := client.PushRole(context.Background(), "user_1", authz.RoleStudent, "", authz.PlanFree); err != nil {
		t.Fatalf("push role: %v", err)
	}
	if seenAuth != "Bearer sk_test_123" {
		t.Fatalf("unexpected auth header %q", seenAuth)
	}
}

func TestPushRoleRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_123", nil)
	if err := client.PushRole(context.Background(), "user_1", authz.RoleAdvisor, "univ_1", authz.PlanUniversity); err != nil {
		t.Fatalf("push role: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestPushRolePermanentRejection(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_123", nil)
	err := client.PushRole(context.Background(), "user_1", authz.RoleStudent, "", authz.PlanFree)
	if !errors.Is(err, ErrPushRejected) {
		t.Fatalf("expected ErrPushRejected, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", calls.Load())
	}
}

func TestPushRoleExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_123", nil)
	if err := client.PushRole(context.Background(), "user_1", authz.RoleStudent, "", authz.PlanFree); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
}
