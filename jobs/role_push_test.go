package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/Ascentul/Ascentul-sub014/internal/audit"
	"github.com/Ascentul/Ascentul-sub014/internal/authz"
	"github.com/Ascentul/Ascentul-sub014/internal/clerk"
	"github.com/Ascentul/Ascentul-sub014/internal/identity"
	"github.com/Ascentul/Ascentul-sub014/internal/shared"
)

type stubRoles struct {
	records map[string]identity.Record
	pending map[string]bool
}

func (s *stubRoles) Get(_ context.Context, identityID string) (identity.Record, error) {
	rec, ok := s.records[identityID]
	if !ok {
		return identity.Record{}, shared.ErrNotFound
	}
	return rec, nil
}

func (s *stubRoles) SetPendingPush(_ context.Context, identityID string, pending bool) error {
	if s.pending == nil {
		s.pending = make(map[string]bool)
	}
	s.pending[identityID] = pending
	rec := s.records[identityID]
	rec.PendingPush = pending
	s.records[identityID] = rec
	return nil
}

func (s *stubRoles) List(_ context.Context, limit, offset int) ([]identity.Record, error) {
	if offset > 0 {
		return nil, nil
	}
	out := make([]identity.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

type stubGateway struct {
	claim    clerk.SourceClaim
	claimErr error
	pushErr  error
	pushed   []string
}

func (s *stubGateway) PushRole(_ context.Context, identityID string, _ authz.Role, _ string, _ authz.Plan) error {
	if s.pushErr != nil {
		return s.pushErr
	}
	s.pushed = append(s.pushed, identityID)
	return nil
}

func (s *stubGateway) FetchClaim(_ context.Context, _ string) (clerk.SourceClaim, error) {
	return s.claim, s.claimErr
}

type stubAuditor struct {
	entries []audit.Entry
}

func (s *stubAuditor) Record(_ context.Context, entry audit.Entry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func pushTask(t *testing.T, identityID string) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(RolePushPayload{IdentityID: identityID})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(TaskTypeRolePush, data)
}

func pendingAdvisor() identity.Record {
	return identity.Record{
		IdentityID:   "user_x",
		Email:        "x@example.com",
		DisplayName:  "User X",
		Role:         authz.RoleAdvisor,
		UniversityID: "univ_1",
		Plan:         authz.PlanUniversity,
		PendingPush:  true,
	}
}

func TestRolePushConfirmsAndAudits(t *testing.T) {
	roles := &stubRoles{records: map[string]identity.Record{"user_x": pendingAdvisor()}}
	gateway := &stubGateway{claim: clerk.SourceClaim{IdentityID: "user_x", Role: "student"}}
	auditor := &stubAuditor{}
	pusher := NewRolePusher(nil, roles, gateway, auditor, nil)

	if err := pusher.Handle(context.Background(), pushTask(t, "user_x")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(gateway.pushed) != 1 {
		t.Fatalf("expected one push, got %d", len(gateway.pushed))
	}
	if roles.records["user_x"].PendingPush {
		t.Fatalf("pending flag must clear after a confirmed push")
	}
	if len(auditor.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(auditor.entries))
	}
	entry := auditor.entries[0]
	if entry.OldRole != authz.RoleStudent || entry.NewRole != authz.RoleAdvisor {
		t.Fatalf("unexpected audit roles: old=%s new=%s", entry.OldRole, entry.NewRole)
	}
	if entry.Reason != "reconciliation" {
		t.Fatalf("unexpected reason %q", entry.Reason)
	}
}

func TestRolePushSkipsWhenNotPending(t *testing.T) {
	rec := pendingAdvisor()
	rec.PendingPush = false
	roles := &stubRoles{records: map[string]identity.Record{"user_x": rec}}
	gateway := &stubGateway{}
	pusher := NewRolePusher(nil, roles, gateway, &stubAuditor{}, nil)

	if err := pusher.Handle(context.Background(), pushTask(t, "user_x")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(gateway.pushed) != 0 {
		t.Fatalf("already-pushed record must not be pushed again")
	}
}

func TestRolePushRejectionDropsTask(t *testing.T) {
	roles := &stubRoles{records: map[string]identity.Record{"user_x": pendingAdvisor()}}
	gateway := &stubGateway{pushErr: clerk.ErrPushRejected}
	auditor := &stubAuditor{}
	pusher := NewRolePusher(nil, roles, gateway, auditor, nil)

	err := pusher.Handle(context.Background(), pushTask(t, "user_x"))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("rejection must not be retried, got %v", err)
	}
	if len(auditor.entries) != 0 {
		t.Fatalf("no audit entry without a confirmed push")
	}
	if !roles.records["user_x"].PendingPush {
		t.Fatalf("pending flag must survive a failed push")
	}
}

func TestRolePushTransientErrorRetries(t *testing.T) {
	roles := &stubRoles{records: map[string]identity.Record{"user_x": pendingAdvisor()}}
	gateway := &stubGateway{pushErr: errors.New("bad gateway")}
	pusher := NewRolePusher(nil, roles, gateway, &stubAuditor{}, nil)

	err := pusher.Handle(context.Background(), pushTask(t, "user_x"))
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("transient failure must be retryable, got %v", err)
	}
}

func TestRolePushNoAuditWhenProviderAgrees(t *testing.T) {
	roles := &stubRoles{records: map[string]identity.Record{"user_x": pendingAdvisor()}}
	gateway := &stubGateway{claim: clerk.SourceClaim{IdentityID: "user_x", Role: "advisor"}}
	auditor := &stubAuditor{}
	pusher := NewRolePusher(nil, roles, gateway, auditor, nil)

	if err := pusher.Handle(context.Background(), pushTask(t, "user_x")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if roles.records["user_x"].PendingPush {
		t.Fatalf("pending flag must clear")
	}
	if len(auditor.entries) != 0 {
		t.Fatalf("no role change at the provider means no audit entry")
	}
}

func TestRolePushVanishedTargetDropsTask(t *testing.T) {
	roles := &stubRoles{records: map[string]identity.Record{}}
	pusher := NewRolePusher(nil, roles, &stubGateway{}, &stubAuditor{}, nil)

	err := pusher.Handle(context.Background(), pushTask(t, "ghost"))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("missing record must drop the task, got %v", err)
	}
}
