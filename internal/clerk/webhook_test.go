package clerk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
	"github.com/Ascentul/Ascentul-sub014/internal/identity"
)

const testSecret = "whsec_dGVzdC1zaWduaW5nLXNlY3JldA=="

type stubChanger struct {
	lastInput identity.ChangeRoleInput
	calls     int
	err       error
}

func (s *stubChanger) ChangeRole(ctx context.Context, input identity.ChangeRoleInput) (identity.ChangeOutcome, error) {
	s.calls++
	s.lastInput = input
	if s.err != nil {
		return identity.ChangeOutcome{}, s.err
	}
	return identity.ChangeOutcome{Changed: true}, nil
}

func newTestWebhook(t *testing.T, changer RoleChanger) *Webhook {
	t.Helper()
	wh, err := NewWebhook(nil, changer, nil, testSecret)
	if err != nil {
		t.Fatalf("new webhook: %v", err)
	}
	wh.now = func() time.Time { return time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC) }
	return wh
}

func signedRequest(t *testing.T, wh *Webhook, event RoleEvent, mutate func(*http.Request)) *http.Request {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	key, err := base64.StdEncoding.DecodeString("dGVzdC1zaWduaW5nLXNlY3JldA==")
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	timestamp := strconv.FormatInt(wh.now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/clerk", bytes.NewReader(body))
	req.Header.Set(headerMessageID, "msg_1")
	req.Header.Set(headerTimestamp, timestamp)
	req.Header.Set(headerSignature, sign(key, "msg_1", timestamp, body))
	if mutate != nil {
		mutate(req)
	}
	return req
}

func validEvent(wh *Webhook) RoleEvent {
	return RoleEvent{
		IdentityID: "user_1",
		Email:      "one@example.com",
		Name:       "User One",
		NewRole:    "advisor",
		Timestamp:  wh.now().Unix(),
	}
}

func TestWebhookAppliesSignedEvent(t *testing.T) {
	changer := &stubChanger{}
	wh := newTestWebhook(t, changer)

	rr := httptest.NewRecorder()
	wh.handleEvent(rr, signedRequest(t, wh, validEvent(wh), nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if changer.calls != 1 {
		t.Fatalf("expected one apply, got %d", changer.calls)
	}
	in := changer.lastInput
	if in.NewRole != authz.RoleAdvisor || !in.RequireNewer || !in.CreateIfMissing {
		t.Fatalf("unexpected change input: %+v", in)
	}
	if in.EventID != "msg_1" {
		t.Fatalf("expected event id propagated, got %q", in.EventID)
	}
	if in.Reason != "clerk webhook" {
		t.Fatalf("unexpected reason %q", in.Reason)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	changer := &stubChanger{}
	wh := newTestWebhook(t, changer)

	req := signedRequest(t, wh, validEvent(wh), func(r *http.Request) {
		r.Header.Set(headerSignature, "v1,Zm9yZ2VkIHNpZ25hdHVyZQ==")
	})
	rr := httptest.NewRecorder()
	wh.handleEvent(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if changer.calls != 0 {
		t.Fatalf("forged delivery must not mutate state")
	}
}

func TestWebhookRejectsMissingHeaders(t *testing.T) {
	changer := &stubChanger{}
	wh := newTestWebhook(t, changer)

	req := signedRequest(t, wh, validEvent(wh), func(r *http.Request) {
		r.Header.Del(headerSignature)
	})
	rr := httptest.NewRecorder()
	wh.handleEvent(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if changer.calls != 0 {
		t.Fatalf("unsigned delivery must not mutate state")
	}
}

func TestWebhookRejectsStaleTimestampHeader(t *testing.T) {
	changer := &stubChanger{}
	wh := newTestWebhook(t, changer)

	event := validEvent(wh)
	body, _ := json.Marshal(event)
	key, _ := base64.StdEncoding.DecodeString("dGVzdC1zaWduaW5nLXNlY3JldA==")
	old := strconv.FormatInt(wh.now().Add(-time.Hour).Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/clerk", bytes.NewReader(body))
	req.Header.Set(headerMessageID, "msg_1")
	req.Header.Set(headerTimestamp, old)
	req.Header.Set(headerSignature, sign(key, "msg_1", old, body))

	rr := httptest.NewRecorder()
	wh.handleEvent(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for replayed delivery, got %d", rr.Code)
	}
}

func TestWebhookRejectsUnknownRoleClaim(t *testing.T) {
	changer := &stubChanger{}
	wh := newTestWebhook(t, changer)

	event := validEvent(wh)
	event.NewRole = "galactic_overlord"
	rr := httptest.NewRecorder()
	wh.handleEvent(rr, signedRequest(t, wh, event, nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if changer.calls != 0 {
		t.Fatalf("unrecognised claim must not pass the boundary")
	}
}

func TestWebhookDiscardsStaleEvent(t *testing.T) {
	changer := &stubChanger{err: identity.ErrStaleVersion}
	wh := newTestWebhook(t, changer)

	rr := httptest.NewRecorder()
	wh.handleEvent(rr, signedRequest(t, wh, validEvent(wh), nil))

	// Stale events are acknowledged so the provider stops redelivering.
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestWebhookAcknowledgesDuplicateEvent(t *testing.T) {
	changer := &stubChanger{err: identity.ErrDuplicateEvent}
	wh := newTestWebhook(t, changer)

	rr := httptest.NewRecorder()
	wh.handleEvent(rr, signedRequest(t, wh, validEvent(wh), nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
