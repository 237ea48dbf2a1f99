package clerk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
	"github.com/Ascentul/Ascentul-sub014/internal/identity"
)

const (
	headerMessageID = "svix-id"
	headerTimestamp = "svix-timestamp"
	headerSignature = "svix-signature"

	// maxClockSkew bounds how old or future-dated a delivery may be.
	maxClockSkew = 5 * time.Minute

	maxBodyBytes = 64 * 1024
)

// RoleChanger applies a validated role event to the local cache.
type RoleChanger interface {
	ChangeRole(ctx context.Context, input identity.ChangeRoleInput) (identity.ChangeOutcome, error)
}

// WebhookMetrics counts webhook outcomes.
type WebhookMetrics interface {
	WebhookEvent(outcome string)
}

// Webhook receives signed role-change notifications from the identity
// provider. Delivery is at-least-once and possibly out of order; everything
// here is idempotent and stale events are discarded, not applied.
type Webhook struct {
	logger    *slog.Logger
	changer   RoleChanger
	metrics   WebhookMetrics
	key       []byte
	validator *validator.Validate
	now       func() time.Time
}

// NewWebhook constructs the webhook endpoint. The secret is the provider's
// shared signing secret.
func NewWebhook(logger *slog.Logger, changer RoleChanger, metrics WebhookMetrics, secret string) (*Webhook, error) {
	if logger == nil {
		logger = slog.Default()
	}
	key, err := decodeSecret(secret)
	if err != nil {
		return nil, errors.New("clerk: malformed webhook secret")
	}
	return &Webhook{
		logger:    logger,
		changer:   changer,
		metrics:   metrics,
		key:       key,
		validator: validator.New(),
		now:       time.Now,
	}, nil
}

// MountRoutes registers the webhook endpoint. No session, no permission
// guard: the signature is the authentication.
func (wh *Webhook) MountRoutes(r chi.Router) {
	r.Post("/webhooks/clerk", wh.handleEvent)
}

func (wh *Webhook) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	messageID := r.Header.Get(headerMessageID)
	timestamp := r.Header.Get(headerTimestamp)
	signature := r.Header.Get(headerSignature)
	if messageID == "" || timestamp == "" || signature == "" {
		wh.rejectSecurity(w, r, "missing signature headers")
		return
	}
	if !wh.timestampFresh(timestamp) {
		wh.rejectSecurity(w, r, "timestamp outside tolerance")
		return
	}
	if !verifySignature(wh.key, messageID, timestamp, body, signature) {
		wh.rejectSecurity(w, r, "signature mismatch")
		return
	}

	var event RoleEvent
	if err := json.Unmarshal(body, &event); err != nil {
		wh.reject(w, "malformed payload")
		return
	}
	if err := wh.validator.Struct(event); err != nil {
		wh.reject(w, "invalid payload")
		return
	}
	role, err := authz.ParseRole(event.NewRole)
	if err != nil {
		// Loosely-typed provider metadata: flag unrecognised claims instead
		// of letting them through.
		wh.logger.Warn("webhook role claim rejected",
			slog.String("identity", event.IdentityID),
			slog.String("claim", event.NewRole))
		wh.count("rejected_role")
		wh.reject(w, "unrecognized role claim")
		return
	}
	plan, err := authz.ParsePlan(event.Plan)
	if err != nil {
		wh.reject(w, "unrecognized plan")
		return
	}

	outcome, err := wh.changer.ChangeRole(r.Context(), identity.ChangeRoleInput{
		IdentityID:      event.IdentityID,
		Email:           event.Email,
		DisplayName:     event.Name,
		NewRole:         role,
		NewUniversityID: event.NewUniversity,
		NewPlan:         plan,
		SyncedAt:        time.Unix(event.Timestamp, 0).UTC(),
		Reason:          "clerk webhook",
		PerformedByID:   "clerk",
		PerformedByName: "Clerk",
		CreateIfMissing: true,
		RequireNewer:    true,
		EventID:         messageID,
	})
	switch {
	case errors.Is(err, identity.ErrStaleVersion):
		// Out-of-order delivery carrying state older than the cache.
		wh.count("stale")
		w.WriteHeader(http.StatusOK)
		return
	case errors.Is(err, identity.ErrDuplicateEvent):
		wh.count("duplicate")
		w.WriteHeader(http.StatusOK)
		return
	case err != nil:
		wh.logger.Error("apply webhook event",
			slog.String("identity", event.IdentityID), slog.Any("error", err))
		wh.count("error")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if outcome.Changed {
		wh.count("applied")
	} else {
		wh.count("noop")
	}
	w.WriteHeader(http.StatusOK)
}

func (wh *Webhook) timestampFresh(raw string) bool {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	delta := wh.now().UTC().Sub(time.Unix(seconds, 0))
	if delta < 0 {
		delta = -delta
	}
	return delta <= maxClockSkew
}

// rejectSecurity logs a security event and answers 401. No state was touched.
func (wh *Webhook) rejectSecurity(w http.ResponseWriter, r *http.Request, reason string) {
	wh.logger.Warn("webhook security event",
		slog.String("reason", reason),
		slog.String("remote", r.RemoteAddr))
	wh.count("security")
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}

func (wh *Webhook) reject(w http.ResponseWriter, detail string) {
	http.Error(w, detail, http.StatusBadRequest)
}

func (wh *Webhook) count(outcome string) {
	if wh.metrics != nil {
		wh.metrics.WebhookEvent(outcome)
	}
}
