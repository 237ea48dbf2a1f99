// Package impersonate lets support staff temporarily act with another role.
// The overlay lives only inside the operator's own session; the role record
// and the audit log never see it, and it expires on its own.
package impersonate

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
	"github.com/Ascentul/Ascentul-sub014/internal/shared"
)

// sessionKey is where the overlay JSON sits inside the session values.
const sessionKey = "impersonation_overlay"

const (
	defaultTTL = 30 * time.Minute
	maxTTL     = 2 * time.Hour
)

var (
	// ErrNotPermitted indicates the actor's real role may not impersonate.
	ErrNotPermitted = errors.New("impersonate: not permitted")
	// ErrMissingUniversity indicates a university-scoped assumed role without
	// a university to scope it to.
	ErrMissingUniversity = errors.New("impersonate: assumed role requires a university")
)

// Overlay is a temporary assumed principal. BaseIdentityID pins the overlay
// to the session owner; an overlay found under a different user is ignored.
type Overlay struct {
	BaseIdentityID      string        `json:"base_identity_id"`
	AssumedRole         authz.Role    `json:"assumed_role"`
	AssumedUniversityID string        `json:"assumed_university_id,omitempty"`
	AssumedPlan         authz.Plan    `json:"assumed_plan,omitempty"`
	StartedAt           time.Time     `json:"started_at"`
	TTL                 time.Duration `json:"ttl"`
}

// Active reports whether the overlay is still within its lifetime.
func (o Overlay) Active(now time.Time) bool {
	return now.Before(o.StartedAt.Add(o.TTL))
}

// Actor projects the overlay onto the base identity for evaluation.
func (o Overlay) Actor() authz.Actor {
	return authz.Actor{
		ID:           o.BaseIdentityID,
		Role:         o.AssumedRole,
		UniversityID: o.AssumedUniversityID,
		Plan:         o.AssumedPlan,
	}
}

// loadOverlay reads the overlay from a session. A malformed value is treated
// as absent.
func loadOverlay(sess *shared.Session) (Overlay, bool) {
	raw := sess.Get(sessionKey)
	if raw == "" {
		return Overlay{}, false
	}
	var overlay Overlay
	if err := json.Unmarshal([]byte(raw), &overlay); err != nil {
		return Overlay{}, false
	}
	return overlay, true
}

func storeOverlay(sess *shared.Session, overlay Overlay) error {
	data, err := json.Marshal(overlay)
	if err != nil {
		return err
	}
	sess.Set(sessionKey, string(data))
	return nil
}

func clearOverlay(sess *shared.Session) {
	sess.Delete(sessionKey)
}
