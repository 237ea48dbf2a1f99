package identity

import (
	"time"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
)

// Identity mirrors a principal owned by the identity provider. Read-only on
// this side; the provider creates and retires identities.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Record is the locally cached role state for one identity. It is
// authoritative for fast reads but the identity provider remains the source
// of truth; drift is resolved by reconciliation.
type Record struct {
	IdentityID   string
	Email        string
	DisplayName  string
	Role         authz.Role
	UniversityID string
	Plan         authz.Plan
	Version      int64
	LastSyncedAt time.Time
	PendingPush  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity returns the read-only principal projection of the record.
func (r Record) Identity() Identity {
	return Identity{ID: r.IdentityID, Email: r.Email, DisplayName: r.DisplayName}
}

// Actor builds the evaluator input for this record's real role.
func (r Record) Actor() authz.Actor {
	return authz.Actor{
		ID:           r.IdentityID,
		Role:         r.Role,
		UniversityID: r.UniversityID,
		Plan:         r.Plan,
	}
}
