// Package clerk is the boundary to the external identity provider. Role
// claims cross into the system only here, where they are verified and parsed
// strictly; nothing downstream sees an unvalidated claim.
package clerk

import "errors"

var (
	// ErrPushRejected indicates the provider refused a role update outright;
	// retrying will not help.
	ErrPushRejected = errors.New("clerk: push rejected")
	// ErrIdentityGone indicates the provider no longer knows the identity.
	ErrIdentityGone = errors.New("clerk: identity not found at provider")
)

// RoleEvent is the payload of a role-change webhook delivery.
type RoleEvent struct {
	IdentityID    string `json:"identity_id" validate:"required"`
	Email         string `json:"email" validate:"omitempty,email"`
	Name          string `json:"name" validate:"omitempty,max=200"`
	NewRole       string `json:"new_role" validate:"required"`
	NewUniversity string `json:"new_university" validate:"omitempty,max=100"`
	Plan          string `json:"plan" validate:"omitempty"`
	Timestamp     int64  `json:"timestamp" validate:"required,gt=0"`
}
