package auth

import "time"

// Operator is a console account allowed to sign in to this service. Operators
// map onto provider identities; the identity's role record decides what they
// may do once signed in.
type Operator struct {
	IdentityID   string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
