package audit

import (
	"time"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
)

// Entry is one immutable line of role-change history. Entries are appended by
// every path that mutates a role record and are never updated or deleted.
type Entry struct {
	ID               string
	TargetIdentityID string
	TargetName       string
	TargetEmail      string
	OldRole          authz.Role
	NewRole          authz.Role
	PerformedByID    string
	PerformedByName  string
	Reason           string
	CreatedAt        time.Time
}

// Filters narrows audit listings and exports.
type Filters struct {
	Identity    string
	PerformedBy string
	From        time.Time
	To          time.Time
	Page        int
	PageSize    int
}

// PagingInfo membawa informasi halaman untuk daftar audit.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result membungkus hasil listing dengan informasi paging.
type Result struct {
	Entries []Entry
	Paging  PagingInfo
}
