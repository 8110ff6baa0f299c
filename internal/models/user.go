package models

import "time"

// User owns a set of sources and the two tokens that grant access to them
type User struct {
	ID         string    `json:"userId"`
	OwnerToken string    `json:"ownerToken,omitempty"`
	ReadToken  string    `json:"readToken,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Role is the access level a presented token grants
type Role string

const (
	RoleOwner Role = "owner"
	RoleRead  Role = "read"
)

// CanMutate reports whether the role may change the user's sources
func (r Role) CanMutate() bool {
	return r == RoleOwner
}
