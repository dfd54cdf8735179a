package models

import (
	"fmt"
	"time"
)

// Role is a member's role inside a group.
type Role string

const (
	// RoleAdmin can manage the group. The creator of a group is an admin.
	RoleAdmin Role = "admin"

	// RoleMember is a regular participant.
	RoleMember Role = "member"
)

// IsValid reports whether r is one of the roles accepted by group_members.
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleMember
}

// Group is a named set of members. Events live in their own table and are
// listed per group.
type Group struct {
	// ID is assigned by the store and never changes.
	ID int64 `json:"id"`

	// Name is the display name. It need not be unique.
	Name string `json:"name"`

	// Members is loaded by the store on reads.
	Members []Member `json:"members,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the fields required to create a group.
func (g *Group) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(g.Name) > MaxNameLength {
		return fmt.Errorf("name must be %d characters or less (got %d)", MaxNameLength, len(g.Name))
	}
	return nil
}

// MemberNames returns the user ids of all members in store order.
func (g *Group) MemberNames() []string {
	names := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		names = append(names, m.UserID)
	}
	return names
}

// Member is one row of group_members.
type Member struct {
	GroupID int64  `json:"group_id"`
	UserID  string `json:"user_id"`
	Role    Role   `json:"role"`
}

// Validate checks a membership row before it is written.
func (m *Member) Validate() error {
	if m.GroupID <= 0 {
		return fmt.Errorf("group_id is required")
	}
	if m.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if !m.Role.IsValid() {
		return fmt.Errorf("invalid role: %q (must be %q or %q)", m.Role, RoleAdmin, RoleMember)
	}
	return nil
}
