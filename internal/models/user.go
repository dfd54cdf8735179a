package models

import "fmt"

// User is a local account stored in the accounts file.
type User struct {
	Username string `yaml:"username" json:"username"`

	// PasswordHash is a bcrypt hash; the plaintext is never stored.
	PasswordHash string `yaml:"password_hash" json:"-"`

	// Role defaults to RoleAdmin at signup.
	Role Role `yaml:"role" json:"role"`

	// Groups lists the ids of groups the user belongs to, in join order.
	Groups []int64 `yaml:"groups,omitempty" json:"groups,omitempty"`
}

// Validate checks the fields required at signup.
func (u *User) Validate() error {
	if u.Username == "" {
		return fmt.Errorf("username is required")
	}
	if u.PasswordHash == "" {
		return fmt.Errorf("password is required")
	}
	if !u.Role.IsValid() {
		return fmt.Errorf("invalid role: %q", u.Role)
	}
	return nil
}

// JoinGroup records membership of groupID, ignoring duplicates.
func (u *User) JoinGroup(groupID int64) {
	for _, id := range u.Groups {
		if id == groupID {
			return
		}
	}
	u.Groups = append(u.Groups, groupID)
}
