package auth

import "fmt"

// Role represents a token's access level
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleReadOnly Role = "readonly"
)

// ParseRole accepts "admin" or "readonly"
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleReadOnly:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// User is the bearer of a status API token
type User struct {
	Subject string `json:"subject"`
	Role    Role   `json:"role"`
}

// IsAdmin reports whether the user may change settings
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
