package auth

import (
	"fmt"
	"strings"
)

// Role is fixed at signup and never changes.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

func ParseRole(value string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(value))) {
	case RoleStudent:
		return RoleStudent, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", value)
	}
}

func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleAdmin
}

// Principal is an authenticated caller as seen by the core services.
type Principal struct {
	UserID string
	Role   Role
}

func (p Principal) IsAdmin() bool {
	return p.UserID != "" && p.Role == RoleAdmin
}

func (p Principal) IsStudent() bool {
	return p.UserID != "" && p.Role == RoleStudent
}
