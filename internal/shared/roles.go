package shared

import (
	"strings"

	"github.com/google/uuid"
)

// Role is the single company role carried by a user.
type Role string

// Company roles.
const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleFinance  Role = "finance"
	RoleEmployee Role = "employee"
)

// Roles lists every known role.
func Roles() []Role {
	return []Role{RoleAdmin, RoleManager, RoleFinance, RoleEmployee}
}

// ParseRole normalises raw input into a known role.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Roles() {
		if role == known {
			return role, true
		}
	}
	return "", false
}

// CanApprove reports whether the role may act on the dual-approval slots.
func (r Role) CanApprove() bool {
	return r == RoleManager || r == RoleFinance
}

// CanReview reports whether the role may view every expense of its company.
func (r Role) CanReview() bool {
	return r == RoleManager || r == RoleFinance || r == RoleAdmin
}

// Actor is the authenticated principal acting on a request.
type Actor struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	Role      Role
	Name      string
	Email     string
}

// IsAdmin reports whether the actor administers its company.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
