package domain

import "strings"

// Role distinguishes riders (students) from operators (drivers). The string
// values match the "role" claim carried by access tokens.
type Role string

const (
	RoleRider    Role = "STUDENT"
	RoleOperator Role = "DRIVER"
)

// ParseRole normalizes a stored or claimed role. Unknown values map to "".
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleRider:
		return RoleRider
	case RoleOperator:
		return RoleOperator
	}
	return ""
}

// Actor is the authenticated identity performing an operation.
type Actor struct {
	ID   string
	Role Role
	Name string
}

// Resolved reports whether the actor carries an identity and a known role.
func (a Actor) Resolved() bool {
	return a.ID != "" && (a.Role == RoleRider || a.Role == RoleOperator)
}
