package domain

import dErrors "tenantgate/pkg/domain-errors"

// Role is the per-tenant authorization level of a principal.
// Roles form a total order: viewer < user < admin.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
)

var roleRank = map[Role]int{
	RoleViewer: 1,
	RoleUser:   2,
	RoleAdmin:  3,
}

// ParseRole validates role strings at trust boundaries.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleRank[r]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}

// IsValid reports whether the role is one of the known values.
func (r Role) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r satisfies an operation requiring min.
// Unknown roles never satisfy anything.
func (r Role) AtLeast(min Role) bool {
	rr, ok := roleRank[r]
	if !ok {
		return false
	}
	mr, ok := roleRank[min]
	if !ok {
		return false
	}
	return rr >= mr
}

func (r Role) String() string { return string(r) }
