package shared

import "strings"

// Role identifies one of the portal audiences.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleSales    Role = "SALES"
	RolePlanning Role = "PLANNING"
	RoleDirector Role = "DIRECTOR"
)

// ParseRole normalises a raw role string. ADMIN is treated as DIRECTOR.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleCustomer:
		return RoleCustomer, true
	case RoleSales:
		return RoleSales, true
	case RolePlanning:
		return RolePlanning, true
	case RoleDirector, "ADMIN":
		return RoleDirector, true
	}
	return "", false
}

// IsStaff reports whether the role belongs to the back office.
func (r Role) IsStaff() bool {
	return r == RoleSales || r == RolePlanning || r == RoleDirector
}

// LoginPath returns the screen a user of this role signs in from.
func (r Role) LoginPath() string {
	if r.IsStaff() {
		return "/internal/login"
	}
	return "/login"
}
