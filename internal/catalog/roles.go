package catalog

import (
	"slices"
	"strings"
)

// Role is a canonical caller role used for report visibility.
type Role string

const (
	RoleMentor           Role = "mentor"
	RolePrincipal        Role = "principal"
	RoleInstitutionAdmin Role = "institution_admin"
	RoleStaff            Role = "staff"
	RoleDirectorate      Role = "directorate"
)

// roleAliases maps the role strings issued by identity providers to
// canonical roles. Keys are lower-case.
var roleAliases = map[string]Role{
	"mentor":            RoleMentor,
	"teacher":           RoleMentor,
	"faculty":           RoleMentor,
	"principal":         RolePrincipal,
	"headmaster":        RolePrincipal,
	"head_teacher":      RolePrincipal,
	"institution_admin": RoleInstitutionAdmin,
	"admin":             RoleInstitutionAdmin,
	"school_admin":      RoleInstitutionAdmin,
	"staff":             RoleStaff,
	"clerk":             RoleStaff,
	"directorate":       RoleDirectorate,
	"state_admin":       RoleDirectorate,
	"super_admin":       RoleDirectorate,
}

// DefaultAllowUnknownRoles decides the role granted to a caller whose role
// string has no alias. It grants the broadest role, so unrecognized callers
// see every report rather than none.
func DefaultAllowUnknownRoles(raw string) Role {
	return RoleDirectorate
}

// NormalizeRoles maps raw role strings to canonical roles, removing
// duplicates. A caller with no roles at all is treated as one unknown role.
func NormalizeRoles(raw []string) []Role {
	if len(raw) == 0 {
		return []Role{DefaultAllowUnknownRoles("")}
	}

	out := make([]Role, 0, len(raw))
	for _, r := range raw {
		key := strings.ToLower(strings.TrimSpace(r))
		key = strings.ReplaceAll(key, "-", "_")
		role, ok := roleAliases[key]
		if !ok {
			role = DefaultAllowUnknownRoles(r)
		}
		if !slices.Contains(out, role) {
			out = append(out, role)
		}
	}
	return out
}
