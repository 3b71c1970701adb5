package registry

import "fmt"

// checkPermission decides whether a caller role may invoke a tool.
// An empty allowed set means default-allow: legacy tools predate the
// permission system and are treated as unrestricted.
func checkPermission(def *Definition, role Role) error {
	if len(def.AllowedRoles) == 0 {
		return nil
	}
	for _, allowed := range def.AllowedRoles {
		if allowed == role {
			return nil
		}
	}
	return fmt.Errorf("role %q is not permitted to call %q (allowed roles: %v)", role, def.Name, def.AllowedRoles)
}

// checkRoleConsistency enforces the registration-time invariant that a
// write-classified tool never admits a read-only role.
func checkRoleConsistency(def *Definition) error {
	if def.Permission != PermissionWrite {
		return nil
	}
	for _, role := range def.AllowedRoles {
		if readOnlyRoles[role] {
			return fmt.Errorf("write tool %q allows read-only role %q", def.Name, role)
		}
	}
	return nil
}
