package user

import "fmt"

// Role is the closed set of organisational roles.
// RoleAny is the wildcard variant used only inside access rules.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleProjectManager
	RoleProvincialOfficer
	RoleCoordinationOfficer
	RoleSupervisor
	RoleTrainer

	// RoleAny matches every role. It never appears on a User.
	RoleAny
)

var roleNames = map[Role]string{
	RoleUnknown:             "unknown",
	RoleAdmin:               "admin",
	RoleProjectManager:      "project-manager",
	RoleProvincialOfficer:   "provincial-officer",
	RoleCoordinationOfficer: "coordination-officer",
	RoleSupervisor:          "supervisor",
	RoleTrainer:             "trainer",
	RoleAny:                 "*",
}

// Roles lists every concrete role, in declaration order.
func Roles() []Role {
	return []Role{
		RoleAdmin,
		RoleProjectManager,
		RoleProvincialOfficer,
		RoleCoordinationOfficer,
		RoleSupervisor,
		RoleTrainer,
	}
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// IsConcrete reports whether r is a real role a user can hold.
func (r Role) IsConcrete() bool {
	return r > RoleUnknown && r < RoleAny
}

// ParseRole converts the text form of a role. The wildcard "*" parses to RoleAny.
func ParseRole(s string) (Role, error) {
	for role, name := range roleNames {
		if role != RoleUnknown && name == s {
			return role, nil
		}
	}
	return RoleUnknown, fmt.Errorf("unknown role %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}
