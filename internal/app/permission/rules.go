package permission

import (
	"fmt"
	"slices"

	"trainchat/internal/app/chat"
	"trainchat/internal/app/user"
)

// Rule permits direct conversations between two roles. Rules are symmetric: (A, B) also
// covers B talking to A. Target may be user.RoleAny.
type Rule struct {
	Source user.Role `yaml:"source"`
	Target user.Role `yaml:"target"`

	// RequiresSameSpecialization gates the pair on a non-empty specialization overlap.
	RequiresSameSpecialization bool `yaml:"requiresSameSpecialization"`

	// RequiresApproval routes the pair through the ChatRequest flow.
	RequiresApproval bool `yaml:"requiresApproval"`

	// AutoProvision makes SetupUserChats eagerly create the direct rooms for this pair.
	// Only meaningful for concrete pairs without specialization or approval gates.
	AutoProvision bool `yaml:"autoProvision"`
}

func (r Rule) isWildcard() bool {
	return r.Source == user.RoleAny || r.Target == user.RoleAny
}

func (r Rule) validate() error {
	if r.Source == user.RoleAny {
		return fmt.Errorf("rule %s->%s: wildcard is only allowed as target", r.Source, r.Target)
	}
	if !r.Source.IsConcrete() {
		return fmt.Errorf("rule %s->%s: source must be a concrete role", r.Source, r.Target)
	}
	if !r.Target.IsConcrete() && r.Target != user.RoleAny {
		return fmt.Errorf("rule %s->%s: unknown target role", r.Source, r.Target)
	}
	if r.AutoProvision && (r.isWildcard() || r.RequiresApproval || r.RequiresSameSpecialization) {
		return fmt.Errorf("rule %s->%s: autoProvision needs a concrete pair without approval or specialization", r.Source, r.Target)
	}
	return nil
}

// GroupDefinition describes a static category group and who may join and post in it.
type GroupDefinition struct {
	Category          chat.Category `yaml:"category"`
	Name              string        `yaml:"name"`
	AllowedRoles      []user.Role   `yaml:"allowedRoles"`
	AllMembersAllowed bool          `yaml:"allMembersAllowed"`
	IsReadOnly        bool          `yaml:"isReadOnly"`
}

func (g GroupDefinition) allows(role user.Role) bool {
	return slices.Contains(g.AllowedRoles, role)
}

func (g GroupDefinition) validate() error {
	if !g.Category.IsValid() || g.Category.IsDirect() {
		return fmt.Errorf("group %q: category must be a group category", g.Name)
	}
	for _, role := range g.AllowedRoles {
		if !role.IsConcrete() {
			return fmt.Errorf("group %q: allowed role %s is not concrete", g.Name, role)
		}
	}
	if !g.AllMembersAllowed && len(g.AllowedRoles) == 0 {
		return fmt.Errorf("group %q: nobody can join", g.Name)
	}
	return nil
}

// RuleSet is the static access configuration.
type RuleSet struct {
	Rules  []Rule            `yaml:"rules"`
	Groups []GroupDefinition `yaml:"groups"`
}

// Validate checks every rule and group and rejects duplicate group categories.
func (rs RuleSet) Validate() error {
	for _, rule := range rs.Rules {
		if err := rule.validate(); err != nil {
			return err
		}
	}

	seen := make(map[chat.Category]bool, len(rs.Groups))
	for _, group := range rs.Groups {
		if err := group.validate(); err != nil {
			return err
		}
		if seen[group.Category] {
			return fmt.Errorf("group category %s defined twice", group.Category)
		}
		seen[group.Category] = true
	}
	return nil
}

// DefaultRuleSet returns the built-in access table of the training organisation.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Rules: []Rule{
			{Source: user.RoleProvincialOfficer, Target: user.RoleCoordinationOfficer, AutoProvision: true},
			{Source: user.RoleCoordinationOfficer, Target: user.RoleSupervisor},
			{Source: user.RoleSupervisor, Target: user.RoleTrainer, RequiresSameSpecialization: true},
			{Source: user.RoleProjectManager, Target: user.RoleAny, RequiresApproval: true},
			{Source: user.RoleAdmin, Target: user.RoleAny},
		},
		Groups: []GroupDefinition{
			{
				Category:          chat.CategoryAnnouncement,
				Name:              "Announcements",
				AllowedRoles:      []user.Role{user.RoleAdmin, user.RoleProjectManager},
				AllMembersAllowed: true,
				IsReadOnly:        true,
			},
			{
				Category: chat.CategoryCoordination,
				Name:     "Coordination",
				AllowedRoles: []user.Role{
					user.RoleAdmin,
					user.RoleProjectManager,
					user.RoleProvincialOfficer,
					user.RoleCoordinationOfficer,
				},
			},
			{
				Category: chat.CategoryTrainingTeam,
				Name:     "Training Team",
				AllowedRoles: []user.Role{
					user.RoleCoordinationOfficer,
					user.RoleSupervisor,
					user.RoleTrainer,
				},
			},
		},
	}
}
