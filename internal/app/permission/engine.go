/*
Package permission evaluates who may start a conversation with whom and who may join and
post in category groups.

The Engine is pure: it performs no I/O, holds no mutable state and never fails beyond
returning a denial with a reason. It is safe for concurrent use.
*/
package permission

import (
	"fmt"
	"slices"

	"trainchat/internal/app/chat"
	"trainchat/internal/app/user"
)

type rolePair struct {
	a, b user.Role
}

func newRolePair(a, b user.Role) rolePair {
	if b < a {
		a, b = b, a
	}
	return rolePair{a: a, b: b}
}

// Engine answers access questions against a validated RuleSet.
type Engine struct {
	// pairs holds the merged exact rules keyed by the unordered role pair.
	pairs map[rolePair]Rule

	// wildcards holds the merged (role, *) rules keyed by the concrete role.
	wildcards map[user.Role]Rule

	groups []GroupDefinition
}

// NewEngine validates rs and builds the lookup tables.
func NewEngine(rs RuleSet) (*Engine, error) {
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule set: %w", err)
	}

	e := &Engine{
		pairs:     make(map[rolePair]Rule),
		wildcards: make(map[user.Role]Rule),
		groups:    slices.Clone(rs.Groups),
	}

	for _, rule := range rs.Rules {
		if rule.Target == user.RoleAny {
			e.wildcards[rule.Source] = merge(e.wildcards[rule.Source], rule)
			continue
		}
		key := newRolePair(rule.Source, rule.Target)
		e.pairs[key] = merge(e.pairs[key], rule)
	}

	return e, nil
}

// MustNewEngine is NewEngine for rule sets known to be valid, such as DefaultRuleSet.
func MustNewEngine(rs RuleSet) *Engine {
	e, err := NewEngine(rs)
	if err != nil {
		panic(err)
	}
	return e
}

// merge combines two rules of the same lookup tier. Every gate is OR-ed so that the more
// restrictive rule wins and the result does not depend on evaluation order.
func merge(existing, rule Rule) Rule {
	if existing.Source == user.RoleUnknown {
		return rule
	}
	existing.RequiresSameSpecialization = existing.RequiresSameSpecialization || rule.RequiresSameSpecialization
	existing.RequiresApproval = existing.RequiresApproval || rule.RequiresApproval
	existing.AutoProvision = existing.AutoProvision && rule.AutoProvision
	return existing
}

// lookup finds the rule covering the two roles. An exact pair (either direction) wins over
// wildcard rules; wildcard rules from both sides are merged.
func (e *Engine) lookup(a, b user.Role) (Rule, bool) {
	if !a.IsConcrete() || !b.IsConcrete() {
		return Rule{}, false
	}

	if rule, ok := e.pairs[newRolePair(a, b)]; ok {
		return rule, true
	}

	ruleA, okA := e.wildcards[a]
	ruleB, okB := e.wildcards[b]
	switch {
	case okA && okB:
		return merge(ruleA, ruleB), true
	case okA:
		return ruleA, true
	case okB:
		return ruleB, true
	}
	return Rule{}, false
}

// CanDirectChat decides whether source may open a direct conversation with target.
// The result is the same with source and target swapped.
func (e *Engine) CanDirectChat(source, target user.User) Decision {
	if source.ID != "" && source.ID == target.ID {
		return deny(ReasonSameUser)
	}

	rule, ok := e.lookup(source.Role, target.Role)
	if !ok {
		return deny(ReasonNoRule)
	}

	if rule.RequiresSameSpecialization {
		if !source.HasSpecialization() || !target.HasSpecialization() {
			return deny(ReasonSpecializationMissing)
		}
		if !source.SharesSpecialization(target) {
			return deny(ReasonSpecializationMismatch)
		}
	}

	if rule.RequiresApproval {
		return allowWithApproval()
	}
	return allow()
}

// CanJoinGroup reports whether u may be a member of the group.
func (e *Engine) CanJoinGroup(u user.User, def GroupDefinition) bool {
	return def.AllMembersAllowed || def.allows(u.Role)
}

// CanPostInGroup reports whether u may send messages to the group. In a read-only group
// membership alone is not enough: the role must be in AllowedRoles.
func (e *Engine) CanPostInGroup(u user.User, def GroupDefinition) bool {
	if def.IsReadOnly {
		return def.allows(u.Role)
	}
	return e.CanJoinGroup(u, def)
}

// Groups returns the static group definitions in configuration order.
func (e *Engine) Groups() []GroupDefinition {
	return slices.Clone(e.groups)
}

// GroupFor returns the definition of the given group category.
func (e *Engine) GroupFor(category chat.Category) (GroupDefinition, bool) {
	for _, def := range e.groups {
		if def.Category == category {
			return def, true
		}
	}
	return GroupDefinition{}, false
}

// AutoProvisionedRoles returns the roles whose members are eagerly paired with a user of
// the given role.
func (e *Engine) AutoProvisionedRoles(role user.Role) []user.Role {
	var roles []user.Role
	for pair, rule := range e.pairs {
		if !rule.AutoProvision {
			continue
		}
		switch role {
		case pair.a:
			roles = append(roles, pair.b)
		case pair.b:
			roles = append(roles, pair.a)
		}
	}
	slices.Sort(roles)
	return slices.Compact(roles)
}
