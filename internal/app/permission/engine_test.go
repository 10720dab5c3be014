package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainchat/internal/app/chat"
	"trainchat/internal/app/user"
)

func newUser(id string, role user.Role, specs ...string) user.User {
	return user.User{ID: id, DisplayName: id, Role: role, Specializations: specs}
}

func defaultEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultRuleSet())
	require.NoError(t, err)
	return e
}

func TestCanDirectChat_NoRuleDenies(t *testing.T) {
	e := defaultEngine(t)

	covered := map[rolePair]bool{
		newRolePair(user.RoleProvincialOfficer, user.RoleCoordinationOfficer): true,
		newRolePair(user.RoleCoordinationOfficer, user.RoleSupervisor):        true,
		newRolePair(user.RoleSupervisor, user.RoleTrainer):                    true,
	}

	for _, a := range user.Roles() {
		for _, b := range user.Roles() {
			if a == user.RoleAdmin || b == user.RoleAdmin || a == user.RoleProjectManager || b == user.RoleProjectManager {
				continue
			}
			if covered[newRolePair(a, b)] {
				continue
			}

			d := e.CanDirectChat(newUser("a", a, "x"), newUser("b", b, "x"))
			assert.False(t, d.Allowed, "%s -> %s", a, b)
			assert.Equal(t, ReasonNoRule, d.Reason, "%s -> %s", a, b)
		}
	}
}

func TestCanDirectChat_UnknownRoleDenies(t *testing.T) {
	e := defaultEngine(t)

	d := e.CanDirectChat(newUser("a", user.RoleUnknown), newUser("b", user.RoleAdmin))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoRule, d.Reason)
}

func TestCanDirectChat_SupervisorTrainer(t *testing.T) {
	e := defaultEngine(t)

	testCases := []struct {
		name       string
		supervisor []string
		trainer    []string
		allowed    bool
		reason     Reason
	}{
		{"shared specialization", []string{"first-aid", "logistics"}, []string{"logistics"}, true, ReasonNone},
		{"disjoint specializations", []string{"first-aid"}, []string{"logistics"}, false, ReasonSpecializationMismatch},
		{"supervisor has none", nil, []string{"logistics"}, false, ReasonSpecializationMissing},
		{"trainer has none", []string{"first-aid"}, nil, false, ReasonSpecializationMissing},
		{"empty tag only", []string{""}, []string{""}, false, ReasonSpecializationMissing},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			supervisor := newUser("s", user.RoleSupervisor, tc.supervisor...)
			trainer := newUser("t", user.RoleTrainer, tc.trainer...)

			d := e.CanDirectChat(supervisor, trainer)
			assert.Equal(t, tc.allowed, d.Allowed)
			assert.False(t, d.RequiresApproval)
			assert.Equal(t, tc.reason, d.Reason)
			assert.NotEqual(t, ReasonNoRule, d.Reason)

			swapped := e.CanDirectChat(trainer, supervisor)
			assert.Equal(t, d, swapped)
		})
	}
}

func TestCanDirectChat_ProjectManagerAlwaysNeedsApproval(t *testing.T) {
	e := defaultEngine(t)
	pm := newUser("pm", user.RoleProjectManager)

	for _, role := range user.Roles() {
		t.Run(role.String(), func(t *testing.T) {
			d := e.CanDirectChat(pm, newUser("other", role))
			assert.True(t, d.Allowed)
			assert.True(t, d.RequiresApproval)
			assert.Equal(t, ReasonApprovalRequired, d.Reason)
		})
	}
}

func TestCanDirectChat_ProvincialCoordinationIsImmediate(t *testing.T) {
	e := defaultEngine(t)

	d := e.CanDirectChat(newUser("p", user.RoleProvincialOfficer), newUser("c", user.RoleCoordinationOfficer))
	assert.Equal(t, Decision{Allowed: true}, d)
	assert.True(t, d.Immediate())
}

func TestCanDirectChat_SameUser(t *testing.T) {
	e := defaultEngine(t)
	admin := newUser("a", user.RoleAdmin)

	d := e.CanDirectChat(admin, admin)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonSameUser, d.Reason)
}

func TestCanDirectChat_IsSymmetric(t *testing.T) {
	e := defaultEngine(t)
	specs := [][]string{nil, {"first-aid"}, {"logistics"}}

	for _, a := range user.Roles() {
		for _, b := range user.Roles() {
			for _, sa := range specs {
				for _, sb := range specs {
					left := newUser("a", a, sa...)
					right := newUser("b", b, sb...)
					assert.Equal(t, e.CanDirectChat(left, right), e.CanDirectChat(right, left), "%s/%v <-> %s/%v", a, sa, b, sb)
				}
			}
		}
	}
}

func TestCanDirectChat_ExactPairWinsOverWildcard(t *testing.T) {
	e, err := NewEngine(RuleSet{Rules: []Rule{
		{Source: user.RoleProjectManager, Target: user.RoleAny, RequiresApproval: true},
		{Source: user.RoleTrainer, Target: user.RoleProjectManager},
	}})
	require.NoError(t, err)

	d := e.CanDirectChat(newUser("pm", user.RoleProjectManager), newUser("t", user.RoleTrainer))
	assert.True(t, d.Immediate())

	d = e.CanDirectChat(newUser("pm", user.RoleProjectManager), newUser("s", user.RoleSupervisor))
	assert.True(t, d.RequiresApproval)
}

func TestCanDirectChat_DuplicateRulesMergeRestrictively(t *testing.T) {
	e, err := NewEngine(RuleSet{Rules: []Rule{
		{Source: user.RoleSupervisor, Target: user.RoleTrainer},
		{Source: user.RoleTrainer, Target: user.RoleSupervisor, RequiresApproval: true},
	}})
	require.NoError(t, err)

	d := e.CanDirectChat(newUser("s", user.RoleSupervisor), newUser("t", user.RoleTrainer))
	assert.True(t, d.RequiresApproval)
}

func TestGroupAccess(t *testing.T) {
	e := defaultEngine(t)

	announcement, ok := e.GroupFor(chat.CategoryAnnouncement)
	require.True(t, ok)
	coordination, ok := e.GroupFor(chat.CategoryCoordination)
	require.True(t, ok)

	trainer := newUser("t", user.RoleTrainer)
	admin := newUser("a", user.RoleAdmin)
	provincial := newUser("p", user.RoleProvincialOfficer)

	t.Run("read-only group everyone joins, only allowed roles post", func(t *testing.T) {
		assert.True(t, e.CanJoinGroup(trainer, announcement))
		assert.False(t, e.CanPostInGroup(trainer, announcement))
		assert.True(t, e.CanJoinGroup(admin, announcement))
		assert.True(t, e.CanPostInGroup(admin, announcement))
	})

	t.Run("writable group posting equals membership", func(t *testing.T) {
		assert.False(t, e.CanJoinGroup(trainer, coordination))
		assert.False(t, e.CanPostInGroup(trainer, coordination))
		assert.True(t, e.CanJoinGroup(provincial, coordination))
		assert.True(t, e.CanPostInGroup(provincial, coordination))
	})

	_, ok = e.GroupFor(chat.CategoryAutoDirect)
	assert.False(t, ok)
}

func TestAutoProvisionedRoles(t *testing.T) {
	e := defaultEngine(t)

	assert.Equal(t, []user.Role{user.RoleCoordinationOfficer}, e.AutoProvisionedRoles(user.RoleProvincialOfficer))
	assert.Equal(t, []user.Role{user.RoleProvincialOfficer}, e.AutoProvisionedRoles(user.RoleCoordinationOfficer))
	assert.Empty(t, e.AutoProvisionedRoles(user.RoleTrainer))
}

func TestNewEngine_RejectsInvalidRuleSets(t *testing.T) {
	testCases := []struct {
		name string
		rs   RuleSet
	}{
		{"wildcard source", RuleSet{Rules: []Rule{{Source: user.RoleAny, Target: user.RoleAdmin}}}},
		{"unknown source", RuleSet{Rules: []Rule{{Source: user.RoleUnknown, Target: user.RoleAdmin}}}},
		{"auto provision with approval", RuleSet{Rules: []Rule{{Source: user.RoleAdmin, Target: user.RoleTrainer, RequiresApproval: true, AutoProvision: true}}}},
		{"auto provision wildcard", RuleSet{Rules: []Rule{{Source: user.RoleAdmin, Target: user.RoleAny, AutoProvision: true}}}},
		{"direct category group", RuleSet{Groups: []GroupDefinition{{Category: chat.CategoryAutoDirect, AllMembersAllowed: true}}}},
		{"nobody can join", RuleSet{Groups: []GroupDefinition{{Category: chat.CategoryCoordination}}}},
		{"duplicate category", RuleSet{Groups: []GroupDefinition{
			{Category: chat.CategoryCoordination, AllMembersAllowed: true},
			{Category: chat.CategoryCoordination, AllMembersAllowed: true},
		}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEngine(tc.rs)
			assert.Error(t, err)
		})
	}
}

func TestReasonTextsAreDistinct(t *testing.T) {
	seen := map[string]Reason{}
	for _, r := range []Reason{ReasonNoRule, ReasonSpecializationMissing, ReasonSpecializationMismatch, ReasonApprovalRequired, ReasonSameUser} {
		_, dup := seen[r.String()]
		assert.False(t, dup, "duplicate text for %v", r)
		seen[r.String()] = r
	}
}
