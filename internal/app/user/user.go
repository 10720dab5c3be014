/*
Package user contains core data structures related to user identity.

It defines the representation of a workforce member as seen by the chat core (the User struct),
the closed set of organisational roles, and the Directory interface through which the core
reads user records. The core never mutates users; the Directory owns them.
*/
package user

import (
	"context"
	"slices"
)

// User represents a member of the training organisation.
// Fields use JSON tags for serialization in API responses and WebSocket frames.
type User struct {

	// ID is the unique identifier assigned by the authentication provider.
	ID string `json:"id" yaml:"id"`

	// DisplayName is the human-readable name shown next to messages.
	DisplayName string `json:"displayName" yaml:"displayName"`

	// Role is the organisational role that drives chat access rules.
	Role Role `json:"role" yaml:"role"`

	// Specializations are training-domain tags (e.g. "first-aid") used to gate
	// supervisor and trainer conversations.
	Specializations []string `json:"specializations,omitempty" yaml:"specializations,omitempty"`
}

// SharesSpecialization reports whether u and other have at least one specialization in common.
func (u User) SharesSpecialization(other User) bool {
	for _, s := range u.Specializations {
		if s != "" && slices.Contains(other.Specializations, s) {
			return true
		}
	}
	return false
}

// HasSpecialization reports whether the user carries at least one non-empty specialization tag.
func (u User) HasSpecialization() bool {
	return slices.ContainsFunc(u.Specializations, func(s string) bool { return s != "" })
}

// Directory is the read-only source of user records.
type Directory interface {
	// GetUser returns the user with the given id, or store.ErrNotFound.
	GetUser(ctx context.Context, id string) (User, error)

	// ListUsersByRole returns every user holding the given role.
	ListUsersByRole(ctx context.Context, role Role) ([]User, error)
}
