// Package actor identifies the user performing a ledger operation.
// Authentication itself is an external collaborator; by the time an
// operation runs, the transport layer has already resolved a valid actor.
package actor

import (
	"context"
	"fmt"
)

// Role is the closed set of roles the ledger distinguishes.
type Role string

const (
	RoleFaculty      Role = "faculty"
	RoleLabAssistant Role = "lab_assistant"
	RoleAdmin        Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleFaculty, RoleLabAssistant, RoleAdmin:
		return true
	}
	return false
}

// IsAdmin reports whether the role carries admin privileges.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// Actor represents the entity performing an action in the system.
type Actor struct {
	// ID is the unique identifier of the actor (user ID)
	ID string `json:"id"`

	// Name is the actor's display name
	Name string `json:"name"`

	// Email is the actor's email address
	Email string `json:"email"`

	// Role is the actor's role
	Role Role `json:"role"`
}

// String returns a string representation of the actor for logging
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	return fmt.Sprintf("%s (%s)", a.Name, a.Email)
}

// IsSystem returns true if the actor represents the system.
func (a *Actor) IsSystem() bool {
	if a == nil {
		return true
	}
	return a.ID == systemActorID
}

const systemActorID = "00000000-0000-0000-0000-000000000000"

// SystemActor returns an Actor representing the system itself.
// Use this for scheduled jobs and system-initiated operations.
func SystemActor() *Actor {
	return &Actor{
		ID:    systemActorID,
		Name:  "System",
		Email: "system@labstock.local",
		Role:  RoleAdmin,
	}
}

// contextKey is the type for context keys to avoid collisions
type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context.
// Returns nil if no actor is present (e.g., system operations).
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return a
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}
