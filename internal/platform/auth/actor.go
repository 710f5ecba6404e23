package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Role is the closed set of actor roles known to the access gate.
type Role int

const (
	// RoleOther covers every role the clinical record does not recognise,
	// including the zero value of an unauthenticated request.
	RoleOther Role = iota
	RoleAdmin
	// RoleProfessional is the "USER" role issued to clinicians.
	RoleProfessional
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "ADMIN"
	case RoleProfessional:
		return "USER"
	default:
		return "OTHER"
	}
}

// ParseRole maps a role claim onto the enum. Unknown values become RoleOther.
func ParseRole(s string) Role {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ADMIN":
		return RoleAdmin
	case "USER", "PROFESSIONAL":
		return RoleProfessional
	default:
		return RoleOther
	}
}

// Actor is the authenticated caller supplied by the authentication layer.
type Actor struct {
	ID   uuid.UUID
	Role Role
	// ProfessionalID links the account to a professional record, when it has one.
	ProfessionalID *uuid.UUID
	ModuleGrants   []string
}

// Authenticated reports whether the actor carries an identity.
func (a Actor) Authenticated() bool {
	return a.ID != uuid.Nil
}

// HasModule reports whether the actor was granted the named application module.
func (a Actor) HasModule(module string) bool {
	for _, m := range a.ModuleGrants {
		if m == module {
			return true
		}
	}
	return false
}

// IDPtr returns the actor id for nullable columns, nil when unauthenticated.
func (a Actor) IDPtr() *uuid.UUID {
	if !a.Authenticated() {
		return nil
	}
	id := a.ID
	return &id
}

type contextKey string

const ActorKey contextKey = "actor"

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ActorKey, a)
}

// ActorFromContext returns the actor set by the auth middleware. The zero
// Actor (RoleOther, no id) is returned when none is present.
func ActorFromContext(ctx context.Context) Actor {
	a, _ := ctx.Value(ActorKey).(Actor)
	return a
}
