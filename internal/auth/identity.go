package auth

import (
	"context"
	"strings"
)

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleDoctor, RolePatient, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

// Identity is resolved once per connection from the bearer credential.
type Identity struct {
	SubjectID string `json:"subjectId"`
	Role      Role   `json:"role"`
}

// IsZero reports whether the identity could not be resolved.
func (i Identity) IsZero() bool {
	return strings.TrimSpace(i.SubjectID) == ""
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity injected by the auth middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok || id.IsZero() {
		return Identity{}, false
	}
	return id, true
}
