package actor

import (
	"context"
)

// Capabilities used by wpmeta actions
const (
	CapEditPosts     = "edit_posts"
	CapManageOptions = "manage_options"
)

// Actor is the WordPress user a request runs as
type Actor struct {
	ID           uint64
	Name         string
	IP           string
	Capabilities []string
}

// Can reports whether the actor holds capability
func (a Actor) Can(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// System is used for scheduled jobs and anything running outside a request
var System = Actor{ID: 0, Name: "system", Capabilities: []string{CapEditPosts, CapManageOptions}}

// actorKey is an unexported context key type.
type actorKey struct{}

// WithActor attaches the acting user to the context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// WithIP replaces the client address of the actor already in the context.
func WithIP(ctx context.Context, ip string) context.Context {
	a := FromContext(ctx)
	a.IP = ip
	return WithActor(ctx, a)
}

// FromContext extracts the actor, falling back to System.
func FromContext(ctx context.Context) Actor {
	if v := ctx.Value(actorKey{}); v != nil {
		if a, ok := v.(Actor); ok {
			return a
		}
	}
	return System
}
