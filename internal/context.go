package internal

import (
	"context"
	"time"
)

type ctxKey string

const ContextActorKey ctxKey = "actor"

type ActorType string

const (
	ActorBusinessUser ActorType = "business_user"
	ActorAdminUser    ActorType = "admin_user"
	ActorSystem       ActorType = "system"
)

// Actor is the authenticated principal performing an operation.
type Actor struct {
	Type       ActorType `json:"type"`
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id,omitempty"`
}

func (a Actor) IsAdmin() bool {
	return a.Type == ActorAdminUser
}

func (a Actor) IsSystem() bool {
	return a.Type == ActorSystem
}

// CanAccessBusiness reports whether the actor may act on data owned by businessID.
func (a Actor) CanAccessBusiness(businessID string) bool {
	switch a.Type {
	case ActorAdminUser, ActorSystem:
		return true
	case ActorBusinessUser:
		return a.BusinessID != "" && a.BusinessID == businessID
	}
	return false
}

var SystemActor = Actor{Type: ActorSystem, ID: "deadline-sweeper"}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(ContextActorKey).(Actor)
	return actor, ok
}

func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ContextActorKey, actor)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
