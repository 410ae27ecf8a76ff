package actorcontext

import (
	"context"
	"strings"
)

// ActorType values recorded on audit and history entries.
const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// ActorContextKey is the request context key for the authenticated user ID.
type ActorContextKey struct{}

// WithUserID stores the authenticated user ID in the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ActorContextKey{}, strings.TrimSpace(userID))
}

// UserIDFromContext returns the authenticated user ID, if set.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	value, ok := ctx.Value(ActorContextKey{}).(string)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}
