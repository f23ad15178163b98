package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const actorKey contextKey = "actor"

// DefaultActor is attributed to requests that do not identify themselves.
const DefaultActor = "anonymous"

// ContextWithActor returns a new context carrying the acting principal.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the acting principal, falling back to
// DefaultActor when none was set.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return DefaultActor
	}
	actor, ok := ctx.Value(actorKey).(string)
	if !ok || strings.TrimSpace(actor) == "" {
		return DefaultActor
	}
	return actor
}

// Middleware extracts the X-Actor header into the request context so audit
// entries can attribute changes.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get("X-Actor"))
		if actor == "" {
			actor = DefaultActor
		}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
	})
}
