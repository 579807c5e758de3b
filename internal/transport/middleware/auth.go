package middleware

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/transport"
	"github.com/frahmantamala/cashback-settlement/pkg/logger"
)

type Authenticator interface {
	Authenticate(tokenString string) (internal.Actor, error)
}

// Authenticate resolves the Bearer token into an actor and stores it, and a
// logger tagged with it, in the request context.
func Authenticate(authn Authenticator, base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := transport.ExtractTokenFromHeader(r)
			if token == "" {
				transport.RenderError(w, logger.FromOr(r.Context(), base), internal.ErrInvalidToken)
				return
			}

			actor, err := authn.Authenticate(token)
			if err != nil {
				transport.RenderError(w, logger.FromOr(r.Context(), base), err)
				return
			}

			ctx := internal.ContextWithActor(r.Context(), actor)
			ctx = logger.With(ctx, "actor_type", actor.Type, "actor_id", actor.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
