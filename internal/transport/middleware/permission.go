package middleware

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/transport"
	"github.com/frahmantamala/cashback-settlement/pkg/logger"
)

// RequireAdmin lets only administrator actors through. It must run after Authenticate.
func RequireAdmin(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lg := logger.FromOr(r.Context(), base)
			actor, ok := internal.ActorFromContext(r.Context())
			if !ok {
				transport.RenderError(w, lg, internal.ErrInvalidToken)
				return
			}
			if !actor.IsAdmin() {
				lg.Warn("access denied: administrator role required",
					"actor_id", actor.ID,
					"actor_type", actor.Type,
					"path", r.URL.Path)
				transport.RenderError(w, lg, internal.ErrAdminRequired)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
