package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/expenseflow/internal/platform/httpx"
	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// Middleware enforces authentication and permissions.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireActor resolves the session owner into the request actor.
func (m Middleware) RequireActor() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil || sess.User() == "" {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			actor, err := m.Service.ResolveActor(r.Context(), sess.User())
			if err != nil {
				if shared.KindOf(err) == shared.KindInternal && m.Logger != nil {
					m.Logger.Error("resolve actor", slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	}
}

// RequireAny ensures the actor holds at least one of the permissions.
func (m Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return m.require(func(role shared.Role) bool {
		for _, p := range perms {
			if Grants(role, p) {
				return true
			}
		}
		return false
	})
}

// RequireAll ensures the actor holds all permissions.
func (m Middleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	return m.require(func(role shared.Role) bool {
		for _, p := range perms {
			if !Grants(role, p) {
				return false
			}
		}
		return true
	})
}

func (m Middleware) require(allowed func(shared.Role) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			if !allowed(actor.Role) {
				if m.Logger != nil {
					m.Logger.Warn("permission denied",
						slog.String("user_id", actor.ID.String()),
						slog.String("role", string(actor.Role)),
						slog.String("path", r.URL.Path))
				}
				httpx.RespondError(w, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
