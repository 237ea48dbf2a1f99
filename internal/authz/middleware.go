package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Ascentul/Ascentul-sub014/internal/shared"
)

// ActorResolver resolves the effective principal for a request, applying any
// active impersonation overlay on top of the cached role record.
type ActorResolver interface {
	EffectiveActor(ctx context.Context, sess *shared.Session) (Actor, error)
}

type actorContextKey struct{}

// ContextWithActor stores the resolved actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the resolved actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// DecisionMetrics counts guard outcomes per permission.
type DecisionMetrics interface {
	AuthzDecision(permission string, allowed bool)
}

// Middleware wires permission guards for HTTP handlers. The guard and any
// in-handler check share the one Evaluator, so there is a single rule table.
type Middleware struct {
	Evaluator *Evaluator
	Resolver  ActorResolver
	Logger    *slog.Logger
	Metrics   DecisionMetrics
}

// Require ensures the effective actor holds the permission before the handler
// runs. The resolved actor is placed in the request context for handlers that
// need resource-scoped re-checks.
func (m Middleware) Require(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil || sess.User() == "" {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			actor, err := m.Resolver.EffectiveActor(r.Context(), sess)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
				if m.Logger != nil {
					m.Logger.Error("authz resolve actor", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			allowed, err := m.Evaluator.Evaluate(permission, actor, Resource{})
			if err != nil {
				// Unknown key: fail closed and flag the configuration error.
				if m.Logger != nil {
					m.Logger.Error("authz configuration error", slog.String("permission", permission), slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if m.Metrics != nil {
				m.Metrics.AuthzDecision(permission, allowed)
			}
			if !allowed {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
		})
	}
}
