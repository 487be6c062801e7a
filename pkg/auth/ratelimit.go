package auth

import (
	"fmt"
	"net/http"

	"github.com/Mindburn-Labs/fabric/pkg/api"
	"github.com/Mindburn-Labs/fabric/pkg/limiter"
	"github.com/Mindburn-Labs/fabric/pkg/principal"
)

// RateLimitMiddleware enforces the per-actor limit after tenant resolution.
// The actor is "<tenant>/<principal>". Fails open on limiter store errors.
func RateLimitMiddleware(store limiter.Store, policy limiter.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := r.RemoteAddr
			if p, err := principal.FromContext(r.Context()); err == nil {
				actorID = fmt.Sprintf("%s/%s", p.GetTenantID(), p.GetID())
			}

			allowed, err := store.Allow(r.Context(), actorID, policy, 1)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				retryAfter := 60 / policy.RPM
				if retryAfter < 1 {
					retryAfter = 1
				}
				api.WriteTooManyRequests(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
