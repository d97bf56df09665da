package middleware

import (
	"net/http"

	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/internal/guard"
	"github.com/quickcourier/qcs-api/internal/http/response"
)

// maxPasses bounds reevaluation after an in-place session repair. One repair
// pass plus one normal pass is the expected ceiling.
const maxPasses = 3

// Protect evaluates the route guard against the request's session and either
// passes the request through or applies the guard's single redirect.
func Protect(g *guard.Guard, req domain.RouteRequirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			src := Source(r)

			// The guest ID survives sign-in, so state saved before
			// authenticating is found again afterwards.
			visitorID := GuestIDFrom(r)
			if visitorID == "" {
				if claims := Claims(r); claims != nil {
					visitorID = claims.SessionID
				}
			}

			route := guard.Route{Path: r.URL.Path, Query: r.URL.RawQuery}

			var d domain.Decision
			for pass := 0; pass < maxPasses; pass++ {
				d = g.Evaluate(r.Context(), src, visitorID, route, req)
				if d.Kind != domain.DecisionReevaluate {
					break
				}
			}

			switch d.Kind {
			case domain.DecisionAllow:
				next.ServeHTTP(w, r)
			case domain.DecisionRedirect:
				http.Redirect(w, r, d.RedirectURL(), http.StatusSeeOther)
			default:
				// Wait: an overlapping evaluation is in flight, or the
				// session is still initializing. The client retries.
				w.Header().Set("Retry-After", "1")
				response.WriteError(w, http.StatusServiceUnavailable,
					"session evaluation in progress", response.CodeEvaluationBusy)
			}
		})
	}
}
