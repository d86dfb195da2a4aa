package whitelist

import (
	"net/http"

	"github.com/jamestelfer/bearer-gate/internal/gate"
)

// Middleware places the current trust list in the request pipeline for the
// gates that follow. The list is captured once per request, so a reload
// mid-request does not change what later stages see.
func Middleware(provider Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, pipeline := gate.Context(r.Context())

			pipeline.Set(gate.PropertyWhitelist, provider.Entries())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
