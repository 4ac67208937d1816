// Package requesttime pins one "now" per request. Every timestamp written
// while handling the request (trail entries, history, envelopes, audit
// events) reads it through requestcontext.Now.
package requesttime

import (
	"net/http"
	"time"

	"dukcapil/pkg/requestcontext"
)

// Middleware stores clock() in the request context.
func Middleware(clock func() time.Time) func(http.Handler) http.Handler {
	if clock == nil {
		clock = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), clock())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
