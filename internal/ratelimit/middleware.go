package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"dukcapil/pkg/platform/httputil"
	"dukcapil/pkg/platform/middleware/request"
	"dukcapil/pkg/requestcontext"
)

// Middleware limits non-GET requests. Reads are never throttled.
type Middleware struct {
	store  Store
	limit  int
	window time.Duration
	logger *slog.Logger
}

func NewMiddleware(store Store, limit int, window time.Duration, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{store: store, limit: limit, window: window, logger: logger}
}

type exceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// Writes keys the limit on the authenticated actor, or the client IP for
// anonymous callers. A failing store lets the request through.
func (m *Middleware) Writes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || m.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := "ip:" + request.ClientIP(r)
		if actor := requestcontext.Actor(ctx); actor != "" {
			key = "actor:" + string(actor)
		}

		res, err := m.store.Allow(ctx, key, m.limit, m.window)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			retry := res.RetryAfter(time.Now())
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			m.logger.WarnContext(ctx, "rate limit exceeded", "key", key)
			httputil.WriteJSON(w, http.StatusTooManyRequests, exceededResponse{
				Error:      "rate_limit_exceeded",
				Message:    "too many write requests, try again later",
				RetryAfter: retry,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
