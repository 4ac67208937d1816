package testutil

import (
	"net/http"

	id "dukcapil/pkg/domain"
	"dukcapil/pkg/requestcontext"
)

// WithActor attaches an authenticated caller the way auth.RequireActor
// would, for tests that call handlers without a token. Invalid addresses
// leave the request anonymous.
func WithActor(req *http.Request, actor string) *http.Request {
	parsed, err := id.ParseActorID(actor)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithActor(req.Context(), parsed))
}
