package console

import (
	"context"
	"net/http"

	"github.com/hyperengineering/bidkit/internal/notify"
)

type noticesContextKey struct{}

// WithNotices returns a new context carrying a notice recorder.
func WithNotices(ctx context.Context, rec *notify.Recorder) context.Context {
	return context.WithValue(ctx, noticesContextKey{}, rec)
}

// NoticesFromContext returns the request's recorder. Outside a request it
// returns a fresh recorder so callers never need a nil check.
func NoticesFromContext(ctx context.Context) *notify.Recorder {
	if rec, ok := ctx.Value(noticesContextKey{}).(*notify.Recorder); ok && rec != nil {
		return rec
	}
	return &notify.Recorder{}
}

// NoticesMiddleware attaches a recorder to each request. Handlers include
// its notices in the JSON response.
func NoticesMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithNotices(r.Context(), &notify.Recorder{})))
	})
}
