package authclient

import (
	"context"
	"net/http"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// contextKeyRetried marks a request that has already been replayed once
	// after a refresh.
	contextKeyRetried ContextKey = "authclient_retried"
	// contextKeySkipRefresh marks a request that must never trigger a refresh.
	contextKeySkipRefresh ContextKey = "authclient_skip_refresh"
)

// RequestIDHeader carries a per-call id that is kept across replays.
const RequestIDHeader = "X-Request-ID"

// WithoutRefresh returns a context whose requests pass Unauthorized responses
// straight through, e.g. for login calls.
func WithoutRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeySkipRefresh, true)
}

func isRetried(req *http.Request) bool {
	v, _ := req.Context().Value(contextKeyRetried).(bool)
	return v
}

func markRetried(req *http.Request) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), contextKeyRetried, true))
}

func skipsRefresh(req *http.Request) bool {
	v, _ := req.Context().Value(contextKeySkipRefresh).(bool)
	return v
}
