package observability

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey struct{}

// requestState is shared by every copy of a request context so inner handlers
// can report the matched route back to the outer middlewares.
type requestState struct {
	traceID string
	route   string
}

const unmatchedRoute = "unmatched"

func stateFrom(ctx context.Context) *requestState {
	state, _ := ctx.Value(ctxKey{}).(*requestState)
	return state
}

func ensureState(ctx context.Context) (context.Context, *requestState) {
	if state := stateFrom(ctx); state != nil {
		return ctx, state
	}
	state := &requestState{}
	return context.WithValue(ctx, ctxKey{}, state), state
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	ctx, state := ensureState(ctx)
	state.traceID = traceID
	return ctx
}

func TraceIDFromContext(ctx context.Context) string {
	if state := stateFrom(ctx); state != nil {
		return state.traceID
	}
	return ""
}

// Route tags requests served by handler with pattern. Metrics and request logs
// use the pattern instead of the raw path so ids in URLs do not become labels.
func Route(pattern string, handler http.Handler) http.Handler {
	route := pattern
	if _, path, ok := strings.Cut(pattern, " "); ok {
		route = path
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if state := stateFrom(r.Context()); state != nil {
			state.route = route
		}
		handler.ServeHTTP(w, r)
	})
}

func routeFromContext(ctx context.Context) string {
	if state := stateFrom(ctx); state != nil && state.route != "" {
		return state.route
	}
	return unmatchedRoute
}
