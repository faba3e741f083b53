package middleware

import (
	"context"
	"net/http"
	"strings"
)

// CallerIDHeader carries the opaque caller identity. Authentication happens
// upstream; this service treats the value as an opaque token and only uses
// it to scope sessions.
const CallerIDHeader = "X-Caller-ID"

const callerIDKey = contextKey("caller_id")

// CallerIDFromContext returns the caller identity, or "" when the request
// was anonymous.
func CallerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(callerIDKey).(string)
	return id
}

// CallerID extracts the caller identity from X-Caller-ID, falling back to a
// Bearer token. Identity is optional: requests without one proceed as
// anonymous.
func CallerID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CallerIDHeader)
		if id == "" {
			auth := r.Header.Get("Authorization")
			if parts := strings.SplitN(auth, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				id = parts[1]
			}
		}
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), callerIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
