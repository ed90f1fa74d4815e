// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them, services read them, without
// services importing net/http.
package requestcontext

import (
	"context"
)

type (
	requestIDKey   struct{}
	bearerTokenKey struct{}
)

// WithRequestID stores the request ID for traceability.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID retrieves the request ID, or "" when unset.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithBearerToken stores the raw bearer token extracted by transport
// middleware so authorizers can validate it.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenKey{}, token)
}

// BearerToken retrieves the raw bearer token, or "" when unset.
func BearerToken(ctx context.Context) string {
	v, _ := ctx.Value(bearerTokenKey{}).(string)
	return v
}
