// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Values are set by transport middleware and consumed by services. Keeping
// this package free of net/http lets flows and the projection engine import
// only what they need.
//
// Usage in flows (read values):
//
//	registrar := requestcontext.RegistrarID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithRegistrarID(ctx, "NewRegistrar")
package requestcontext

import (
	"context"
	"time"

	id "registryd/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	registrarIDKey struct{}
	clientTridKey  struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
	superuserKey   struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyRegistrarID = registrarIDKey{}
	ContextKeyClientTrid  = clientTridKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
	ContextKeySuperuser   = superuserKey{}
)

// RegistrarID retrieves the authenticated registrar from the context.
// Returns the zero value if not set.
func RegistrarID(ctx context.Context) id.RegistrarID {
	if r, ok := ctx.Value(ContextKeyRegistrarID).(id.RegistrarID); ok {
		return r
	}
	return ""
}

// WithRegistrarID injects a registrar ID into the context.
func WithRegistrarID(ctx context.Context, registrarID id.RegistrarID) context.Context {
	return context.WithValue(ctx, ContextKeyRegistrarID, registrarID)
}

// ClientTrid retrieves the registrar-supplied transaction ID, if any.
func ClientTrid(ctx context.Context) string {
	if t, ok := ctx.Value(ContextKeyClientTrid).(string); ok {
		return t
	}
	return ""
}

// WithClientTrid injects a client transaction ID into the context.
func WithClientTrid(ctx context.Context, clientTrid string) context.Context {
	return context.WithValue(ctx, ContextKeyClientTrid, clientTrid)
}

// RequestID retrieves the server-assigned request correlation ID.
func RequestID(ctx context.Context) string {
	if r, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return r
	}
	return ""
}

// WithRequestID injects a request correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Superuser reports whether the request runs with registry-operator
// privileges, which relax the one-year transfer period rule.
func Superuser(ctx context.Context) bool {
	if s, ok := ctx.Value(ContextKeySuperuser).(bool); ok {
		return s
	}
	return false
}

// WithSuperuser marks the context as a registry-operator request.
func WithSuperuser(ctx context.Context, superuser bool) context.Context {
	return context.WithValue(ctx, ContextKeySuperuser, superuser)
}

// Now retrieves the request time from the context, falling back to the wall
// clock only when no middleware or test has injected one. All flow and
// projection logic must take its notion of "now" from here so behavior is a
// pure function of the injected instant.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for:
//   - Service unit tests that don't run the full middleware chain
//   - Replaying historical commands at their original instants
//   - Batch operations that need one consistent time
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
