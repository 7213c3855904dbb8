// Package requestcontext provides transport-independent context accessors for
// values that belong to one command or lifecycle event.
//
// The façade sets them on entry; stores, audit helpers and tests read them:
//
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//	ctx = requestcontext.WithActorName(ctx, actor.Name())
//
//	requestID := requestcontext.RequestID(ctx)
package requestcontext

import (
	"context"

	"github.com/google/uuid"
)

type (
	requestIDKey struct{}
	actorNameKey struct{}
)

var (
	ContextKeyRequestID = requestIDKey{}
	ContextKeyActorName = actorNameKey{}
)

// RequestID retrieves the correlation ID from the context.
func RequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID injects a correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// EnsureRequestID returns ctx unchanged when it already carries a request ID,
// otherwise a child context with a fresh one.
func EnsureRequestID(ctx context.Context) context.Context {
	if RequestID(ctx) != "" {
		return ctx
	}
	return WithRequestID(ctx, uuid.NewString())
}

// ActorName retrieves the name of whoever issued the current command.
// Empty for scheduler-driven work.
func ActorName(ctx context.Context) string {
	if name, ok := ctx.Value(ContextKeyActorName).(string); ok {
		return name
	}
	return ""
}

// WithActorName injects the issuing actor's display name.
func WithActorName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ContextKeyActorName, name)
}
