package observability

import (
	"context"

	"github.com/google/uuid"
)

type correlationKey struct{}

// CorrelationIDKey is the log field name carrying the active correlation id.
const CorrelationIDKey = "correlation_id"

// CorrelationID returns the correlation id carried by ctx, if any.
func CorrelationID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(correlationKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// EnsureCorrelationID returns the id already carried by ctx or, when there
// is none, a freshly generated one together with a context that carries it.
// Subsequent calls on the returned context yield the same id.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id, ok := CorrelationID(ctx); ok {
		return ctx, id
	}
	id := NewCorrelationID()
	return WithCorrelationID(ctx, id), id
}

// WithCorrelationID returns a copy of ctx carrying id. An empty id clears
// whatever the parent carried.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// WithoutCorrelationID returns a copy of ctx with no active correlation id.
func WithoutCorrelationID(ctx context.Context) context.Context {
	if _, ok := CorrelationID(ctx); !ok {
		return ctx
	}
	return WithCorrelationID(ctx, "")
}

// WithCorrelationScope runs fn with id bound as the active correlation id.
// An empty id generates a new one. The caller's ctx is left untouched, so
// whatever id it carried before is still in effect after fn returns, fails
// or panics.
func WithCorrelationScope(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	if id == "" {
		id = NewCorrelationID()
	}
	return fn(WithCorrelationID(ctx, id))
}

// NewCorrelationID generates a random UUIDv4 string.
func NewCorrelationID() string {
	return uuid.New().String()
}
