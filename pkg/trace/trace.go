package trace

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// WithTrace returns a context carrying the given trace id.
func WithTrace(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the trace id carried by ctx, minting a fresh one when
// the context has none. Log correlation only; never used for control flow.
func FromContext(ctx context.Context) string {
	if ctx != nil {
		if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// New mints a fresh trace id.
func New() string { return uuid.NewString() }
