package flow

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}

// WithRunID binds the run identity to a handler invocation's context.
func WithRunID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom extracts the run identity threaded through dispatch. Terminal
// workers use it to correlate journal entries to their run.
func RunIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(runIDKey{}).(uuid.UUID)
	return id, ok
}
