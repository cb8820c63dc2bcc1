package common

import (
	"context"

	"github.com/google/uuid"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyCycleID    contextKey = "cycle_id"
	ContextKeyDocumentID contextKey = "document_id"
)

// WithCycleID tags a context with the id of the scan cycle it belongs to.
func WithCycleID(ctx context.Context, cycleID string) context.Context {
	return context.WithValue(ctx, ContextKeyCycleID, cycleID)
}

// NewCycleContext tags ctx with a fresh cycle id and returns it too.
func NewCycleContext(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return WithCycleID(ctx, id), id
}

// CycleIDFromContext extracts the cycle ID from context
func CycleIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyCycleID).(string); ok {
		return id
	}
	return ""
}

// WithDocumentID adds a document ID to the context
func WithDocumentID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ContextKeyDocumentID, id)
}

// DocumentIDFromContext extracts the document ID from context
func DocumentIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ContextKeyDocumentID).(int64)
	return id, ok
}
