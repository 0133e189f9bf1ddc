package utils

import (
	"context"
)

type contextKey string

const ContextSessionIDKey contextKey = "sessionID"

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextSessionIDKey, sessionID)
}

func GetSessionIDFromContext(ctx context.Context) (string, bool) {
	sessionID := ctx.Value(ContextSessionIDKey)
	sessionIDStr, ok := sessionID.(string)
	return sessionIDStr, ok
}
