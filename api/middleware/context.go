package middleware

import "context"

type contextKey string

const (
	ctxActor     contextKey = "actor"
	ctxRequestID contextKey = "request_id"
)

// ActorFromContext returns the operator recorded by AdminKey, or "".
func ActorFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxActor)
}

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ctxActor, actor)
}

// RequestIDFromContext returns the id assigned by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxRequestID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestID, requestID)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
