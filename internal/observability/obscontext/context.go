// Package obscontext carries correlation identifiers through request contexts.
package obscontext

import "context"

type contextKey string

const (
	requestIDKey    contextKey = "request_id"
	subscriberIDKey contextKey = "subscriber_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if value, ok := ctx.Value(requestIDKey).(string); ok {
		return value
	}
	return ""
}

func WithSubscriberID(ctx context.Context, subscriberID string) context.Context {
	return context.WithValue(ctx, subscriberIDKey, subscriberID)
}

func SubscriberIDFromContext(ctx context.Context) string {
	if value, ok := ctx.Value(subscriberIDKey).(string); ok {
		return value
	}
	return ""
}
