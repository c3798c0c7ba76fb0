package util

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

const maxRequestIDLen = 64

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the id stored by SetRequestID, or "" outside a request.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func NewRequestID() string {
	return uuid.New().String()
}

// RequestIDFrom keeps a caller-supplied id when it is short and printable,
// otherwise mints a new one.
func RequestIDFrom(incoming string) string {
	if incoming == "" || len(incoming) > maxRequestIDLen {
		return NewRequestID()
	}
	for i := 0; i < len(incoming); i++ {
		c := incoming[i]
		if c < 0x21 || c > 0x7e {
			return NewRequestID()
		}
	}
	return incoming
}
