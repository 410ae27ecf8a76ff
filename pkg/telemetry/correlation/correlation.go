// Package correlation ties together every log line, audit entry and span produced by one ledger request.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Header carries a caller-chosen correlation ID, e.g. the field app's offline sync batch.
const Header = "X-Correlation-Id"

type correlationKey struct{}

func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID returns the context's ID, minting a ULID when there is none.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}

// FromHeader prefers the upstream header value and falls back to the given ID.
func FromHeader(ctx context.Context, headerValue, fallback string) (context.Context, string) {
	if value := strings.TrimSpace(headerValue); value != "" && len(value) <= 128 {
		return ContextWithCorrelationID(ctx, value), value
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		return ContextWithCorrelationID(ctx, fallback), fallback
	}
	return EnsureCorrelationID(ctx)
}
