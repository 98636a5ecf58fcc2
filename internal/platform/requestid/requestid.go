// Package requestid issues ids that correlate log lines of one request
// across the dispatcher and its workers.
package requestid

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header carries the id between services.
const Header = "X-Request-Id"

type ctxKey struct{}

func New() string {
	return uuid.NewString()
}

// FromContext returns the id stored by WithID.
func FromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKey{}).(string)
	return v, ok && v != ""
}

func WithID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}
