package adapter

import (
	"context"

	"github.com/boddenberg/surface-exec/internal/domain"
)

type routingKey struct{}

// Routing carries per-execution network placement to the adapter.
type Routing struct {
	Proxy     string
	Location  *domain.Location
	SessionID string
}

// WithRouting attaches r to ctx.
func WithRouting(ctx context.Context, r Routing) context.Context {
	return context.WithValue(ctx, routingKey{}, r)
}

// RoutingFrom returns the routing attached to ctx, if any.
func RoutingFrom(ctx context.Context) (Routing, bool) {
	r, ok := ctx.Value(routingKey{}).(Routing)
	return r, ok
}
