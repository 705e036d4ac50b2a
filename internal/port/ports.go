// Package port defines the interfaces (ports) between the execution layer
// and its collaborators. Following hexagonal architecture, these ports
// decouple providers and the failover manager from concrete adapters,
// browsers and proxy networks.
package port

import (
	"context"

	"github.com/boddenberg/surface-exec/internal/domain"
)

// SurfaceAdapter is the uniform contract every API or web adapter implements.
//
// Query never returns a Go error: every expected failure is reported as a
// SurfaceError inside a success=false response.
type SurfaceAdapter interface {
	Metadata() domain.SurfaceMetadata
	Query(ctx context.Context, req *domain.SurfaceQueryRequest) *domain.SurfaceQueryResponse
	// HealthCheck is a lightweight probe with no side effects on the surface.
	HealthCheck(ctx context.Context) domain.HealthCheckResult
	RateLimitStatus() domain.RateLimitStatus
	// Close releases sessions, browsers and sockets. Safe to call more than once.
	Close() error
}

// AdapterLookup resolves a surface id to its adapter.
type AdapterLookup interface {
	Get(surfaceID string) (SurfaceAdapter, bool)
	Has(surfaceID string) bool
	List() []domain.SurfaceMetadata
}

// ExecutionProvider is a backend able to execute queries against surfaces:
// the in-house adapters or an outsourced automation service.
type ExecutionProvider interface {
	Name() string
	Supports(surfaceID string) bool
	SupportedSurfaces() []string
	Execute(ctx context.Context, req *domain.ExecutionRequest) *domain.ExecutionResult
	Health(ctx context.Context) domain.ProviderHealthStatus
	EstimateCost(req *domain.ExecutionRequest) float64
	Available() bool
	Close() error
}

// ProxyResolver turns a target location into a proxy endpoint.
// The proxy network itself lives outside this module.
type ProxyResolver interface {
	Resolve(ctx context.Context, loc *domain.Location, sessionID string) (string, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
