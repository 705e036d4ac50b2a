package provider

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/port"
)

// Outsourced is a placeholder for a third-party automation service. It
// satisfies the provider contract and fails every request loudly until a
// client for the service exists.
type Outsourced struct {
	name     string
	surfaces map[string]bool
	ids      []string
}

var _ port.ExecutionProvider = (*Outsourced)(nil)

// NewOutsourced creates a provider that claims surfaces but cannot run them.
func NewOutsourced(name string, surfaces []string) *Outsourced {
	o := &Outsourced{name: name, surfaces: make(map[string]bool, len(surfaces))}
	for _, id := range surfaces {
		if !o.surfaces[id] {
			o.surfaces[id] = true
			o.ids = append(o.ids, id)
		}
	}
	return o
}

func (o *Outsourced) Name() string { return o.name }

func (o *Outsourced) Supports(surfaceID string) bool { return o.surfaces[surfaceID] }

func (o *Outsourced) SupportedSurfaces() []string {
	return append([]string(nil), o.ids...)
}

func (o *Outsourced) Available() bool { return false }

func (o *Outsourced) Execute(_ context.Context, req *domain.ExecutionRequest) *domain.ExecutionResult {
	return &domain.ExecutionResult{
		ExecutionID: uuid.NewString(),
		SurfaceID:   req.SurfaceID,
		Error:       domain.NewSurfaceError(domain.CodeExecutionError, "provider unavailable: "+o.name, false, 0, nil),
		Metadata: domain.ExecutionMetadata{
			Provider:  o.name,
			StartedAt: time.Now(),
		},
	}
}

func (o *Outsourced) Health(_ context.Context) domain.ProviderHealthStatus {
	return domain.ProviderHealthStatus{
		Provider:          o.name,
		SupportedSurfaces: o.SupportedSurfaces(),
		LastError:         "provider unavailable",
	}
}

// EstimateCost is zero: nothing can be spent on a provider that cannot run.
func (o *Outsourced) EstimateCost(*domain.ExecutionRequest) float64 { return 0 }

func (o *Outsourced) Close() error { return nil }
