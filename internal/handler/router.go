package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/failover"
	"github.com/boddenberg/surface-exec/internal/infra/observability"
	"github.com/boddenberg/surface-exec/internal/port"
	"github.com/boddenberg/surface-exec/internal/provider"
)

var tracer = otel.Tracer("handler")

// Deps are the collaborators the operator API reads from. Any of them may
// be nil in tests; routes that need a missing one answer 503.
type Deps struct {
	Failover *failover.Manager
	InHouse  *provider.InHouse
	Adapters port.AdapterLookup
	Auth     *TokenVerifier
	Metrics  *observability.Metrics
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(deps Deps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(deps.Failover))
	r.Get("/readyz", readyzHandler(deps.Adapters))
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(JWTAuthMiddleware(deps.Auth, logger))
		}

		// Surfaces
		r.Get("/surfaces", listSurfacesHandler(deps.Adapters))
		r.Get("/surfaces/{surfaceId}/health", surfaceHealthHandler(deps.InHouse, logger))
		r.Get("/surfaces/{surfaceId}/rate-limit", surfaceRateLimitHandler(deps.Adapters, logger))

		// Executions
		r.Post("/executions", executeHandler(deps.Failover, deps.Metrics, logger))
		r.Post("/executions/estimate", estimateHandler(deps.Failover, logger))

		// Providers & failover
		r.Get("/providers/health", providersHealthHandler(deps.Failover))
		r.Get("/failover", failoverHandler(deps.Failover))

		// Metrics
		r.Get("/metrics/summary", metricsSummaryHandler(deps.Metrics))
	})

	return r
}

// healthzHandler reports one entry per provider. A provider that is
// available but under its success threshold is degraded.
func healthzHandler(exec *failover.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "surface-exec", Status: "healthy", SuccessRate: 1, LastChecked: now},
		}
		if exec != nil {
			for _, p := range exec.Providers() {
				h := p.Health(ctx)
				status := "healthy"
				switch {
				case !h.Available:
					status = "unhealthy"
				case !h.Healthy:
					status = "degraded"
				}
				services = append(services, domain.ServiceHealth{
					Name:        h.Provider,
					Status:      status,
					LatencyMs:   int64(h.AvgLatencyMs),
					SuccessRate: h.SuccessRate,
					LastChecked: now,
				})
			}
		}

		overallStatus := "healthy"
		available := 0
		for _, s := range services[1:] {
			if s.Status != "unhealthy" {
				available++
			}
			if s.Status != "healthy" {
				overallStatus = "degraded"
			}
		}
		if exec != nil && available == 0 {
			overallStatus = "unhealthy"
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

// readyzHandler is ready once at least one surface is registered.
func readyzHandler(adapters port.AdapterLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if adapters != nil && len(adapters.List()) == 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no surfaces registered"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func providersHealthHandler(exec *failover.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if exec == nil {
			writeError(w, http.StatusServiceUnavailable, "execution layer not configured")
			return
		}
		providers := exec.Providers()
		out := make([]domain.ProviderHealthStatus, 0, len(providers))
		for _, p := range providers {
			out = append(out, p.Health(r.Context()))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type failoverResponse struct {
	Config domain.FailoverConfig `json:"config"`
	Pairs  []failover.PairStatus `json:"pairs"`
}

func failoverHandler(exec *failover.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if exec == nil {
			writeError(w, http.StatusServiceUnavailable, "execution layer not configured")
			return
		}
		writeJSON(w, http.StatusOK, failoverResponse{Config: exec.Config(), Pairs: exec.Snapshot()})
	}
}

func metricsSummaryHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if metrics == nil {
			writeError(w, http.StatusServiceUnavailable, "metrics not configured")
			return
		}
		writeJSON(w, http.StatusOK, metrics.Summary())
	}
}
