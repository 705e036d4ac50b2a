// Package provider implements execution backends. InHouse runs queries
// through this process's own adapters; Outsourced stands in for third-party
// automation services.
package provider

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/surface-exec/internal/adapter"
	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/errclass"
	"github.com/boddenberg/surface-exec/internal/infra/observability"
	"github.com/boddenberg/surface-exec/internal/infra/resilience"
	"github.com/boddenberg/surface-exec/internal/port"
)

var tracer = otel.Tracer("provider")

// InHouseName is the name the in-house provider reports.
const InHouseName = "in-house"

// InHouseConfig tunes health reporting and routing.
type InHouseConfig struct {
	// Window is the span of the rolling health window.
	Window time.Duration
	// SuccessThreshold is the windowed success rate below which the
	// provider reports itself unhealthy.
	SuccessThreshold float64
	// ProbeConcurrency bounds parallel adapter health checks.
	ProbeConcurrency int
	Proxy            port.ProxyResolver
}

// InHouse delegates execution to registered adapters.
type InHouse struct {
	adapters port.AdapterLookup
	cfg      InHouseConfig
	probes   port.Cache[domain.HealthCheckResult]
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time

	window *resilience.OutcomeWindow
	closed atomic.Bool

	mu          sync.Mutex
	total       int64
	successes   int64
	cumLatency  time.Duration
	lastSuccess *time.Time
	lastError   string
}

var _ port.ExecutionProvider = (*InHouse)(nil)

// NewInHouse creates the in-house provider. probes caches adapter health
// checks between calls to ProbeAll.
func NewInHouse(
	adapters port.AdapterLookup,
	cfg InHouseConfig,
	probes port.Cache[domain.HealthCheckResult],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *InHouse {
	if cfg.SuccessThreshold <= 0 || cfg.SuccessThreshold > 1 {
		cfg.SuccessThreshold = domain.DefaultFailoverConfig().SuccessRateThreshold
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = 4
	}
	return &InHouse{
		adapters: adapters,
		cfg:      cfg,
		probes:   probes,
		metrics:  metrics,
		logger:   logger.With(zap.String("provider", InHouseName)),
		now:      time.Now,
		window:   resilience.NewOutcomeWindow(cfg.Window),
	}
}

func (p *InHouse) Name() string {
	return InHouseName
}

func (p *InHouse) Supports(surfaceID string) bool {
	return p.adapters.Has(surfaceID)
}

func (p *InHouse) SupportedSurfaces() []string {
	list := p.adapters.List()
	ids := make([]string, 0, len(list))
	for _, m := range list {
		ids = append(ids, m.ID)
	}
	return ids
}

func (p *InHouse) Available() bool {
	return !p.closed.Load()
}

// Execute runs req on the adapter registered for its surface. It never
// returns nil and never panics.
func (p *InHouse) Execute(ctx context.Context, req *domain.ExecutionRequest) *domain.ExecutionResult {
	ctx, span := tracer.Start(ctx, "InHouse.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("surface.id", req.SurfaceID))

	start := p.now()
	res := &domain.ExecutionResult{
		ExecutionID: uuid.NewString(),
		SurfaceID:   req.SurfaceID,
		Metadata: domain.ExecutionMetadata{
			Provider:         InHouseName,
			StartedAt:        start,
			EstimatedCostUSD: p.EstimateCost(req),
			LocationUsed:     req.Location,
		},
	}
	defer func() {
		res.Metadata.ExecutionTimeMs = p.now().Sub(start).Milliseconds()
		if res.Error != nil {
			span.SetStatus(codes.Error, string(res.Error.Code))
		}
		p.metrics.RecordExecution(res)
	}()

	a, ok := p.adapters.Get(req.SurfaceID)
	if !ok {
		res.Error = domain.NewSurfaceError(domain.CodeUnsupportedSurface,
			fmt.Sprintf("surface %q is not supported by %s", req.SurfaceID, InHouseName), false, 0, nil)
		return res
	}

	proxy, err := p.resolveProxy(ctx, req)
	if err != nil {
		res.Error = executionError(fmt.Sprintf("resolve proxy: %v", err), err)
		p.record(start, false, 0, res.Error)
		return res
	}
	res.Metadata.ProxyUsed = proxy

	ctx = adapter.WithRouting(ctx, adapter.Routing{Proxy: proxy, Location: req.Location, SessionID: req.SessionID})
	resp, se := p.query(ctx, a, req.SurfaceQuery())
	latency := p.now().Sub(start)
	if se != nil {
		res.Error = se
		p.logger.Error("adapter failed outside its contract",
			zap.String("surface_id", req.SurfaceID),
			zap.String("error", se.Message),
		)
		p.record(start, false, latency, se)
		return res
	}

	res.Success = resp.Success
	res.Response = resp
	res.Error = resp.Error
	res.Metadata.ProviderMetadata = map[string]any{
		"attempts": len(resp.Attempts),
		"category": string(a.Metadata().Category),
	}
	p.record(start, resp.Success, latency, resp.Error)
	return res
}

// query calls the adapter, turning a panic or a nil response into an
// EXECUTION_ERROR.
func (p *InHouse) query(ctx context.Context, a port.SurfaceAdapter, q *domain.SurfaceQueryRequest) (resp *domain.SurfaceQueryResponse, se *domain.SurfaceError) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			se = executionError(fmt.Sprintf("adapter panic: %v", r), nil)
		}
	}()
	resp = a.Query(ctx, q)
	if resp == nil {
		return nil, domain.NewSurfaceError(domain.CodeExecutionError, "adapter returned no response", false, 0, nil)
	}
	if !resp.Success && resp.Error == nil {
		resp.Error = domain.NewSurfaceError(domain.CodeUnknown, "adapter reported failure without an error", false, 0, nil)
	}
	return resp, nil
}

// executionError wraps a provider-level failure, borrowing retryability
// from the keyword classes adapters use.
func executionError(msg string, cause error) *domain.SurfaceError {
	c := errclass.ClassifyMessage(msg)
	return domain.NewSurfaceError(domain.CodeExecutionError, msg, c.Retryable, c.RetryAfter(), cause)
}

func (p *InHouse) resolveProxy(ctx context.Context, req *domain.ExecutionRequest) (string, error) {
	if req.Proxy != "" {
		return req.Proxy, nil
	}
	if req.Location == nil || p.cfg.Proxy == nil {
		return "", nil
	}
	return p.cfg.Proxy.Resolve(ctx, req.Location, req.SessionID)
}

func (p *InHouse) record(at time.Time, success bool, latency time.Duration, se *domain.SurfaceError) {
	p.window.Record(at, p.now(), success, latency)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++
	p.cumLatency += latency
	if success {
		p.successes++
		t := at.Add(latency)
		p.lastSuccess = &t
		return
	}
	if se != nil {
		p.lastError = se.Error()
	}
}

// Health summarises the rolling window. A provider with no recent traffic
// reports healthy.
func (p *InHouse) Health(_ context.Context) domain.ProviderHealthStatus {
	stats := p.window.Stats(p.now())

	p.mu.Lock()
	defer p.mu.Unlock()
	st := domain.ProviderHealthStatus{
		Provider:          InHouseName,
		Available:         !p.closed.Load(),
		SuccessRate:       stats.SuccessRate(),
		AvgLatencyMs:      float64(stats.AvgLatency.Milliseconds()),
		WindowQueries:     stats.Total,
		TotalQueries:      p.total,
		SupportedSurfaces: p.SupportedSurfaces(),
		LastError:         p.lastError,
	}
	st.Healthy = st.Available && st.SuccessRate >= p.cfg.SuccessThreshold
	if p.lastSuccess != nil {
		t := *p.lastSuccess
		st.LastSuccessAt = &t
	}
	return st
}

// LifetimeStats returns the counters kept since the provider started.
func (p *InHouse) LifetimeStats() (total, successes int64, avgLatency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total > 0 {
		avgLatency = p.cumLatency / time.Duration(p.total)
	}
	return p.total, p.successes, avgLatency
}

// Cost heuristics in USD. Browser surfaces pay for a browser and usually
// a proxy; API surfaces only for tokens.
const (
	costAPI       = 0.002
	costWeb       = 0.02
	costSearch    = 0.015
	costUnknown   = 0.01
	costEvidence  = 0.005
	costProxy     = 0.003
	costFullShots = 0.002
)

// EstimateCost returns a pre-flight budget figure, not a bill.
func (p *InHouse) EstimateCost(req *domain.ExecutionRequest) float64 {
	var category domain.SurfaceCategory
	if a, ok := p.adapters.Get(req.SurfaceID); ok {
		category = a.Metadata().Category
	}
	kind := domain.SurfaceKind(req.SurfaceID, category)

	var cost float64
	switch kind {
	case "api":
		cost = costAPI
	case "web":
		cost = costWeb
	case "search":
		cost = costSearch
	default:
		cost = costUnknown
	}
	q := req.SurfaceQuery()
	switch q.Evidence() {
	case domain.EvidenceFull:
		cost += costEvidence + costFullShots
	case domain.EvidenceBasic:
		cost += costEvidence
	}
	if kind != "api" && (req.Proxy != "" || req.Location != nil) {
		cost += costProxy
	}
	return cost
}

// SurfaceHealth returns the health of one adapter, probing it at most once
// per cache TTL.
func (p *InHouse) SurfaceHealth(ctx context.Context, surfaceID string) (domain.HealthCheckResult, bool) {
	a, ok := p.adapters.Get(surfaceID)
	if !ok {
		return domain.HealthCheckResult{}, false
	}
	return p.probe(ctx, surfaceID, a), true
}

func (p *InHouse) probe(ctx context.Context, surfaceID string, a port.SurfaceAdapter) domain.HealthCheckResult {
	key := "health:" + surfaceID
	if hc, ok := p.probes.Get(key); ok {
		p.metrics.IncrCacheHit("surface_health")
		return hc
	}
	p.metrics.IncrCacheMiss("surface_health")
	hc := a.HealthCheck(ctx)
	p.probes.Set(key, hc)
	return hc
}

// ProbeAll checks every registered adapter concurrently.
func (p *InHouse) ProbeAll(ctx context.Context) map[string]domain.HealthCheckResult {
	ctx, span := tracer.Start(ctx, "InHouse.ProbeAll")
	defer span.End()

	ids := p.SupportedSurfaces()
	results := make(map[string]domain.HealthCheckResult, len(ids))
	var mu sync.Mutex

	// probes report failures in their results, so no goroutine returns an error
	var g errgroup.Group
	g.SetLimit(p.cfg.ProbeConcurrency)
	for _, id := range ids {
		a, ok := p.adapters.Get(id)
		if !ok {
			continue
		}
		g.Go(func() error {
			hc := p.probe(ctx, id, a)
			mu.Lock()
			results[id] = hc
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	unhealthy := 0
	for _, hc := range results {
		if !hc.Healthy {
			unhealthy++
		}
	}
	span.SetAttributes(attribute.Int("surfaces.unhealthy", unhealthy))
	return results
}

// Close marks the provider unavailable. Adapters belong to the registry
// and are closed by its owner.
func (p *InHouse) Close() error {
	p.closed.Store(true)
	return nil
}
