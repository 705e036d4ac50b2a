// Package failover routes executions across providers and takes
// misbehaving (provider, surface) pairs out of rotation for a cooldown.
//
// Each pair moves through Healthy, Degraded, Suspended and Probing. A pair
// is suspended when it fails ConsecutiveFailureThreshold times in a row or
// when its windowed success rate drops below SuccessRateThreshold.
// MinWindowSamples, 1 by default, can delay the rate rule until the window
// holds more outcomes. After the cooldown exactly one request is
// let through as a probe; its outcome decides between recovery and another
// cooldown. The manager never retries a request itself.
package failover

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/errclass"
	"github.com/boddenberg/surface-exec/internal/infra/observability"
	"github.com/boddenberg/surface-exec/internal/port"
)

var tracer = otel.Tracer("failover")

// Entry registers a provider. Lower Priority wins.
type Entry struct {
	Provider port.ExecutionProvider
	Priority int
}

// Decision is the outcome of routing one request.
type Decision struct {
	Provider port.ExecutionProvider
	// Probe marks the single request let through after a cooldown.
	Probe bool
	// Forced marks a request sent to a suspended pair because every
	// candidate was suspended.
	Forced bool
}

// Outcome is one finished execution reported back to the manager.
type Outcome struct {
	Provider  string
	SurfaceID string
	Success   bool
	StartedAt time.Time
	Latency   time.Duration
	Error     string
	Probe     bool
	Forced    bool
}

// PairStatus is the operator view of one (provider, surface) pair.
type PairStatus struct {
	Provider            string     `json:"provider"`
	SurfaceID           string     `json:"surfaceId"`
	State               State      `json:"state"`
	SuccessRate         float64    `json:"successRate"`
	WindowQueries       int        `json:"windowQueries"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	ResumeAt            *time.Time `json:"resumeAt,omitempty"`
	Suspensions         int        `json:"suspensions"`
	LastError           string     `json:"lastError,omitempty"`
}

type pairKey struct {
	provider string
	surface  string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager picks a provider per request and tracks pair health.
type Manager struct {
	cfg     domain.FailoverConfig
	entries []Entry
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	records map[pairKey]*record
}

// NewManager validates entries and orders them by priority. Entries with
// equal priority keep their registration order.
func NewManager(cfg domain.FailoverConfig, entries []Entry, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) (*Manager, error) {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Provider == nil {
			return nil, &domain.ErrValidation{Field: "provider", Message: "must not be nil"}
		}
		if seen[e.Provider.Name()] {
			return nil, &domain.ErrDuplicate{Key: e.Provider.Name()}
		}
		seen[e.Provider.Name()] = true
	}

	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	m := &Manager{
		cfg:     cfg.Normalized(),
		entries: sorted,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "failover")),
		now:     time.Now,
		records: make(map[pairKey]*record),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the effective policy.
func (m *Manager) Config() domain.FailoverConfig {
	return m.cfg
}

// Providers returns the registered providers in priority order.
func (m *Manager) Providers() []port.ExecutionProvider {
	out := make([]port.ExecutionProvider, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Provider
	}
	return out
}

// Supports reports whether any provider can run surfaceID.
func (m *Manager) Supports(surfaceID string) bool {
	return len(m.candidates(surfaceID)) > 0
}

func (m *Manager) candidates(surfaceID string) []Entry {
	var out []Entry
	for _, e := range m.entries {
		if e.Provider.Supports(surfaceID) {
			out = append(out, e)
		}
	}
	return out
}

func (m *Manager) record(provider, surface string) *record {
	k := pairKey{provider, surface}

	m.mu.RLock()
	r, ok := m.records[k]
	m.mu.RUnlock()
	if ok {
		return r
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok = m.records[k]; ok {
		return r
	}
	r = newRecord(provider, surface, m.cfg.Window)
	m.records[k] = r
	return r
}

// Route picks the provider for surfaceID. It prefers the highest-priority
// pair that is not suspended, trying available providers before
// unavailable ones. A suspended pair past its cooldown is handed out once
// as a probe. When every pair is suspended the one closest to resuming is
// chosen.
func (m *Manager) Route(surfaceID string) (Decision, error) {
	return m.choose(surfaceID, true)
}

// choose implements Route. With commit=false no state changes, which is
// what estimates need.
func (m *Manager) choose(surfaceID string, commit bool) (Decision, error) {
	cands := m.candidates(surfaceID)
	if len(cands) == 0 {
		return Decision{}, &domain.ErrNoProvider{SurfaceID: surfaceID}
	}
	if !m.cfg.Enabled {
		return Decision{Provider: cands[0].Provider}, nil
	}

	now := m.now()
	for _, wantAvailable := range []bool{true, false} {
		for _, e := range cands {
			if e.Provider.Available() != wantAvailable {
				continue
			}
			r := m.record(e.Provider.Name(), surfaceID)
			r.mu.Lock()
			switch {
			case r.state == Healthy || r.state == Degraded:
				r.mu.Unlock()
				return Decision{Provider: e.Provider}, nil
			case r.state == Suspended && r.routableLocked(now):
				if commit {
					r.state = Probing
					r.probeInFlight = true
					m.publishLocked(r)
				}
				r.mu.Unlock()
				if commit {
					m.logger.Info("probing suspended provider",
						zap.String("provider", e.Provider.Name()),
						zap.String("surface_id", surfaceID),
					)
				}
				return Decision{Provider: e.Provider, Probe: true}, nil
			}
			r.mu.Unlock()
		}
	}

	var (
		best     Entry
		bestTime time.Time
	)
	for i, e := range cands {
		r := m.record(e.Provider.Name(), surfaceID)
		r.mu.Lock()
		resume := r.resumeAt
		r.mu.Unlock()
		if i == 0 || resume.Before(bestTime) {
			best, bestTime = e, resume
		}
	}
	if commit {
		m.logger.Warn("all providers suspended, forcing closest to resume",
			zap.String("provider", best.Provider.Name()),
			zap.String("surface_id", surfaceID),
			zap.Time("resume_at", bestTime),
		)
	}
	return Decision{Provider: best.Provider, Forced: true}, nil
}

// Report applies one outcome to its pair.
func (m *Manager) Report(o Outcome) {
	now := m.now()
	at := o.StartedAt
	if at.IsZero() {
		at = now
	}
	r := m.record(o.Provider, o.SurfaceID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !o.Success {
		r.consecutive++
		r.lastError = o.Error
	}

	switch r.state {
	case Probing:
		if o.Probe || o.Forced {
			if o.Success {
				m.recoverLocked(r, at, now, o.Latency)
			} else {
				r.window.Record(at, now, false, o.Latency)
				m.suspendLocked(r, now, "probe failed")
			}
			return
		}
		m.observeLocked(r, at, now, o)
		return
	case Suspended:
		if o.Forced && o.Success {
			m.recoverLocked(r, at, now, o.Latency)
			return
		}
		m.observeLocked(r, at, now, o)
		return
	}

	m.observeLocked(r, at, now, o)
	stats := r.window.Stats(now)
	rate := stats.SuccessRate()
	breach := r.consecutive >= m.cfg.ConsecutiveFailureThreshold ||
		(stats.Total >= m.cfg.MinWindowSamples && rate < m.cfg.SuccessRateThreshold)

	switch {
	case breach && m.cfg.Enabled:
		m.suspendLocked(r, now, fmt.Sprintf("success rate %.2f, %d consecutive failures", rate, r.consecutive))
		return
	case r.consecutive > 0 || rate < m.cfg.SuccessRateThreshold:
		r.state = Degraded
	default:
		r.state = Healthy
	}
	m.publishLocked(r)
}

// observeLocked records an outcome without a state decision.
func (m *Manager) observeLocked(r *record, at, now time.Time, o Outcome) {
	r.window.Record(at, now, o.Success, o.Latency)
	if o.Success {
		r.consecutive = 0
	}
}

func (m *Manager) suspendLocked(r *record, now time.Time, reason string) {
	r.suspendLocked(now, m.cfg.Cooldown)
	m.metrics.IncrSuspension(r.surface, r.provider)
	m.publishLocked(r)
	m.logger.Warn("provider suspended",
		zap.String("provider", r.provider),
		zap.String("surface_id", r.surface),
		zap.String("reason", reason),
		zap.String("last_error", r.lastError),
		zap.Time("resume_at", r.resumeAt),
	)
}

func (m *Manager) recoverLocked(r *record, at, now time.Time, latency time.Duration) {
	r.restoreLocked()
	r.window.Record(at, now, true, latency)
	m.publishLocked(r)
	m.logger.Info("provider recovered",
		zap.String("provider", r.provider),
		zap.String("surface_id", r.surface),
	)
}

// release undoes a probe whose outcome will never be reported, so the
// next request can probe again.
func (m *Manager) release(provider, surface string) {
	r := m.record(provider, surface)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Probing {
		r.state = Suspended
		r.probeInFlight = false
		m.publishLocked(r)
	}
}

func (m *Manager) publishLocked(r *record) {
	m.metrics.SetFailoverState(r.surface, r.provider, int(r.state))
}

// Execute routes req, runs it on the chosen provider and reports the
// outcome. It never returns nil. Failures the caller caused by cancelling
// ctx do not count against the provider, and neither do invalid requests.
func (m *Manager) Execute(ctx context.Context, req *domain.ExecutionRequest) *domain.ExecutionResult {
	ctx, span := tracer.Start(ctx, "Failover.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("surface.id", req.SurfaceID))

	d, err := m.Route(req.SurfaceID)
	if err != nil {
		res := &domain.ExecutionResult{
			ExecutionID: uuid.NewString(),
			SurfaceID:   req.SurfaceID,
			Error:       domain.NewSurfaceError(domain.CodeUnsupportedSurface, err.Error(), false, 0, err),
			Metadata:    domain.ExecutionMetadata{StartedAt: m.now()},
		}
		span.SetStatus(codes.Error, string(res.Error.Code))
		return res
	}

	name := d.Provider.Name()
	span.SetAttributes(
		attribute.String("provider", name),
		attribute.Bool("failover.probe", d.Probe),
		attribute.Bool("failover.forced", d.Forced),
	)
	m.metrics.IncrRouted(req.SurfaceID, name)

	start := m.now()
	res := m.run(ctx, d.Provider, req)
	latency := m.now().Sub(start)

	if res.Error != nil {
		span.SetStatus(codes.Error, string(res.Error.Code))
	}
	if !res.Success && (ctx.Err() != nil || res.Error.Code == domain.CodeInvalidRequest) {
		if d.Probe {
			m.release(name, req.SurfaceID)
		}
		return res
	}

	m.Report(Outcome{
		Provider:  name,
		SurfaceID: req.SurfaceID,
		Success:   res.Success,
		StartedAt: start,
		Latency:   latency,
		Error:     errorText(res.Error),
		Probe:     d.Probe,
		Forced:    d.Forced,
	})
	return res
}

// run calls the provider, turning a panic or a nil result into an
// EXECUTION_ERROR result.
func (m *Manager) run(ctx context.Context, p port.ExecutionProvider, req *domain.ExecutionRequest) (res *domain.ExecutionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("provider panic: %v", rec)
			c := errclass.ClassifyMessage(msg)
			m.logger.Error("provider panicked",
				zap.String("provider", p.Name()),
				zap.String("surface_id", req.SurfaceID),
				zap.Any("panic", rec),
			)
			res = m.failed(p.Name(), req, domain.NewSurfaceError(domain.CodeExecutionError, msg, c.Retryable, c.RetryAfter(), nil))
		}
	}()
	res = p.Execute(ctx, req)
	if res == nil {
		return m.failed(p.Name(), req, domain.NewSurfaceError(domain.CodeExecutionError, "provider returned no result", false, 0, nil))
	}
	if !res.Success && res.Error == nil {
		res.Error = domain.NewSurfaceError(domain.CodeUnknown, "provider reported failure without an error", false, 0, nil)
	}
	return res
}

func (m *Manager) failed(provider string, req *domain.ExecutionRequest, se *domain.SurfaceError) *domain.ExecutionResult {
	return &domain.ExecutionResult{
		ExecutionID: uuid.NewString(),
		SurfaceID:   req.SurfaceID,
		Error:       se,
		Metadata:    domain.ExecutionMetadata{Provider: provider, StartedAt: m.now()},
	}
}

func errorText(se *domain.SurfaceError) string {
	if se == nil {
		return ""
	}
	return se.Error()
}

// Estimate returns the provider Route would currently pick for req and
// its cost estimate, without consuming a probe.
func (m *Manager) Estimate(req *domain.ExecutionRequest) (string, float64, error) {
	d, err := m.choose(req.SurfaceID, false)
	if err != nil {
		return "", 0, err
	}
	return d.Provider.Name(), d.Provider.EstimateCost(req), nil
}

// Snapshot returns every tracked pair ordered by surface then provider.
func (m *Manager) Snapshot() []PairStatus {
	now := m.now()

	m.mu.RLock()
	recs := make([]*record, 0, len(m.records))
	for _, r := range m.records {
		recs = append(recs, r)
	}
	m.mu.RUnlock()

	out := make([]PairStatus, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		stats := r.window.Stats(now)
		ps := PairStatus{
			Provider:            r.provider,
			SurfaceID:           r.surface,
			State:               r.state,
			SuccessRate:         stats.SuccessRate(),
			WindowQueries:       stats.Total,
			ConsecutiveFailures: r.consecutive,
			Suspensions:         r.suspensions,
			LastError:           r.lastError,
		}
		if r.state == Suspended || r.state == Probing {
			t := r.resumeAt
			ps.ResumeAt = &t
		}
		r.mu.Unlock()
		out = append(out, ps)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SurfaceID != out[j].SurfaceID {
			return out[i].SurfaceID < out[j].SurfaceID
		}
		return out[i].Provider < out[j].Provider
	})
	return out
}

// Close closes every provider, returning the first error.
func (m *Manager) Close() error {
	var first error
	for _, e := range m.entries {
		if err := e.Provider.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
