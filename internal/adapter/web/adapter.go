// Package web drives browser-backed surfaces (chat UIs and search engines)
// through a state machine that types and waits like a person would.
package web

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/surface-exec/internal/adapter"
	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/port"
)

// DefaultPolicy is slower and retries less than the API policy: every
// browser attempt is expensive and visible to the site.
func DefaultPolicy() adapter.RetryPolicy {
	return adapter.RetryPolicy{
		Timeout:      90 * time.Second,
		MaxRetries:   1,
		InitialDelay: 2 * time.Second,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
	}
}

// Config wires one web surface.
type Config struct {
	Surface   Surface
	Pool      *SessionPool
	Timing    Timing
	Policy    adapter.RetryPolicy
	UserAgent string
	Options   []adapter.Option
}

// Adapter implements port.SurfaceAdapter for a browser surface.
type Adapter struct {
	*adapter.Base
	surface   Surface
	pool      *SessionPool
	timing    Timing
	userAgent string
	closed    atomic.Bool
}

var _ port.SurfaceAdapter = (*Adapter)(nil)

// New creates a web adapter. The pool is shared and stays open when the
// adapter is closed; its owner closes it.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.Surface.Meta.ID == "" {
		return nil, &domain.ErrValidation{Field: "surface.id", Message: "required"}
	}
	if cfg.Pool == nil {
		return nil, &domain.ErrValidation{Field: "pool", Message: "required"}
	}
	if !cfg.Surface.Templated() && cfg.Surface.InputSelector == "" {
		return nil, &domain.ErrValidation{Field: "surface.inputSelector", Message: "required for form surfaces"}
	}
	if cfg.Timing == nil {
		cfg.Timing = NewHumanTiming(DefaultHumanTiming(), 0)
	}
	if cfg.Policy == (adapter.RetryPolicy{}) {
		cfg.Policy = DefaultPolicy()
	}
	return &Adapter{
		Base:      adapter.NewBase(cfg.Surface.Meta, cfg.Policy, logger, cfg.Options...),
		surface:   cfg.Surface,
		pool:      cfg.Pool,
		timing:    cfg.Timing,
		userAgent: cfg.UserAgent,
	}, nil
}

// Query runs one browser query. Each attempt leases a fresh session and
// releases it before returning, whatever the outcome.
func (a *Adapter) Query(ctx context.Context, req *domain.SurfaceQueryRequest) *domain.SurfaceQueryResponse {
	return a.Execute(ctx, req, a.call)
}

func (a *Adapter) call(ctx context.Context, req *domain.SurfaceQueryRequest) (*domain.SurfaceQueryResponse, error) {
	if a.closed.Load() {
		return nil, domain.NewSurfaceError(domain.CodeServiceUnavailable, a.surface.Meta.ID+" adapter is closed", false, 0, nil)
	}

	opts := port.SessionOptions{UserAgent: a.userAgent}
	if rt, ok := adapter.RoutingFrom(ctx); ok {
		opts.Proxy, opts.Location, opts.SessionID = rt.Proxy, rt.Location, rt.SessionID
	}
	lease, err := a.pool.Acquire(ctx, opts)
	if err != nil {
		if errors.Is(err, ErrPoolClosed) {
			return nil, domain.NewSurfaceError(domain.CodeServiceUnavailable, err.Error(), false, 0, err)
		}
		return nil, err
	}
	defer lease.Release()

	r := newRun(a.surface, lease.Session, a.timing, req, a.Logger())
	return r.execute(ctx)
}

// HealthCheck reports the adapter's own record without opening a browser.
func (a *Adapter) HealthCheck(_ context.Context) domain.HealthCheckResult {
	res := a.HealthSnapshot()
	if a.closed.Load() || a.pool.Closed() {
		res.Healthy = false
		res.Error = domain.NewSurfaceError(domain.CodeServiceUnavailable, "browser pool unavailable", false, 0, nil)
	}
	return res
}

// Close stops new queries. Safe to call more than once.
func (a *Adapter) Close() error {
	a.closed.Store(true)
	return nil
}
