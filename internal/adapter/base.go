// Package adapter holds what every surface adapter shares: the retry and
// classification engine, adapter-owned health and rate counters, and the
// registry that maps surface ids to adapters.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/errclass"
	"github.com/boddenberg/surface-exec/internal/infra/resilience"
)

var tracer = otel.Tracer("adapter")

// RetryPolicy bounds a single Query.
type RetryPolicy struct {
	// Timeout applies per attempt unless the request carries its own.
	Timeout      time.Duration
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Timeout:      60 * time.Second,
		MaxRetries:   3,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     2 * time.Minute,
	}
}

// CallFunc performs one attempt against the surface. It may report failure
// either as a Go error or as a success=false response carrying a SurfaceError.
type CallFunc func(ctx context.Context, req *domain.SurfaceQueryRequest) (*domain.SurfaceQueryResponse, error)

// Sleeper waits between attempts. It must return early when ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option customises a Base.
type Option func(*Base)

// WithSleeper replaces the backoff sleep, e.g. to record delays in tests.
func WithSleeper(s Sleeper) Option {
	return func(b *Base) { b.sleep = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Base) { b.now = now }
}

// Base is embedded by concrete adapters. It owns the adapter's health and
// rate counters and never touches state outside them.
type Base struct {
	meta    domain.SurfaceMetadata
	policy  RetryPolicy
	backoff resilience.Backoff
	logger  *zap.Logger
	health  HealthTracker
	rate    *RateWindow
	sleep   Sleeper
	now     func() time.Time
}

// NewBase creates the shared engine for the surface described by meta.
func NewBase(meta domain.SurfaceMetadata, policy RetryPolicy, logger *zap.Logger, opts ...Option) *Base {
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultRetryPolicy().Timeout
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Base{
		meta:   meta,
		policy: policy,
		backoff: resilience.BackoffFrom(resilience.Config{
			InitialBackoff: policy.InitialDelay,
			Multiplier:     policy.Multiplier,
			MaxBackoff:     policy.MaxDelay,
		}),
		logger: logger.With(zap.String("surface_id", meta.ID)),
		rate:   NewRateWindow(meta.RateLimitPerMinute),
		sleep:  resilience.Sleep,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Metadata returns a copy of the surface description.
func (b *Base) Metadata() domain.SurfaceMetadata {
	return b.meta
}

// Policy returns the retry policy in effect.
func (b *Base) Policy() RetryPolicy {
	return b.policy
}

// Logger returns the surface-scoped logger.
func (b *Base) Logger() *zap.Logger {
	return b.logger
}

// RateLimitStatus reports requests made in the current minute.
func (b *Base) RateLimitStatus() domain.RateLimitStatus {
	return b.rate.Status(b.now())
}

// HealthSnapshot returns the adapter's current health without probing.
func (b *Base) HealthSnapshot() domain.HealthCheckResult {
	return b.health.Snapshot(b.now())
}

// Probe runs a lightweight health probe and folds the result into the
// adapter's health record. A nil probe returns the current snapshot.
func (b *Base) Probe(ctx context.Context, probe func(ctx context.Context) error) domain.HealthCheckResult {
	if probe == nil {
		return b.HealthSnapshot()
	}
	timeout := b.policy.Timeout
	if timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := b.now()
	err := probe(pctx)
	latency := b.now().Sub(start)
	if err != nil {
		b.health.RecordFailure(errclass.Classify(err), latency)
	} else {
		b.health.RecordSuccess(b.now(), latency)
	}

	res := b.HealthSnapshot()
	res.LatencyMs = latency.Milliseconds()
	if err != nil {
		res.Healthy = false
	}
	return res
}

// Execute runs call under the retry policy and always returns a response.
// Attempts are recorded in order; failed attempts that were retried carry
// the delay that followed them.
func (b *Base) Execute(ctx context.Context, req *domain.SurfaceQueryRequest, call CallFunc) *domain.SurfaceQueryResponse {
	ctx, span := tracer.Start(ctx, "adapter.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("surface.id", b.meta.ID))

	start := b.now()
	if req == nil || strings.TrimSpace(req.Query) == "" {
		se := domain.NewSurfaceError(domain.CodeInvalidRequest, "query text is required", false, 0, nil)
		return b.fail(nil, se, nil, start)
	}
	timeout := req.Timeout(b.policy.Timeout)

	var (
		attempts []domain.RetryAttempt
		current  time.Duration
	)
	for n := 1; ; n++ {
		attemptStart := b.now()
		b.rate.Record(attemptStart)
		resp, se := b.attempt(ctx, req, timeout, call)
		rec := domain.RetryAttempt{
			Number:     n,
			StartedAt:  attemptStart,
			DurationMs: b.now().Sub(attemptStart).Milliseconds(),
		}

		if se == nil {
			attempts = append(attempts, rec)
			span.SetAttributes(attribute.Int("surface.attempts", n))
			return b.succeed(resp, attempts, start)
		}

		rec.Error = se
		if !se.Retryable || n > b.policy.MaxRetries || ctx.Err() != nil {
			attempts = append(attempts, rec)
			span.SetStatus(codes.Error, string(se.Code))
			return b.fail(resp, se, attempts, start)
		}

		var wait time.Duration
		wait, current = b.backoff.Step(current, se.RetryAfter())
		rec.DelayMs = wait.Milliseconds()
		attempts = append(attempts, rec)

		b.logger.Warn("surface attempt failed, retrying",
			zap.Int("attempt", n),
			zap.String("code", string(se.Code)),
			zap.Duration("delay", wait),
		)

		if err := b.sleep(ctx, wait); err != nil {
			cancelled := errclass.Classify(err)
			span.SetStatus(codes.Error, string(cancelled.Code))
			return b.fail(resp, cancelled, attempts, start)
		}
	}
}

// attempt runs one call under its own deadline and classifies the outcome.
// On failure the response, if any, is returned too so that evidence and
// metadata gathered by the adapter survive.
func (b *Base) attempt(ctx context.Context, req *domain.SurfaceQueryRequest, timeout time.Duration, call CallFunc) (resp *domain.SurfaceQueryResponse, se *domain.SurfaceError) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			resp = nil
			se = errclass.Classify(fmt.Errorf("adapter panic: %v", r))
		}
	}()

	resp, err := call(actx, req)
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return resp, domain.NewSurfaceError(domain.CodeTimeout,
				fmt.Sprintf("attempt exceeded %s", timeout), true, 5*time.Second, err)
		}
		return resp, errclass.Classify(err)
	}
	if resp == nil {
		return nil, domain.NewSurfaceError(domain.CodeInvalidResponse, "empty response from surface", true, 2*time.Second, nil)
	}
	if !resp.Success {
		if resp.Error == nil {
			return resp, domain.NewSurfaceError(domain.CodeUnknown, "surface reported failure without an error", false, 0, nil)
		}
		return resp, resp.Error
	}
	if resp.ResponseText == "" && (resp.Structured == nil || resp.Structured.MainResponse == "") {
		return resp, domain.NewSurfaceError(domain.CodeInvalidResponse, "surface returned no answer", true, 2*time.Second, nil)
	}
	return resp, nil
}

func (b *Base) succeed(resp *domain.SurfaceQueryResponse, attempts []domain.RetryAttempt, start time.Time) *domain.SurfaceQueryResponse {
	elapsed := b.now().Sub(start)
	resp.Success = true
	resp.Error = nil
	resp.Attempts = attempts
	if ms := elapsed.Milliseconds(); ms > resp.Timing.TotalMs {
		resp.Timing.TotalMs = ms
	}
	b.annotate(resp, len(attempts))

	b.health.RecordSuccess(b.now(), elapsed)
	b.logger.Debug("surface query succeeded",
		zap.Int("attempts", len(attempts)),
		zap.Duration("latency", elapsed),
	)
	return resp
}

func (b *Base) fail(resp *domain.SurfaceQueryResponse, se *domain.SurfaceError, attempts []domain.RetryAttempt, start time.Time) *domain.SurfaceQueryResponse {
	elapsed := b.now().Sub(start)
	if resp == nil {
		resp = &domain.SurfaceQueryResponse{}
	}
	resp.Success = false
	resp.Error = se
	resp.Attempts = attempts
	if ms := elapsed.Milliseconds(); ms > resp.Timing.TotalMs {
		resp.Timing.TotalMs = ms
	}
	b.annotate(resp, len(attempts))

	b.health.RecordFailure(se, elapsed)
	b.logger.Warn("surface query failed",
		zap.String("code", string(se.Code)),
		zap.Bool("retryable", se.Retryable),
		zap.Int("attempts", len(attempts)),
		zap.String("error", se.Message),
	)
	return resp
}

func (b *Base) annotate(resp *domain.SurfaceQueryResponse, attempts int) {
	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}
	resp.Metadata["surfaceId"] = b.meta.ID
	resp.Metadata["attemptCount"] = attempts
}
