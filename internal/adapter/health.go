package adapter

import (
	"sync"
	"time"

	"github.com/boddenberg/surface-exec/internal/domain"
)

// unhealthyAfter is the number of consecutive failures that flips an
// adapter's self-reported health.
const unhealthyAfter = 3

// HealthTracker is the adapter-owned health record. Safe for concurrent use.
type HealthTracker struct {
	mu          sync.Mutex
	failures    int
	lastSuccess *time.Time
	lastError   *domain.SurfaceError
	lastLatency time.Duration
}

// RecordSuccess resets the failure count.
func (h *HealthTracker) RecordSuccess(at time.Time, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	h.lastSuccess = &at
	h.lastError = nil
	h.lastLatency = latency
}

// RecordFailure bumps the consecutive failure count.
func (h *HealthTracker) RecordFailure(err *domain.SurfaceError, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.lastError = err
	h.lastLatency = latency
}

// FailureCount returns the consecutive failure count.
func (h *HealthTracker) FailureCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures
}

// Snapshot returns the current view as a HealthCheckResult.
func (h *HealthTracker) Snapshot(now time.Time) domain.HealthCheckResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	res := domain.HealthCheckResult{
		Healthy:      h.failures < unhealthyAfter,
		LatencyMs:    h.lastLatency.Milliseconds(),
		Error:        h.lastError,
		FailureCount: h.failures,
		CheckedAt:    now,
	}
	if h.lastSuccess != nil {
		t := *h.lastSuccess
		res.LastSuccessAt = &t
	}
	return res
}
