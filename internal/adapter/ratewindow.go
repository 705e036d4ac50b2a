package adapter

import (
	"sync"
	"time"

	"github.com/boddenberg/surface-exec/internal/domain"
)

// RateWindow counts outgoing requests in a sliding one-minute window
// against the surface's requests-per-minute limit. It only reports usage;
// pacing is up to the concrete adapter.
type RateWindow struct {
	mu    sync.Mutex
	limit int
	span  time.Duration
	stamp []time.Time
}

// NewRateWindow creates a window for limit requests per minute.
// A limit of zero means unlimited.
func NewRateWindow(limit int) *RateWindow {
	return &RateWindow{limit: limit, span: time.Minute}
}

// Record counts one request made at now.
func (r *RateWindow) Record(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trimLocked(now)
	r.stamp = append(r.stamp, now)
}

// Status reports usage as of now.
func (r *RateWindow) Status(now time.Time) domain.RateLimitStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trimLocked(now)

	st := domain.RateLimitStatus{Current: len(r.stamp), Maximum: r.limit}
	if len(r.stamp) > 0 {
		reset := r.stamp[0].Add(r.span)
		st.ResetAt = &reset
		st.ResetInMs = reset.Sub(now).Milliseconds()
	}
	st.IsLimited = r.limit > 0 && st.Current >= r.limit
	return st
}

func (r *RateWindow) trimLocked(now time.Time) {
	cutoff := now.Add(-r.span)
	i := 0
	for i < len(r.stamp) && !r.stamp[i].After(cutoff) {
		i++
	}
	r.stamp = r.stamp[i:]
}
