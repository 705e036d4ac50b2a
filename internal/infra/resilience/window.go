package resilience

import (
	"sync"
	"time"
)

type outcome struct {
	at      time.Time
	success bool
	latency time.Duration
}

// OutcomeWindow keeps timestamped success/failure outcomes for a rolling
// time window. Every outcome carries its own timestamp, so the result does
// not depend on the order in which concurrent calls complete.
type OutcomeWindow struct {
	mu      sync.Mutex
	span    time.Duration
	entries []outcome
}

// NewOutcomeWindow creates a window covering span.
func NewOutcomeWindow(span time.Duration) *OutcomeWindow {
	if span <= 0 {
		span = 5 * time.Minute
	}
	return &OutcomeWindow{span: span}
}

// Span returns the window length.
func (w *OutcomeWindow) Span() time.Duration {
	return w.span
}

// Record adds one outcome observed at at. Outcomes already older than the
// window relative to now are dropped.
func (w *OutcomeWindow) Record(at, now time.Time, success bool, latency time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if at.Before(now.Add(-w.span)) {
		w.trimLocked(now)
		return
	}
	w.entries = append(w.entries, outcome{at: at, success: success, latency: latency})
	w.trimLocked(now)
}

// WindowStats is a point-in-time summary of the window.
type WindowStats struct {
	Total      int
	Successes  int
	Failures   int
	AvgLatency time.Duration
}

// SuccessRate returns successes/total, or 1 for an empty window so a
// provider with no traffic is not penalised.
func (s WindowStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Successes) / float64(s.Total)
}

// Stats summarises outcomes within [now-span, now].
func (w *OutcomeWindow) Stats(now time.Time) WindowStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trimLocked(now)

	var st WindowStats
	var latency time.Duration
	cutoff := now.Add(-w.span)
	for _, e := range w.entries {
		if e.at.Before(cutoff) || e.at.After(now) {
			continue
		}
		st.Total++
		if e.success {
			st.Successes++
		} else {
			st.Failures++
		}
		latency += e.latency
	}
	if st.Total > 0 {
		st.AvgLatency = latency / time.Duration(st.Total)
	}
	return st
}

// Reset drops every outcome.
func (w *OutcomeWindow) Reset() {
	w.mu.Lock()
	w.entries = nil
	w.mu.Unlock()
}

func (w *OutcomeWindow) trimLocked(now time.Time) {
	cutoff := now.Add(-w.span)
	kept := w.entries[:0]
	for _, e := range w.entries {
		if !e.at.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	w.entries = kept
}
