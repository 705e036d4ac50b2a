package failover

import (
	"sync"
	"time"

	"github.com/boddenberg/surface-exec/internal/infra/resilience"
)

// State is the routing state of one (provider, surface) pair. The numeric
// values are exported as the failover_state gauge.
type State int

const (
	Healthy State = iota
	Degraded
	Suspended
	Probing
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Suspended:
		return "suspended"
	case Probing:
		return "probing"
	}
	return "unknown"
}

// MarshalText renders the state by name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// record tracks one (provider, surface) pair. Its mutex is the only lock
// held while an outcome is applied.
type record struct {
	provider string
	surface  string

	mu            sync.Mutex
	window        *resilience.OutcomeWindow
	state         State
	consecutive   int
	resumeAt      time.Time
	probeInFlight bool
	suspensions   int
	lastError     string
}

func newRecord(provider, surface string, span time.Duration) *record {
	return &record{
		provider: provider,
		surface:  surface,
		window:   resilience.NewOutcomeWindow(span),
	}
}

// routableLocked reports whether the pair may take ordinary traffic at now.
// A suspended pair past its cooldown is routable as a probe.
func (r *record) routableLocked(now time.Time) bool {
	switch r.state {
	case Suspended:
		return !now.Before(r.resumeAt)
	case Probing:
		return false
	}
	return true
}

// suspendLocked moves the pair to Suspended until now+cooldown.
func (r *record) suspendLocked(now time.Time, cooldown time.Duration) {
	r.state = Suspended
	r.resumeAt = now.Add(cooldown)
	r.probeInFlight = false
	r.suspensions++
}

// restoreLocked returns the pair to Healthy with a clean history.
func (r *record) restoreLocked() {
	r.window.Reset()
	r.consecutive = 0
	r.state = Healthy
	r.resumeAt = time.Time{}
	r.probeInFlight = false
}
