package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/boddenberg/surface-exec/internal/domain"
)

const namespace = "surface"

// Metrics holds all Prometheus metrics for the execution layer.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	queryDuration   *prometheus.HistogramVec
	queriesTotal    *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	tokensUsed      *prometheus.CounterVec
	costUSD         prometheus.Counter
	routed          *prometheus.CounterVec
	suspensions     *prometheus.CounterVec
	failoverState   *prometheus.GaugeVec
	activeSessions  prometheus.Gauge
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of operator API requests by operation.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		queryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "End-to-end duration of surface executions.",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"surface", "provider"},
		),
		queriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total surface executions by outcome.",
			},
			[]string{"surface", "provider", "outcome"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total classified surface errors.",
			},
			[]string{"surface", "code"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total retried attempts inside adapters.",
			},
			[]string{"surface"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		costUSD: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "estimated_cost_usd_total",
				Help:      "Estimated spend across executions.",
			},
		),
		routed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failover_routed_total",
				Help:      "Provider selections made by the failover manager.",
			},
			[]string{"surface", "provider"},
		),
		suspensions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failover_suspensions_total",
				Help:      "Times a provider was suspended for a surface.",
			},
			[]string{"surface", "provider"},
		),
		failoverState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "failover_state",
				Help:      "Provider state per surface (0 healthy, 1 degraded, 2 suspended, 3 probing).",
			},
			[]string{"surface", "provider"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "browser_sessions_active",
				Help:      "Browser sessions currently leased.",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequestDuration records the duration of an operator API operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordExecution records one finished execution.
func (m *Metrics) RecordExecution(res *domain.ExecutionResult) {
	if res == nil {
		return
	}
	surface, provider := res.SurfaceID, res.Metadata.Provider
	outcome := "success"
	if !res.Success {
		outcome = "error"
	}
	m.queriesTotal.WithLabelValues(surface, provider, outcome).Inc()
	m.queryDuration.WithLabelValues(surface, provider).
		Observe(float64(res.Metadata.ExecutionTimeMs) / 1000)
	if res.Error != nil {
		m.errorsTotal.WithLabelValues(surface, string(res.Error.Code)).Inc()
	}
	if res.Metadata.EstimatedCostUSD > 0 {
		m.costUSD.Add(res.Metadata.EstimatedCostUSD)
	}
	if res.Response == nil {
		return
	}
	if n := len(res.Response.Retries()); n > 0 {
		m.retriesTotal.WithLabelValues(surface).Add(float64(n))
	}
	if t := res.Response.Tokens; t != nil {
		m.RecordTokens(t.InputTokens, t.OutputTokens)
	}
}

// RecordTokens records input and output token usage.
func (m *Metrics) RecordTokens(input, output int) {
	m.tokensUsed.WithLabelValues("input").Add(float64(input))
	m.tokensUsed.WithLabelValues("output").Add(float64(output))
}

// IncrRouted counts a provider selection.
func (m *Metrics) IncrRouted(surface, provider string) {
	m.routed.WithLabelValues(surface, provider).Inc()
}

// IncrSuspension counts a provider suspension.
func (m *Metrics) IncrSuspension(surface, provider string) {
	m.suspensions.WithLabelValues(surface, provider).Inc()
}

// SetFailoverState publishes the numeric state of a (surface, provider) pair.
func (m *Metrics) SetFailoverState(surface, provider string, state int) {
	m.failoverState.WithLabelValues(surface, provider).Set(float64(state))
}

// SessionLeased adjusts the active browser session gauge by delta.
func (m *Metrics) SessionLeased(delta int) {
	m.activeSessions.Add(float64(delta))
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// Summary returns a snapshot suitable for GET /v1/metrics/summary.
// Prometheus counters are cumulative, so the period is the process lifetime.
func (m *Metrics) Summary() *domain.ExecutionMetricsSummary {
	total := sumCounter(m.queriesTotal)
	failed := sumCounterWhere(m.queriesTotal, "outcome", "error")

	errorRate := float64(0)
	if total > 0 {
		errorRate = failed / total
	}

	return &domain.ExecutionMetricsSummary{
		TotalQueries:     int64(total),
		FailedQueries:    int64(failed),
		ErrorRate:        errorRate,
		Retries:          int64(sumCounter(m.retriesTotal)),
		Suspensions:      int64(sumCounter(m.suspensions)),
		InputTokens:      int64(getCounterValue(m.tokensUsed, "input")),
		OutputTokens:     int64(getCounterValue(m.tokensUsed, "output")),
		EstimatedCostUsd: readCounter(m.costUSD),
		Period:           "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return readCounter(cv.WithLabelValues(label))
}

func readCounter(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounter adds up every label combination of a CounterVec.
func sumCounter(cv *prometheus.CounterVec) float64 {
	return sumCounterWhere(cv, "", "")
}

// sumCounterWhere adds up the series whose label name equals value.
// An empty name matches every series.
func sumCounterWhere(cv *prometheus.CounterVec, name, value string) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	var sum float64
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil || m.Counter == nil {
			continue
		}
		if name != "" && !hasLabel(m, name, value) {
			continue
		}
		sum += m.Counter.GetValue()
	}
	return sum
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
