package domain

import "time"

// ============================================================
// Adapter health & rate limit
// ============================================================

// HealthCheckResult is an adapter's own view of its health.
type HealthCheckResult struct {
	Healthy       bool          `json:"healthy"`
	LatencyMs     int64         `json:"latencyMs,omitempty"`
	Error         *SurfaceError `json:"error,omitempty"`
	LastSuccessAt *time.Time    `json:"lastSuccessAt,omitempty"`
	FailureCount  int           `json:"failureCount"`
	CheckedAt     time.Time     `json:"checkedAt"`
}

// RateLimitStatus reports usage of the surface's rate limit in the active window.
type RateLimitStatus struct {
	Current   int        `json:"current"`
	Maximum   int        `json:"maximum"`
	ResetAt   *time.Time `json:"resetAt,omitempty"`
	IsLimited bool       `json:"isLimited"`
	ResetInMs int64      `json:"resetInMs,omitempty"`
}

// ============================================================
// Provider health
// ============================================================

// ProviderHealthStatus summarises a provider over its rolling window.
// It is recomputed on demand and never persisted.
type ProviderHealthStatus struct {
	Provider          string     `json:"provider"`
	Healthy           bool       `json:"healthy"`
	Available         bool       `json:"available"`
	SuccessRate       float64    `json:"successRate"`
	AvgLatencyMs      float64    `json:"avgLatencyMs"`
	WindowQueries     int        `json:"windowQueries"`
	TotalQueries      int64      `json:"totalQueries"`
	SupportedSurfaces []string   `json:"supportedSurfaces"`
	LastError         string     `json:"lastError,omitempty"`
	LastSuccessAt     *time.Time `json:"lastSuccessAt,omitempty"`
}

// ============================================================
// Operator API wrappers
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of one provider in /healthz.
type ServiceHealth struct {
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	LatencyMs   int64   `json:"latencyMs"`
	SuccessRate float64 `json:"successRate"`
	LastChecked string  `json:"lastChecked"`
}

// ExecutionMetricsSummary is returned by GET /v1/metrics/summary.
type ExecutionMetricsSummary struct {
	TotalQueries     int64   `json:"totalQueries"`
	FailedQueries    int64   `json:"failedQueries"`
	ErrorRate        float64 `json:"errorRate"`
	Retries          int64   `json:"retries"`
	Suspensions      int64   `json:"suspensions"`
	InputTokens      int64   `json:"inputTokens"`
	OutputTokens     int64   `json:"outputTokens"`
	EstimatedCostUsd float64 `json:"estimatedCostUsd"`
	Period           string  `json:"period"`
}
