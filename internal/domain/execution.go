package domain

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================
// Execution envelope
// ============================================================

// Location pins the geography a query should appear to come from.
type Location struct {
	Country  string `json:"country"`
	Region   string `json:"region,omitempty"`
	City     string `json:"city,omitempty"`
	Locale   string `json:"locale,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

func (l *Location) String() string {
	if l == nil {
		return ""
	}
	switch {
	case l.City != "":
		return fmt.Sprintf("%s/%s/%s", l.Country, l.Region, l.City)
	case l.Region != "":
		return fmt.Sprintf("%s/%s", l.Country, l.Region)
	}
	return l.Country
}

// ExecutionRequest wraps a surface query with routing information.
type ExecutionRequest struct {
	SurfaceID       string              `json:"surfaceId"`
	Query           SurfaceQueryRequest `json:"query"`
	Location        *Location           `json:"location,omitempty"`
	Proxy           string              `json:"proxy,omitempty"`
	SessionID       string              `json:"sessionId,omitempty"`
	TimeoutMs       int64               `json:"timeoutMs,omitempty"`
	CaptureEvidence *bool               `json:"captureEvidence,omitempty"`
}

// SurfaceQuery returns the query with envelope-level overrides applied.
func (r *ExecutionRequest) SurfaceQuery() *SurfaceQueryRequest {
	q := r.Query
	if r.TimeoutMs > 0 {
		q.TimeoutMs = r.TimeoutMs
	}
	if r.CaptureEvidence != nil {
		q.CaptureEvidence = *r.CaptureEvidence
	}
	return &q
}

// Validate checks the fields every execution needs.
func (r *ExecutionRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.SurfaceID) == "":
		return &ErrValidation{Field: "surfaceId", Message: "is required"}
	case strings.TrimSpace(r.Query.Query) == "":
		return &ErrValidation{Field: "query.query", Message: "is required"}
	case r.TimeoutMs < 0 || r.Query.TimeoutMs < 0:
		return &ErrValidation{Field: "timeoutMs", Message: "must not be negative"}
	case r.Location != nil && r.Location.Country == "":
		return &ErrValidation{Field: "location.country", Message: "is required when location is set"}
	}
	return nil
}

// ExecutionMetadata describes how a request was actually executed.
type ExecutionMetadata struct {
	Provider         string         `json:"provider"`
	ExecutionTimeMs  int64          `json:"executionTimeMs"`
	ProxyUsed        string         `json:"proxyUsed,omitempty"`
	LocationUsed     *Location      `json:"locationUsed,omitempty"`
	EstimatedCostUSD float64        `json:"estimatedCostUsd"`
	StartedAt        time.Time      `json:"startedAt"`
	ProviderMetadata map[string]any `json:"providerMetadata,omitempty"`
}

// ExecutionResult is handed to logging, persistence and evidence collaborators.
type ExecutionResult struct {
	ExecutionID string                `json:"executionId"`
	SurfaceID   string                `json:"surfaceId"`
	Success     bool                  `json:"success"`
	Response    *SurfaceQueryResponse `json:"response,omitempty"`
	Error       *SurfaceError         `json:"error,omitempty"`
	Metadata    ExecutionMetadata     `json:"metadata"`
}

// ============================================================
// Failover configuration
// ============================================================

// FailoverConfig holds the routing policy. Global and read-only after load.
type FailoverConfig struct {
	Enabled                     bool          `json:"enabled"`
	SuccessRateThreshold        float64       `json:"successRateThreshold"`
	ConsecutiveFailureThreshold int           `json:"consecutiveFailureThreshold"`
	Window                      time.Duration `json:"window"`
	Cooldown                    time.Duration `json:"cooldown"`
	MinWindowSamples            int           `json:"minWindowSamples"`
}

// DefaultFailoverConfig returns the policy defaults.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		Enabled:                     true,
		SuccessRateThreshold:        0.7,
		ConsecutiveFailureThreshold: 3,
		Window:                      5 * time.Minute,
		Cooldown:                    15 * time.Minute,
		MinWindowSamples:            1,
	}
}

// Normalized fills zero values with defaults.
func (c FailoverConfig) Normalized() FailoverConfig {
	d := DefaultFailoverConfig()
	if c.SuccessRateThreshold <= 0 || c.SuccessRateThreshold > 1 {
		c.SuccessRateThreshold = d.SuccessRateThreshold
	}
	if c.ConsecutiveFailureThreshold <= 0 {
		c.ConsecutiveFailureThreshold = d.ConsecutiveFailureThreshold
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.MinWindowSamples <= 0 {
		c.MinWindowSamples = d.MinWindowSamples
	}
	return c
}
