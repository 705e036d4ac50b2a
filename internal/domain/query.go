package domain

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================
// Surface query request
// ============================================================

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationTurn is one prior message sent along with a query.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// EvidenceLevel controls how much of the surface output is captured.
type EvidenceLevel string

const (
	EvidenceNone  EvidenceLevel = "none"
	EvidenceBasic EvidenceLevel = "basic" // HTML + headers
	EvidenceFull  EvidenceLevel = "full"  // basic + screenshot
)

// SurfaceQueryRequest is what a caller asks a single surface.
type SurfaceQueryRequest struct {
	Query           string             `json:"query"`
	SystemPrompt    string             `json:"systemPrompt,omitempty"`
	History         []ConversationTurn `json:"conversationHistory,omitempty"`
	QualityGates    map[string]any     `json:"qualityGates,omitempty"`
	TimeoutMs       int64              `json:"timeoutMs,omitempty"`
	CaptureEvidence bool               `json:"captureEvidence,omitempty"`
	EvidenceLevel   EvidenceLevel      `json:"evidenceLevel,omitempty"`
	Model           string             `json:"model,omitempty"`
	Temperature     *float64           `json:"temperature,omitempty"`
	Options         map[string]any     `json:"options,omitempty"`
}

// Timeout returns the request timeout, or fallback when unset.
func (r *SurfaceQueryRequest) Timeout(fallback time.Duration) time.Duration {
	if r == nil || r.TimeoutMs <= 0 {
		return fallback
	}
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// Evidence returns the effective evidence level.
// CaptureEvidence without an explicit level means basic capture.
func (r *SurfaceQueryRequest) Evidence() EvidenceLevel {
	if r == nil || !r.CaptureEvidence {
		return EvidenceNone
	}
	switch r.EvidenceLevel {
	case EvidenceFull, EvidenceBasic:
		return r.EvidenceLevel
	}
	return EvidenceBasic
}

// ============================================================
// Surface query response
// ============================================================

// SourceCitation is one source attached to an answer.
// Kind is "citation" for sources the answer cites and "organic" for ranked search results.
type SourceCitation struct {
	Rank    int    `json:"rank"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// StructuredResponse is the parsed form of a surface answer.
type StructuredResponse struct {
	MainResponse string           `json:"mainResponse"`
	Sources      []SourceCitation `json:"sources,omitempty"`
	FollowUps    []string         `json:"followUps,omitempty"`
	ModelUsed    string           `json:"modelUsed,omitempty"`
}

// ResponseTiming breaks down where the time of a query went. All values are milliseconds.
type ResponseTiming struct {
	TotalMs    int64 `json:"totalMs"`
	TTFBMs     int64 `json:"timeToFirstByteMs,omitempty"`
	ResponseMs int64 `json:"responseMs,omitempty"`
	NetworkMs  int64 `json:"networkMs,omitempty"`
}

// Validate checks the timing invariants: non-negative values and
// total >= response >= the other components when they are present.
func (t ResponseTiming) Validate() error {
	if t.TotalMs < 0 || t.TTFBMs < 0 || t.ResponseMs < 0 || t.NetworkMs < 0 {
		return errors.New("timing: negative component")
	}
	if t.ResponseMs > t.TotalMs {
		return fmt.Errorf("timing: response %dms exceeds total %dms", t.ResponseMs, t.TotalMs)
	}
	ceiling := t.TotalMs
	if t.ResponseMs > 0 {
		ceiling = t.ResponseMs
	}
	if t.TTFBMs > ceiling || t.NetworkMs > ceiling {
		return fmt.Errorf("timing: component exceeds %dms", ceiling)
	}
	return nil
}

// TokenUsage tracks LLM token consumption for cost monitoring.
type TokenUsage struct {
	InputTokens      int     `json:"inputTokens"`
	OutputTokens     int     `json:"outputTokens"`
	TotalTokens      int     `json:"totalTokens"`
	EstimatedCostUSD float64 `json:"estimatedCostUsd,omitempty"`
}

// Evidence holds captured artifacts proving what a surface returned.
type Evidence struct {
	Screenshot []byte            `json:"screenshot,omitempty"`
	Images     []string          `json:"images,omitempty"`
	HTML       string            `json:"html,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	CapturedAt time.Time         `json:"capturedAt"`
	Digest     string            `json:"digest,omitempty"`
}

// RetryAttempt records the outcome of one attempt inside the retry loop.
type RetryAttempt struct {
	Number     int           `json:"number"`
	StartedAt  time.Time     `json:"startedAt"`
	DurationMs int64         `json:"durationMs"`
	Error      *SurfaceError `json:"error,omitempty"`
	DelayMs    int64         `json:"delayMs,omitempty"`
}

// SurfaceQueryResponse is the uniform answer of every adapter.
type SurfaceQueryResponse struct {
	Success      bool                `json:"success"`
	ResponseText string              `json:"responseText,omitempty"`
	Structured   *StructuredResponse `json:"structured,omitempty"`
	Timing       ResponseTiming      `json:"timing"`
	Tokens       *TokenUsage         `json:"tokens,omitempty"`
	Evidence     *Evidence           `json:"evidence,omitempty"`
	Error        *SurfaceError       `json:"error,omitempty"`
	Attempts     []RetryAttempt      `json:"attempts,omitempty"`
	Metadata     map[string]any      `json:"metadata,omitempty"`
}

// Validate enforces that exactly one of (success with a populated answer)
// or (failure with a populated error) holds, and that timings are consistent.
func (r *SurfaceQueryResponse) Validate() error {
	if r == nil {
		return errors.New("response: nil")
	}
	populated := r.ResponseText != "" || (r.Structured != nil && r.Structured.MainResponse != "")
	switch {
	case r.Success && (!populated || r.Error != nil):
		return errors.New("response: success requires an answer and no error")
	case !r.Success && r.Error == nil:
		return errors.New("response: failure requires an error")
	}
	return r.Timing.Validate()
}

// Retries returns the failed attempts that were followed by another try.
func (r *SurfaceQueryResponse) Retries() []RetryAttempt {
	if r == nil {
		return nil
	}
	var out []RetryAttempt
	for _, a := range r.Attempts {
		if a.Error != nil && a.DelayMs > 0 {
			out = append(out, a)
		}
	}
	return out
}

// FailedResponse builds a failure response carrying err.
func FailedResponse(err *SurfaceError, timing ResponseTiming) *SurfaceQueryResponse {
	return &SurfaceQueryResponse{Success: false, Error: err, Timing: timing}
}
