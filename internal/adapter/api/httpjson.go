// Package api contains adapters for surfaces reached over vendor HTTP APIs.
// Each adapter embeds adapter.Base for retries and health and translates
// vendor errors into the SurfaceError taxonomy; nothing vendor-specific
// leaves this package.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/boddenberg/surface-exec/internal/adapter"
	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/errclass"
	"github.com/boddenberg/surface-exec/internal/infra/resilience"
)

const maxBodyBytes = 4 << 20

// Config is shared by every HTTP API adapter.
type Config struct {
	APIKey             string
	BaseURL            string
	Model              string
	RateLimitPerMinute int
	Policy             adapter.RetryPolicy
	HTTPClient         *http.Client
	Options            []adapter.Option
}

// HTTPError is a non-2xx vendor response.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// StatusCode exposes the status to errclass.
func (e *HTTPError) StatusCode() int {
	return e.Status
}

// vendorError is the error envelope used by OpenAI-compatible and Anthropic APIs.
type vendorError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// call is one timed HTTP exchange.
type call struct {
	header   http.Header
	ttfb     time.Duration
	duration time.Duration
}

// transport wraps an http.Client with the surface's breaker and pacing.
type transport struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	closeOnce sync.Once
}

func newTransport(surfaceID string, rpm int, client *http.Client, logger *zap.Logger) *transport {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	limit := rate.Inf
	burst := 1
	if rpm > 0 {
		limit = rate.Limit(float64(rpm) / 60)
		if burst = rpm / 6; burst < 1 {
			burst = 1
		}
	}
	return &transport{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		breaker: resilience.NewCircuitBreaker(surfaceID, logger, upstreamHealthy),
	}
}

// upstreamHealthy tells the breaker which errors are the upstream's fault.
// Auth and request errors do not trip it.
func upstreamHealthy(err error) bool {
	if err == nil {
		return true
	}
	switch errclass.Classify(err).Code {
	case domain.CodeServiceUnavailable, domain.CodeNetworkError, domain.CodeTimeout:
		return false
	}
	return true
}

// do sends a request and decodes a JSON 2xx body into out.
func (t *transport) do(ctx context.Context, method, url string, headers map[string]string, in, out any) (*call, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	res, err := t.breaker.Execute(func() (any, error) {
		return t.roundTrip(ctx, method, url, headers, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.NewSurfaceError(domain.CodeServiceUnavailable,
			"circuit breaker open for "+t.breaker.Name(), true, 30*time.Second, err)
	}
	if err != nil {
		return nil, err
	}
	return res.(*call), nil
}

func (t *transport) roundTrip(ctx context.Context, method, url string, headers map[string]string, in, out any) (*call, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	start := time.Now()
	c := &call{}
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() { c.ttfb = time.Since(start) },
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), method, url, body)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.duration = time.Since(start)
	c.header = resp.Header
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       errorText(raw),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if out != nil {
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil, errors.New("empty response body")
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return c, nil
}

func (t *transport) close() {
	t.closeOnce.Do(t.client.CloseIdleConnections)
}

// errorText pulls the vendor message out of an error body, keeping the
// error type so that e.g. "insufficient_quota" reaches the classifier.
func errorText(raw []byte) string {
	var ve vendorError
	if err := json.Unmarshal(raw, &ve); err == nil && ve.Error.Message != "" {
		if ve.Error.Type != "" {
			return ve.Error.Type + ": " + ve.Error.Message
		}
		return ve.Error.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// translate classifies err and applies any server-provided Retry-After.
func translate(err error) *domain.SurfaceError {
	se := errclass.Classify(err)
	var he *HTTPError
	if errors.As(err, &he) && he.RetryAfter > se.RetryAfter() {
		out := *se
		out.RetryAfterMs = he.RetryAfter.Milliseconds()
		return &out
	}
	return se
}

// timing builds the response timing of a single HTTP exchange.
func (c *call) timing() domain.ResponseTiming {
	ms := c.duration.Milliseconds()
	ttfb := c.ttfb.Milliseconds()
	if ttfb > ms {
		ttfb = ms
	}
	return domain.ResponseTiming{TotalMs: ms, ResponseMs: ms, TTFBMs: ttfb}
}

// headerMap flattens the headers worth keeping as evidence.
func headerMap(h http.Header) map[string]string {
	out := make(map[string]string)
	for _, k := range []string{"Content-Type", "Date", "X-Request-Id", "Request-Id", "Openai-Model",
		"X-Ratelimit-Remaining-Requests", "Anthropic-Ratelimit-Requests-Remaining"} {
		if v := h.Get(k); v != "" {
			out[strings.ToLower(k)] = v
		}
	}
	return out
}

func evidenceFor(req *domain.SurfaceQueryRequest, c *call, raw any) *domain.Evidence {
	if req.Evidence() == domain.EvidenceNone || c == nil {
		return nil
	}
	ev := &domain.Evidence{Headers: headerMap(c.header), CapturedAt: time.Now()}
	if buf, err := json.Marshal(raw); err == nil {
		ev.HTML = string(buf)
	}
	return ev
}
