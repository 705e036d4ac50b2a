package errclass_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/errclass"
)

type statusErr struct {
	status int
	body   string
}

func (e *statusErr) Error() string   { return fmt.Sprintf("status %d: %s", e.status, e.body) }
func (e *statusErr) StatusCode() int { return e.status }

func TestClassifyMessage_Table(t *testing.T) {
	tests := []struct {
		msg       string
		code      domain.ErrorCode
		retryable bool
		delay     time.Duration
	}{
		{"HTTP 401 Unauthorized", domain.CodeAuthFailed, false, 0},
		{"request forbidden for this key", domain.CodeAuthFailed, false, 0},
		{"Rate limit reached for requests", domain.CodeRateLimited, true, 60 * time.Second},
		{"Too Many Requests", domain.CodeRateLimited, true, 60 * time.Second},
		{"connect ETIMEDOUT 10.0.0.1:443", domain.CodeTimeout, true, 5 * time.Second},
		{"read: connection reset by peer", domain.CodeNetworkError, true, 10 * time.Second},
		{"getaddrinfo ENOTFOUND api.example.com", domain.CodeNetworkError, true, 10 * time.Second},
		{"socket hang up", domain.CodeNetworkError, true, 10 * time.Second},
		{"upstream returned 503", domain.CodeServiceUnavailable, true, 30 * time.Second},
		{"Service Unavailable", domain.CodeServiceUnavailable, true, 30 * time.Second},
		{"please solve the CAPTCHA", domain.CodeCaptchaRequired, false, 0},
		{"Our systems have detected unusual traffic", domain.CodeCaptchaRequired, false, 0},
		{"are you a bot?", domain.CodeCaptchaRequired, false, 0},
		{"output blocked by content policy", domain.CodeContentBlocked, false, 0},
		{"You exceeded your current quota", domain.CodeQuotaExceeded, false, 0},
		{"something odd happened", domain.CodeUnknown, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got := errclass.ClassifyMessage(tt.msg)
			if got.Code != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, got.Code)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("expected retryable=%v, got %v", tt.retryable, got.Retryable)
			}
			if got.RetryAfter() != tt.delay {
				t.Errorf("expected delay %v, got %v", tt.delay, got.RetryAfter())
			}
		})
	}
}

func TestClassifyMessage_Deterministic(t *testing.T) {
	msgs := []string{"429 too many requests", "ECONNREFUSED", "captcha", "weird"}
	for _, msg := range msgs {
		first := errclass.ClassifyMessage(msg)
		for i := 0; i < 50; i++ {
			again := errclass.ClassifyMessage(msg)
			if again.Code != first.Code || again.Retryable != first.Retryable || again.RetryAfterMs != first.RetryAfterMs {
				t.Fatalf("classification of %q changed between calls", msg)
			}
		}
	}
}

func TestClassifyMessage_PriorityOrder(t *testing.T) {
	// auth wins over rate limiting when both appear
	got := errclass.ClassifyMessage("403 forbidden: rate limit policy")
	if got.Code != domain.CodeAuthFailed {
		t.Errorf("expected auth_failed, got %s", got.Code)
	}
}

func TestClassify_StatusCodeFirst(t *testing.T) {
	got := errclass.Classify(&statusErr{status: 429, body: "slow down"})
	if got.Code != domain.CodeRateLimited || !got.Retryable {
		t.Fatalf("expected retryable rate_limited, got %+v", got)
	}

	got = errclass.Classify(&statusErr{status: 429, body: "insufficient_quota"})
	if got.Code != domain.CodeQuotaExceeded || got.Retryable {
		t.Fatalf("expected non-retryable quota_exceeded, got %+v", got)
	}

	got = errclass.Classify(&statusErr{status: 500, body: "boom"})
	if got.Code != domain.CodeServiceUnavailable {
		t.Fatalf("expected service_unavailable, got %s", got.Code)
	}

	// unknown 4xx falls through to the text table
	got = errclass.Classify(&statusErr{status: 418, body: "captcha challenge"})
	if got.Code != domain.CodeCaptchaRequired {
		t.Fatalf("expected captcha_required, got %s", got.Code)
	}
}

func TestClassify_StructuredErrors(t *testing.T) {
	if errclass.Classify(nil) != nil {
		t.Fatal("expected nil for nil error")
	}

	got := errclass.Classify(fmt.Errorf("call: %w", context.DeadlineExceeded))
	if got.Code != domain.CodeTimeout {
		t.Errorf("expected timeout, got %s", got.Code)
	}

	se := domain.NewSurfaceError(domain.CodeSessionExpired, "login wall", false, 0, nil)
	got = errclass.Classify(fmt.Errorf("wrapped: %w", se))
	if got != se {
		t.Errorf("expected existing SurfaceError to pass through")
	}

	cause := errors.New("socket hang up")
	got = errclass.Classify(cause)
	if !errors.Is(got, cause) {
		t.Errorf("expected cause to be preserved")
	}
}

func TestIsRetryable(t *testing.T) {
	if !errclass.IsRetryable(errors.New("503 service unavailable")) {
		t.Error("expected 503 to be retryable")
	}
	if errclass.IsRetryable(errors.New("401 unauthorized")) {
		t.Error("expected 401 to be non-retryable")
	}
	if errclass.IsRetryable(nil) {
		t.Error("expected nil to be non-retryable")
	}
}
