package adapter_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/surface-exec/internal/adapter"
	"github.com/boddenberg/surface-exec/internal/domain"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testMeta() domain.SurfaceMetadata {
	return domain.SurfaceMetadata{ID: "test-api", Name: "Test", Category: domain.CategoryAPI, RateLimitPerMinute: 60, Enabled: true}
}

func newBase(policy adapter.RetryPolicy, rec *sleepRecorder) *adapter.Base {
	return adapter.NewBase(testMeta(), policy, zap.NewNop(), adapter.WithSleeper(rec.sleep))
}

func okResponse(text string) *domain.SurfaceQueryResponse {
	return &domain.SurfaceQueryResponse{Success: true, ResponseText: text}
}

func rateLimited() *domain.SurfaceQueryResponse {
	return domain.FailedResponse(
		domain.NewSurfaceError(domain.CodeRateLimited, "429 too many requests", true, 60*time.Second, nil),
		domain.ResponseTiming{},
	)
}

func TestExecute_RateLimitedThenSuccess(t *testing.T) {
	rec := &sleepRecorder{}
	b := newBase(adapter.RetryPolicy{
		Timeout:      time.Second,
		MaxRetries:   3,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     time.Hour,
	}, rec)

	calls := 0
	resp := b.Execute(context.Background(), &domain.SurfaceQueryRequest{Query: "best crm"},
		func(ctx context.Context, req *domain.SurfaceQueryRequest) (*domain.SurfaceQueryResponse, error) {
			calls++
			if calls <= 3 {
				return rateLimited(), nil
			}
			return okResponse("answer"), nil
		})

	if !resp.Success {
		t.Fatalf("expected success, got error %+v", resp.Error)
	}
	if err := resp.Validate(); err != nil {
		t.Fatalf("expected valid response, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}

	retries := resp.Retries()
	if len(retries) != 3 {
		t.Fatalf("expected 3 recorded retries, got %d", len(retries))
	}
	for i, r := range retries {
		if r.Error.Code != domain.CodeRateLimited {
			t.Errorf("retry %d: expected rate_limited, got %s", i, r.Error.Code)
		}
		if i > 0 && r.DelayMs <= retries[i-1].DelayMs {
			t.Errorf("retry %d: expected increasing delay, got %d after %d", i, r.DelayMs, retries[i-1].DelayMs)
		}
	}
	if len(rec.delays) != 3 || rec.delays[0] != 60*time.Second {
		t.Errorf("expected first delay to honour the 60s floor, got %v", rec.delays)
	}
	if len(resp.Attempts) != 4 || resp.Attempts[3].Error != nil {
		t.Errorf("expected 4 attempts ending in success, got %+v", resp.Attempts)
	}
}

func TestExecute_NeverRetriesNonRetryable(t *testing.T) {
	rec := &sleepRecorder{}
	b := newBase(adapter.DefaultRetryPolicy(), rec)

	calls := 0
	resp := b.Execute(context.Background(), &domain.SurfaceQueryRequest{Query: "q"},
		func(ctx context.Context, req *domain.SurfaceQueryRequest) (*domain.SurfaceQueryResponse, error) {
			calls++
			return nil, errors.New("401 Unauthorized")
		})

	if resp.Success || resp.Error.Code != domain.CodeAuthFailed || resp.Error.Retryable {
		t.Fatalf("expected non-retryable auth_failed, got %+v", resp.Error)
	}
	if calls != 1 || len(rec.delays) != 0 {
		t.Errorf("expected a single call and no sleeps, got %d calls, %d sleeps", calls, len(rec.delays))
	}
}

func TestExecute_RetryBound(t *testing.T) {
	rec := &sleepRecorder{}
	policy := adapter.DefaultRetryPolicy()
	policy.MaxRetries = 2
	b := newBase(policy, rec)

	calls := 0
	resp := b.Execute(context.Background(), &domain.SurfaceQueryRequest{Query: "q"},
		func(ctx context.Context, req *domain.SurfaceQueryRequest) (*domain.SurfaceQueryResponse, error) {
			calls++
			return nil, errors.New("upstream returned 503")
		})

	if resp.Success || resp.Error.Code != domain.CodeServiceUnavailable {
		t.Fatalf("expected service_unavailable, got %+v", resp.Error)
	}
	if calls != 3 {
		t.Errorf("expected 1 + MaxRetries = 3 calls, got %d", calls)
	}
	if len(rec.delays) != 2 {
		t.Errorf("expected 2 sleeps, got %d", len(rec.delays))
	}
	if got := b.HealthSnapshot().FailureCount; got != 1 {
		t.Errorf("expected failure count 1, got %d", got)
	}
}

func TestExecute_AttemptTimeout(t *testing.T) {
	rec := &sleepRecorder{}
	policy := adapter.DefaultRetryPolicy()
	policy.MaxRetries = 0
	b := newBase(policy, rec)

	resp := b.Execute(context.Background(), &domain.SurfaceQueryRequest{Query: "q", TimeoutMs: 20},
		func(ctx context.Context, req *domain.SurfaceQueryRequest) (*domain.SurfaceQueryResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	if resp.Success || resp.Error.Code != domain.CodeTimeout || !resp.Error.Retryable {
		t.Fatalf("expected retryable timeout, got %+v", resp.Error)
	}
}

func TestExecute_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := adapter.NewBase(testMeta(), adapter.DefaultRetryPolicy(), zap.NewNop(),
		adapter.WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}))

	calls := 0
	resp := b.Execute(ctx, &domain.SurfaceQueryRequest{Query: "q"},
		func(ctx context.Context, req *domain.SurfaceQueryRequest) (*domain.SurfaceQueryResponse, error) {
			calls++
			return nil, errors.New("socket hang up")
		})

	if resp.Success || resp.Error == nil {
		t.Fatal("expected failure after cancellation")
	}
	if calls != 1 {
		t.Errorf("expected no further attempts after cancel, got %d calls", calls)
	}
}

func TestExecute_PanicBecomesError(t *testing.T) {
	b := newBase(adapter.RetryPolicy{MaxRetries: 0}, &sleepRecorder{})

	resp := b.Execute(context.Background(), &domain.SurfaceQueryRequest{Query: "q"},
		func(ctx context.Context, req *domain.SurfaceQueryRequest) (*domain.SurfaceQueryResponse, error) {
			panic("nil map")
		})

	if resp.Success || resp.Error == nil {
		t.Fatal("expected panic to surface as an error")
	}
}

func TestExecute_EmptyQuery(t *testing.T) {
	b := newBase(adapter.DefaultRetryPolicy(), &sleepRecorder{})
	called := false
	resp := b.Execute(context.Background(), &domain.SurfaceQueryRequest{Query: "  "},
		func(ctx context.Context, req *domain.SurfaceQueryRequest) (*domain.SurfaceQueryResponse, error) {
			called = true
			return okResponse("x"), nil
		})
	if called {
		t.Fatal("expected call not to run for an empty query")
	}
	if resp.Error == nil || resp.Error.Code != domain.CodeInvalidRequest {
		t.Fatalf("expected invalid_request, got %+v", resp.Error)
	}
}

func TestExecute_EmptyAnswerIsInvalidResponse(t *testing.T) {
	b := newBase(adapter.RetryPolicy{MaxRetries: 0}, &sleepRecorder{})
	resp := b.Execute(context.Background(), &domain.SurfaceQueryRequest{Query: "q"},
		func(ctx context.Context, req *domain.SurfaceQueryRequest) (*domain.SurfaceQueryResponse, error) {
			return &domain.SurfaceQueryResponse{Success: true}, nil
		})
	if resp.Success || resp.Error.Code != domain.CodeInvalidResponse {
		t.Fatalf("expected invalid_response, got %+v", resp.Error)
	}
	if err := resp.Validate(); err != nil {
		t.Errorf("expected failed response to validate, got %v", err)
	}
}

func TestExecute_UpdatesHealthAndRate(t *testing.T) {
	b := newBase(adapter.DefaultRetryPolicy(), &sleepRecorder{})
	for i := 0; i < 3; i++ {
		b.Execute(context.Background(), &domain.SurfaceQueryRequest{Query: "q"},
			func(ctx context.Context, req *domain.SurfaceQueryRequest) (*domain.SurfaceQueryResponse, error) {
				return okResponse("a"), nil
			})
	}

	h := b.HealthSnapshot()
	if !h.Healthy || h.FailureCount != 0 || h.LastSuccessAt == nil {
		t.Errorf("unexpected health: %+v", h)
	}
	rl := b.RateLimitStatus()
	if rl.Current != 3 || rl.Maximum != 60 || rl.IsLimited {
		t.Errorf("unexpected rate status: %+v", rl)
	}
}

func TestProbe(t *testing.T) {
	b := newBase(adapter.DefaultRetryPolicy(), &sleepRecorder{})

	res := b.Probe(context.Background(), func(ctx context.Context) error { return nil })
	if !res.Healthy || res.LastSuccessAt == nil {
		t.Errorf("expected healthy probe, got %+v", res)
	}

	res = b.Probe(context.Background(), func(ctx context.Context) error { return errors.New("connection refused") })
	if res.Healthy || res.Error == nil || res.Error.Code != domain.CodeNetworkError {
		t.Errorf("expected unhealthy network_error probe, got %+v", res)
	}
}
