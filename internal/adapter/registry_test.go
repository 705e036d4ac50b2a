package adapter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/surface-exec/internal/adapter"
	"github.com/boddenberg/surface-exec/internal/domain"
)

type stubAdapter struct {
	id       string
	closeErr error
	closed   int
}

func (s *stubAdapter) Metadata() domain.SurfaceMetadata { return domain.SurfaceMetadata{ID: s.id} }
func (s *stubAdapter) Query(ctx context.Context, req *domain.SurfaceQueryRequest) *domain.SurfaceQueryResponse {
	return &domain.SurfaceQueryResponse{Success: true, ResponseText: s.id}
}
func (s *stubAdapter) HealthCheck(ctx context.Context) domain.HealthCheckResult {
	return domain.HealthCheckResult{Healthy: true}
}
func (s *stubAdapter) RateLimitStatus() domain.RateLimitStatus { return domain.RateLimitStatus{} }
func (s *stubAdapter) Close() error {
	s.closed++
	return s.closeErr
}

func TestRegistry_RegisterGetList(t *testing.T) {
	r := adapter.NewRegistry()
	if err := r.Register(&stubAdapter{id: "b-web"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&stubAdapter{id: "a-api"}); err != nil {
		t.Fatal(err)
	}

	if !r.Has("a-api") || r.Has("missing") {
		t.Error("unexpected Has result")
	}
	if _, ok := r.Get("b-web"); !ok {
		t.Error("expected b-web to be found")
	}

	list := r.List()
	if len(list) != 2 || list[0].ID != "a-api" || list[1].ID != "b-web" {
		t.Errorf("expected sorted list, got %+v", list)
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	r := adapter.NewRegistry()
	_ = r.Register(&stubAdapter{id: "x"})

	err := r.Register(&stubAdapter{id: "x"})
	var dup *domain.ErrDuplicate
	if !errors.As(err, &dup) || dup.Key != "x" {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestRegistry_CloseJoinsErrors(t *testing.T) {
	r := adapter.NewRegistry()
	good := &stubAdapter{id: "good"}
	bad := &stubAdapter{id: "bad", closeErr: errors.New("boom")}
	_ = r.Register(good)
	_ = r.Register(bad)

	if err := r.Close(); err == nil {
		t.Fatal("expected close error")
	}
	if good.closed != 1 || bad.closed != 1 {
		t.Errorf("expected every adapter closed once, got %d/%d", good.closed, bad.closed)
	}
}

func TestRateWindow_SlidesAndLimits(t *testing.T) {
	w := adapter.NewRateWindow(2)
	now := time.Now()

	w.Record(now.Add(-90 * time.Second))
	w.Record(now.Add(-30 * time.Second))
	w.Record(now)

	st := w.Status(now)
	if st.Current != 2 || !st.IsLimited {
		t.Fatalf("expected 2 in window and limited, got %+v", st)
	}
	if st.ResetAt == nil || st.ResetInMs != 30000 {
		t.Errorf("expected reset in 30s, got %+v", st)
	}

	if adapter.NewRateWindow(0).Status(now).IsLimited {
		t.Error("expected unlimited window never to be limited")
	}
}

func TestRouting_Context(t *testing.T) {
	ctx := adapter.WithRouting(context.Background(), adapter.Routing{Proxy: "http://p:1", SessionID: "s1"})
	r, ok := adapter.RoutingFrom(ctx)
	if !ok || r.Proxy != "http://p:1" || r.SessionID != "s1" {
		t.Errorf("unexpected routing: %+v", r)
	}
	if _, ok := adapter.RoutingFrom(context.Background()); ok {
		t.Error("expected no routing on a bare context")
	}
}
