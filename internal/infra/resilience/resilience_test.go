package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/surface-exec/internal/infra/resilience"
)

func TestRetryWithBackoff_Success(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
	}

	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_RetriesOnFailure(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
	}

	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_RespectsContext(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := resilience.RetryWithBackoff(ctx, cfg, func() error {
		return errors.New("error")
	})

	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestBackoff_StepGrowsAndCaps(t *testing.T) {
	b := resilience.BackoffFrom(resilience.Config{
		InitialBackoff: time.Second,
		Multiplier:     2,
		MaxBackoff:     5 * time.Second,
	})

	var waits []time.Duration
	current := time.Duration(0)
	for i := 0; i < 5; i++ {
		var wait time.Duration
		wait, current = b.Step(current, 0)
		waits = append(waits, wait)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("step %d: expected %v, got %v", i, want[i], waits[i])
		}
	}
}

func TestBackoff_FloorRaisesDelay(t *testing.T) {
	b := resilience.BackoffFrom(resilience.Config{InitialBackoff: time.Second, Multiplier: 2, MaxBackoff: time.Hour})

	wait, next := b.Step(time.Second, 60*time.Second)
	if wait != 60*time.Second {
		t.Errorf("expected floor 60s, got %v", wait)
	}
	wait, _ = b.Step(next, 60*time.Second)
	if wait != 120*time.Second {
		t.Errorf("expected schedule to keep growing past the floor, got %v", wait)
	}
}

func TestBackoffFrom_Defaults(t *testing.T) {
	b := resilience.BackoffFrom(resilience.Config{})
	if b.Initial != time.Second || b.Multiplier != 2 || b.Max != 2*time.Minute {
		t.Errorf("unexpected defaults: %+v", b)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := resilience.Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBulkhead_AcquireRelease(t *testing.T) {
	bh := resilience.NewBulkhead(2)

	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire, got %v", err)
	}
	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire, got %v", err)
	}

	// third acquire blocks until the context expires
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := bh.Acquire(ctx)
	if err == nil {
		t.Fatal("expected timeout on third acquire")
	}
	if bh.TryAcquire() {
		t.Fatal("expected TryAcquire to fail while full")
	}

	bh.Release()

	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
	if bh.InUse() != 2 || bh.Capacity() != 2 {
		t.Errorf("expected 2/2 slots in use, got %d/%d", bh.InUse(), bh.Capacity())
	}
}

func TestOutcomeWindow_Stats(t *testing.T) {
	w := resilience.NewOutcomeWindow(5 * time.Minute)
	now := time.Now()

	w.Record(now.Add(-time.Minute), now, true, 100*time.Millisecond)
	w.Record(now.Add(-30*time.Second), now, true, 300*time.Millisecond)
	w.Record(now.Add(-10*time.Second), now, false, 200*time.Millisecond)
	w.Record(now, now, false, 200*time.Millisecond)

	st := w.Stats(now)
	if st.Total != 4 || st.Successes != 2 || st.Failures != 2 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.SuccessRate() != 0.5 {
		t.Errorf("expected 0.5, got %v", st.SuccessRate())
	}
	if st.AvgLatency != 200*time.Millisecond {
		t.Errorf("expected 200ms avg, got %v", st.AvgLatency)
	}
}

func TestOutcomeWindow_DropsStaleAndOutOfOrder(t *testing.T) {
	w := resilience.NewOutcomeWindow(time.Minute)
	now := time.Now()

	// completes late but started long ago: outside the window
	w.Record(now.Add(-2*time.Minute), now, false, 0)
	// out-of-order but inside the window
	w.Record(now.Add(-10*time.Second), now, true, 0)
	w.Record(now.Add(-40*time.Second), now, true, 0)

	st := w.Stats(now)
	if st.Total != 2 || st.Failures != 0 {
		t.Fatalf("expected 2 fresh successes, got %+v", st)
	}

	st = w.Stats(now.Add(45 * time.Second))
	if st.Total != 1 {
		t.Fatalf("expected 1 outcome after sliding, got %+v", st)
	}
}

func TestOutcomeWindow_EmptyRateIsOne(t *testing.T) {
	w := resilience.NewOutcomeWindow(time.Minute)
	if got := w.Stats(time.Now()).SuccessRate(); got != 1 {
		t.Errorf("expected 1 for empty window, got %v", got)
	}
	w.Record(time.Now(), time.Now(), false, 0)
	w.Reset()
	if got := w.Stats(time.Now()).Total; got != 0 {
		t.Errorf("expected reset window to be empty, got %d", got)
	}
}
