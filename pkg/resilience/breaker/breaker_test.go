package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var errDown = errors.New("dependency down")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *testClock, cfg Config, opts ...Option) *CircuitBreaker {
	return New("test", cfg, append([]Option{WithClock(clock.Now)}, opts...)...)
}

func fail(ctx context.Context) error    { return errDown }
func succeed(ctx context.Context) error { return nil }

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := New("defaults", Config{})
	cfg := cb.Config()
	if cfg != DefaultConfig() {
		t.Errorf("expected default config %+v, got %+v", DefaultConfig(), cfg)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		want     State
	}{
		{"below threshold", 2, StateClosed},
		{"at threshold", 3, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newTestClock()
			cb := newTestBreaker(clock, Config{FailureThreshold: 3})
			ctx := context.Background()

			for i := 0; i < tt.failures; i++ {
				if err := cb.Guard(ctx, fail); !errors.Is(err, errDown) {
					t.Fatalf("expected guarded error, got %v", err)
				}
			}
			if cb.State() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, cb.State())
			}
		})
	}
}

func TestCircuitBreaker_FailuresOutsideWindowExpire(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock, Config{FailureThreshold: 3, EvaluationWindow: time.Minute})
	ctx := context.Background()

	cb.Guard(ctx, fail)
	cb.Guard(ctx, fail)
	clock.Advance(61 * time.Second)
	cb.Guard(ctx, fail)

	if cb.State() != StateClosed {
		t.Errorf("expected stale failures to be pruned, got %s", cb.State())
	}
	if got := cb.Metrics().RecentFailures; got != 1 {
		t.Errorf("expected 1 recent failure, got %d", got)
	}
}

func TestCircuitBreaker_RejectsWhileOpen(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock, Config{FailureThreshold: 1, OpenTimeout: 30 * time.Second})
	ctx := context.Background()

	cb.Guard(ctx, fail)
	clock.Advance(10 * time.Second)

	called := false
	err := cb.Guard(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Error("guarded operation must not run while open")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatal("expected *OpenError")
	}
	if openErr.RetryAfter != 20*time.Second {
		t.Errorf("expected retry after 20s, got %s", openErr.RetryAfter)
	}
	if openErr.Name != "test" {
		t.Errorf("expected name test, got %q", openErr.Name)
	}

	m := cb.Metrics()
	if m.RejectedCalls != 1 || m.FailedCalls != 1 {
		t.Errorf("expected 1 rejected and 1 failed, got %d/%d", m.RejectedCalls, m.FailedCalls)
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock, Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: 30 * time.Second})
	ctx := context.Background()

	cb.Guard(ctx, fail)
	clock.Advance(30 * time.Second)

	calls := 0
	err := cb.Guard(ctx, func(context.Context) error {
		calls++
		if s := cb.State(); s != StateHalfOpen {
			t.Errorf("expected probe to run half-open, got %s", s)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected probe to be allowed, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected probe invoked exactly once, got %d", calls)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("one success below threshold keeps half-open, got %s", cb.State())
	}

	cb.Guard(ctx, succeed)
	if cb.State() != StateClosed {
		t.Errorf("expected closed after success threshold, got %s", cb.State())
	}
	if got := cb.Metrics().RecentFailures; got != 0 {
		t.Errorf("expected failure history cleared, got %d", got)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock, Config{FailureThreshold: 3, SuccessThreshold: 2, OpenTimeout: 30 * time.Second})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Guard(ctx, fail)
	}
	firstOpened := cb.Metrics().OpenedAt

	clock.Advance(31 * time.Second)
	cb.Guard(ctx, succeed)
	cb.Guard(ctx, fail)

	if cb.State() != StateOpen {
		t.Fatalf("expected single half-open failure to reopen, got %s", cb.State())
	}
	m := cb.Metrics()
	if !m.OpenedAt.After(firstOpened) {
		t.Error("expected reopening to reset opened_at")
	}
	if m.StateChanges != 3 {
		t.Errorf("expected 3 state changes, got %d", m.StateChanges)
	}

	// The new open period starts from the reopen.
	clock.Advance(29 * time.Second)
	if err := cb.Guard(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected rejection within new open period, got %v", err)
	}
}

func TestCircuitBreaker_StaleOutcomesDoNotTransition(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock, Config{FailureThreshold: 2, SuccessThreshold: 2, OpenTimeout: 30 * time.Second})
	ctx := context.Background()

	// Two slow calls admitted while closed.
	var slow []func(error)
	for i := 0; i < 2; i++ {
		report, err := cb.Allow()
		if err != nil {
			t.Fatalf("expected closed breaker to allow, got %v", err)
		}
		slow = append(slow, report)
	}

	cb.Guard(ctx, fail)
	cb.Guard(ctx, fail)
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	clock.Advance(30 * time.Second)
	probe, err := cb.Allow()
	if err != nil {
		t.Fatalf("expected probe to be allowed, got %v", err)
	}

	for _, report := range slow {
		report(nil)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("successes from before the outage must not close, got %s", cb.State())
	}
	if got := cb.Metrics().SuccessfulCalls; got != 2 {
		t.Errorf("expected stale successes counted, got %d", got)
	}

	probe(errDown)
	if cb.State() != StateOpen {
		t.Errorf("expected failed probe to reopen, got %s", cb.State())
	}
}

func TestCircuitBreaker_StaleFailureAfterReset(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock, Config{FailureThreshold: 1})

	report, err := cb.Allow()
	if err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
	cb.Reset()
	report(errDown)

	if cb.State() != StateClosed {
		t.Errorf("failure admitted before reset must not open, got %s", cb.State())
	}
}

func TestCircuitBreaker_ReportsOnPanic(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock, Config{FailureThreshold: 1})

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Errorf("expected panic to be re-raised, got %v", r)
			}
		}()
		cb.Guard(context.Background(), func(context.Context) error {
			panic("boom")
		})
	}()

	if cb.State() != StateOpen {
		t.Errorf("expected panic to count as failure, got %s", cb.State())
	}
}

func TestCircuitBreaker_CancellationCountsAsFailure(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock, Config{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Guard(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("expected cancellation to count as failure, got %s", cb.State())
	}
}

func TestCircuitBreaker_FailurePredicate(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock, Config{FailureThreshold: 1},
		WithFailurePredicate(func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}),
	)

	cb.Guard(context.Background(), func(context.Context) error { return context.Canceled })
	if cb.State() != StateClosed {
		t.Errorf("expected ignored error to keep circuit closed, got %s", cb.State())
	}
	if got := cb.Metrics().SuccessfulCalls; got != 1 {
		t.Errorf("expected ignored error to count as success, got %d", got)
	}
}

func TestCircuitBreaker_AllowReportsOnce(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock, Config{FailureThreshold: 2})

	report, err := cb.Allow()
	if err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
	report(errDown)
	report(errDown)

	if got := cb.Metrics().FailedCalls; got != 1 {
		t.Errorf("expected one reported failure, got %d", got)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock, Config{FailureThreshold: 1})
	ctx := context.Background()

	cb.Guard(ctx, fail)
	cb.Guard(ctx, succeed)
	cb.Reset()

	m := cb.Metrics()
	if m.State != StateClosed {
		t.Errorf("expected closed, got %s", m.State)
	}
	if m.TotalCalls != 0 || m.FailedCalls != 0 || m.RejectedCalls != 0 || m.RecentFailures != 0 {
		t.Errorf("expected cleared counters, got %+v", m)
	}
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	clock := newTestClock()
	var changes []StateChange
	cb := newTestBreaker(clock, Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Second},
		OnStateChange(func(c StateChange) { changes = append(changes, c) }),
	)
	ctx := context.Background()

	cb.Guard(ctx, fail)
	clock.Advance(time.Second)
	cb.Guard(ctx, succeed)

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(changes) != len(want) {
		t.Fatalf("expected %d changes, got %d", len(want), len(changes))
	}
	for i, s := range want {
		if changes[i].To != s {
			t.Errorf("change %d: expected %s, got %s", i, s, changes[i].To)
		}
	}
}

func TestCircuitBreaker_Collectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors := NewCollectors(reg)
	clock := newTestClock()
	cb := newTestBreaker(clock, Config{FailureThreshold: 1}, WithCollectors(collectors))
	ctx := context.Background()

	cb.Guard(ctx, fail)
	cb.Guard(ctx, succeed)

	if got := testutil.ToFloat64(collectors.state.WithLabelValues("test")); got != float64(StateOpen) {
		t.Errorf("expected open gauge, got %v", got)
	}
	if got := testutil.ToFloat64(collectors.calls.WithLabelValues("test", "rejected")); got != 1 {
		t.Errorf("expected 1 rejected call, got %v", got)
	}
	if got := testutil.ToFloat64(collectors.calls.WithLabelValues("test", "failure")); got != 1 {
		t.Errorf("expected 1 failed call, got %v", got)
	}
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	cb := New("concurrent", Config{FailureThreshold: 1000})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if (i+j)%2 == 0 {
					cb.Guard(ctx, fail)
				} else {
					cb.Guard(ctx, succeed)
				}
			}
		}(i)
	}
	wg.Wait()

	m := cb.Metrics()
	if m.TotalCalls != 1000 {
		t.Errorf("expected 1000 calls, got %d", m.TotalCalls)
	}
	if m.SuccessfulCalls+m.FailedCalls != 1000 {
		t.Errorf("expected every call reported once, got %d", m.SuccessfulCalls+m.FailedCalls)
	}
}

func TestState_JSON(t *testing.T) {
	for _, s := range []State{StateClosed, StateOpen, StateHalfOpen} {
		data, err := s.MarshalJSON()
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		var got State
		if err := got.UnmarshalJSON(data); err != nil {
			t.Fatalf("unmarshal %s failed: %v", data, err)
		}
		if got != s {
			t.Errorf("expected %s, got %s", s, got)
		}
	}
	if _, err := ParseState("sideways"); err == nil {
		t.Error("expected error for unknown state")
	}
}
