package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/admission/pkg/resilience/breaker"
)

func TestNew_DefaultTimeout(t *testing.T) {
	if c := New(0); c.checkTimeout != DefaultCheckTimeout {
		t.Errorf("expected timeout %v, got %v", DefaultCheckTimeout, c.checkTimeout)
	}
	if c := New(time.Second); c.checkTimeout != time.Second {
		t.Errorf("expected timeout 1s, got %v", c.checkTimeout)
	}
}

func TestChecker_Names(t *testing.T) {
	c := New(time.Second)
	c.Register("store", func(ctx context.Context) error { return nil })
	c.Register("breakers", func(ctx context.Context) error { return nil })
	c.Register("store", func(ctx context.Context) error { return nil })

	names := c.Names()
	if len(names) != 2 || names[0] != "breakers" || names[1] != "store" {
		t.Errorf("expected [breakers store], got %v", names)
	}
}

func TestChecker_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		wantStatus string
	}{
		{
			name:       "no checks",
			checks:     nil,
			wantStatus: StatusReady,
		},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"a": func(ctx context.Context) error { return nil },
				"b": func(ctx context.Context) error { return nil },
			},
			wantStatus: StatusReady,
		},
		{
			name: "one failing",
			checks: map[string]CheckFunc{
				"a": func(ctx context.Context) error { return nil },
				"b": func(ctx context.Context) error { return errors.New("down") },
			},
			wantStatus: StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			for name, check := range tt.checks {
				c.Register(name, check)
			}
			status := c.Readiness(context.Background())
			if status.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, status.Status)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("expected %d results, got %d", len(tt.checks), len(status.Checks))
			}
		})
	}
}

func TestChecker_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})

	status := c.Readiness(context.Background())
	result := status.Checks["slow"]
	if result.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", result.Status)
	}
	if result.Message != ErrCheckTimeout.Error() {
		t.Errorf("expected timeout message, got %q", result.Message)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func TestStoreCheck(t *testing.T) {
	if err := StoreCheck(fakePinger{})(context.Background()); err != nil {
		t.Errorf("expected healthy store, got %v", err)
	}
	cause := errors.New("connection refused")
	err := StoreCheck(fakePinger{err: cause})(context.Background())
	if !errors.Is(err, cause) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
}

func TestBreakerCheck(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 1}, nil)
	for _, name := range []string{"a", "b", "c", "d"} {
		reg.GetOrCreate(name, nil)
	}
	check := BreakerCheck(reg, 50)

	if err := check(context.Background()); err != nil {
		t.Errorf("expected healthy breakers, got %v", err)
	}

	for _, name := range []string{"a", "b", "c"} {
		report, err := reg.GetOrCreate(name, nil).Allow()
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		report(errors.New("boom"))
	}

	if err := check(context.Background()); err == nil {
		t.Error("expected failure with 3 of 4 breakers open")
	}
}

func TestHandlers(t *testing.T) {
	c := New(time.Second)
	c.Register("store", StoreCheck(fakePinger{err: errors.New("down")}))

	mux := http.NewServeMux()
	c.Mount(mux, "/healthz", "/readyz")
	mux.HandleFunc("GET /version", VersionHandler("1.2.3", "abc", "today"))

	tests := []struct {
		method   string
		path     string
		wantCode int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodHead, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusServiceUnavailable},
		{http.MethodPost, "/healthz", http.StatusMethodNotAllowed},
		{http.MethodGet, "/version", http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.wantCode {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.wantCode, rec.Code)
		}
		if tt.method == http.MethodHead && rec.Body.Len() != 0 {
			t.Errorf("expected empty body for HEAD, got %q", rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var status Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode readiness: %v", err)
	}
	if status.Checks["store"].Status != StatusUnhealthy {
		t.Errorf("expected store unhealthy, got %+v", status.Checks["store"])
	}
}
