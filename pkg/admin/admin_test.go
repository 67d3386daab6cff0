package admin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mercator-hq/admission/pkg/quota"
	"mercator-hq/admission/pkg/quota/store"
	"mercator-hq/admission/pkg/resilience/breaker"
	"mercator-hq/admission/pkg/telemetry/logging"
)

type fixture struct {
	service  *Service
	registry *breaker.Registry
	limiter  *quota.Limiter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tiers, err := quota.NewTierTable([]quota.Tier{
		{
			Name:                    "basic",
			RequestsPerMinute:       20,
			RequestsPerHour:         500,
			RequestsPerDay:          2000,
			ExecutionsPerHour:       10,
			ExecutionsPerDay:        100,
			MaxConcurrentExecutions: 2,
			MaxTokensPerDay:         quota.Int64(1000),
		},
	}, nil)
	if err != nil {
		t.Fatalf("failed to build tier table: %v", err)
	}

	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 2}, nil, breaker.WithLogger(logging.Discard()))
	limiter := quota.NewLimiter(store.NewMemoryStore(), tiers, quota.WithLogger(logging.Discard()))
	return &fixture{
		service:  NewService(reg, limiter, logging.Discard()),
		registry: reg,
		limiter:  limiter,
	}
}

func (f *fixture) tripBreaker(t *testing.T, name string) {
	t.Helper()
	cb := f.registry.GetOrCreate(name, nil)
	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		_ = cb.Guard(context.Background(), func(context.Context) error { return boom })
	}
	if cb.State() != breaker.StateOpen {
		t.Fatalf("expected %s to be open, got %s", name, cb.State())
	}
}

func TestService_Breakers(t *testing.T) {
	f := newFixture(t)
	f.registry.GetOrCreate("search", nil)
	f.tripBreaker(t, "billing")

	all := f.service.GetAllCircuitBreakerMetrics()
	if len(all) != 2 {
		t.Fatalf("expected 2 breakers, got %d", len(all))
	}
	if all[0].Name != "billing" || all[1].Name != "search" {
		t.Errorf("expected sorted names, got %s, %s", all[0].Name, all[1].Name)
	}

	m, err := f.service.GetCircuitBreaker("billing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.State != breaker.StateOpen || m.FailedCalls != 2 {
		t.Errorf("expected open with 2 failures, got %s with %d", m.State, m.FailedCalls)
	}

	if _, err := f.service.GetCircuitBreaker("missing"); !errors.Is(err, breaker.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if names := f.registry.Names(); len(names) != 2 {
		t.Errorf("expected lookup not to create breakers, got %v", names)
	}

	health := f.service.BreakerHealth()
	if health.Total != 2 || health.Open != 1 {
		t.Errorf("expected 1 of 2 open, got %+v", health)
	}
}

func TestService_ResetBreakers(t *testing.T) {
	f := newFixture(t)
	f.tripBreaker(t, "billing")
	f.tripBreaker(t, "search")

	for i := 0; i < 2; i++ {
		if err := f.service.ResetCircuitBreaker("billing"); err != nil {
			t.Fatalf("reset %d: unexpected error: %v", i, err)
		}
	}
	m, _ := f.service.GetCircuitBreaker("billing")
	if m.State != breaker.StateClosed || m.TotalCalls != 0 {
		t.Errorf("expected closed with cleared counters, got %s with %d calls", m.State, m.TotalCalls)
	}

	if err := f.service.ResetCircuitBreaker("missing"); !errors.Is(err, breaker.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if n := f.service.ResetAllCircuitBreakers(); n != 2 {
		t.Errorf("expected 2 breakers reset, got %d", n)
	}
	if h := f.service.BreakerHealth(); h.Closed != 2 {
		t.Errorf("expected all closed, got %+v", h)
	}
}

func TestService_Limits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"alice", "bob"} {
		d := f.limiter.EvaluateRequest(ctx, quota.Request{Identifier: id, Tier: "basic", Scope: "agent-1"})
		if !d.Allowed {
			t.Fatalf("expected %s to be allowed", id)
		}
	}

	snap, err := f.service.GetUsage(ctx, "alice", "basic", "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Windows[0].Count != 1 {
		t.Errorf("expected 1 request in the minute window, got %d", snap.Windows[0].Count)
	}
	if len(snap.Resources) != 2 || snap.Resources[0].Count != 1 {
		t.Errorf("expected resource usage of 1, got %+v", snap.Resources)
	}

	n, err := f.service.ResetLimitsForIdentifier(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n == 0 {
		t.Error("expected keys to be deleted")
	}
	if n, _ := f.service.ResetLimitsForIdentifier(ctx, "alice"); n != 0 {
		t.Errorf("expected second reset to delete nothing, got %d", n)
	}

	snap, _ = f.service.GetUsage(ctx, "alice", "basic")
	if snap.Windows[0].Count != 0 {
		t.Errorf("expected alice's usage cleared, got %d", snap.Windows[0].Count)
	}
	snap, _ = f.service.GetUsage(ctx, "bob", "basic")
	if snap.Windows[0].Count != 1 {
		t.Errorf("expected bob's usage untouched, got %d", snap.Windows[0].Count)
	}

	if _, err := f.service.ResetLimitsForIdentifier(ctx, ""); !errors.Is(err, ErrEmptyIdentifier) {
		t.Errorf("expected ErrEmptyIdentifier, got %v", err)
	}

	cmp := f.service.GetTierComparisonTable()
	if len(cmp.Tiers) != 1 || cmp.Fallback != "basic" {
		t.Errorf("unexpected comparison table: %+v", cmp)
	}
}

func newTestServer(t *testing.T, token string) (*fixture, *httptest.Server) {
	t.Helper()
	f := newFixture(t)
	mux := http.NewServeMux()
	NewHandler(f.service, token).Mount(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func TestHandler_Auth(t *testing.T) {
	_, srv := newTestServer(t, "s3cret")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"basic scheme", "Basic s3cret", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/tiers", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestHandler_SetToken(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.service, "")
	mux := http.NewServeMux()
	h.Mount(mux)

	status := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin/tiers", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := status(""); code != http.StatusOK {
		t.Errorf("expected open API without a token, got %d", code)
	}

	h.SetToken("rotated")
	if code := status(""); code != http.StatusUnauthorized {
		t.Errorf("expected 401 after setting a token, got %d", code)
	}
	if code := status("rotated"); code != http.StatusOK {
		t.Errorf("expected 200 with the new token, got %d", code)
	}
}

func TestClient_RoundTrip(t *testing.T) {
	f, srv := newTestServer(t, "s3cret")
	f.tripBreaker(t, "billing")
	ctx := context.Background()

	client := NewClient(srv.URL+"/", "s3cret", nil)

	breakers, err := client.Breakers(ctx)
	if err != nil {
		t.Fatalf("Breakers: %v", err)
	}
	if len(breakers) != 1 || breakers[0].State != breaker.StateOpen {
		t.Fatalf("expected one open breaker, got %+v", breakers)
	}

	if _, err := client.Breaker(ctx, "missing"); !errors.Is(err, breaker.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	m, err := client.ResetBreaker(ctx, "billing")
	if err != nil {
		t.Fatalf("ResetBreaker: %v", err)
	}
	if m.State != breaker.StateClosed {
		t.Errorf("expected closed after reset, got %s", m.State)
	}

	n, err := client.ResetAllBreakers(ctx)
	if err != nil || n != 1 {
		t.Errorf("expected 1 reset, got %d (%v)", n, err)
	}

	health, err := client.BreakerHealth(ctx)
	if err != nil || health.Closed != 1 {
		t.Errorf("expected 1 closed breaker, got %+v (%v)", health, err)
	}

	cmp, err := client.Tiers(ctx)
	if err != nil {
		t.Fatalf("Tiers: %v", err)
	}
	if len(cmp.Tiers) != 1 || cmp.Tiers[0].RequestsPerMinute != 20 {
		t.Errorf("unexpected tiers: %+v", cmp.Tiers)
	}

	f.limiter.EvaluateRequest(ctx, quota.Request{Identifier: "user:42", Tier: "basic", Scope: "agent/1"})

	snap, err := client.Usage(ctx, "user:42", "basic", "agent/1")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if snap.Identifier != "user:42" || snap.Windows[0].Count != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if len(snap.Resources) != 2 || snap.Resources[0].Count != 1 {
		t.Errorf("expected resource usage of 1, got %+v", snap.Resources)
	}

	deleted, err := client.ResetLimits(ctx, "user:42")
	if err != nil || deleted == 0 {
		t.Errorf("expected keys deleted, got %d (%v)", deleted, err)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	_, srv := newTestServer(t, "s3cret")

	_, err := NewClient(srv.URL, "wrong", nil).Tiers(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "invalid admin token" {
		t.Errorf("expected decoded message, got %v", err)
	}
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 2}, nil)
	client := NewClient(srv.URL, "", reg)

	for i := 0; i < 2; i++ {
		if _, err := client.Tiers(context.Background()); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}

	_, err := client.Tiers(context.Background())
	if !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	cb, ok := reg.Get(ClientBreakerName)
	if !ok || cb.State() != breaker.StateOpen {
		t.Error("expected the admin-api breaker to be open")
	}
}
