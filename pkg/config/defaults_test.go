package config

import (
	"testing"

	"mercator-hq/admission/pkg/quota"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("expected listen address %q, got %q", DefaultListenAddress, cfg.Server.ListenAddress)
	}
	if cfg.Store.Backend != DefaultStoreBackend {
		t.Errorf("expected backend %q, got %q", DefaultStoreBackend, cfg.Store.Backend)
	}
	if cfg.Store.SweepSchedule != DefaultStoreSweepSchedule {
		t.Errorf("expected sweep schedule %q, got %q", DefaultStoreSweepSchedule, cfg.Store.SweepSchedule)
	}
	if cfg.Limiter.ConcurrencyTTL != quota.DefaultConcurrencyTTL {
		t.Errorf("expected concurrency TTL %v, got %v", quota.DefaultConcurrencyTTL, cfg.Limiter.ConcurrencyTTL)
	}
	if cfg.Breakers.Default.FailureThreshold != 5 || cfg.Breakers.Default.SuccessThreshold != 2 {
		t.Errorf("unexpected breaker defaults %+v", cfg.Breakers.Default)
	}
	if !Enabled(cfg.Breakers.GuardStore, false) {
		t.Error("expected guard_store enabled by default")
	}
	if !Enabled(cfg.Admin.Enabled, false) {
		t.Error("expected admin enabled by default")
	}
	if !Enabled(cfg.Telemetry.Metrics.Enabled, false) {
		t.Error("expected metrics enabled by default")
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	first := cfg.Server
	ApplyDefaults(cfg)
	if cfg.Server != first {
		t.Error("expected ApplyDefaults to be idempotent")
	}
}

func TestApplyDefaults_KeepsExplicitFalse(t *testing.T) {
	off := false
	cfg := &Config{Admin: AdminConfig{Enabled: &off}}
	ApplyDefaults(cfg)
	if Enabled(cfg.Admin.Enabled, true) {
		t.Error("explicit false must survive defaults")
	}
}

func TestDefaultTiers(t *testing.T) {
	tiers, err := quota.NewTierTable(DefaultTiers(), nil)
	if err != nil {
		t.Fatalf("default tiers must build a table: %v", err)
	}

	basic, ok := tiers.Lookup("basic")
	if !ok {
		t.Fatal("expected basic tier")
	}
	if basic.RequestsPerMinute != 20 {
		t.Errorf("expected basic at 20 requests per minute, got %d", basic.RequestsPerMinute)
	}

	byok, _ := tiers.Lookup("byok")
	if byok.MaxTokensPerDay != nil {
		t.Error("expected byok to have an unlimited token budget")
	}

	if tiers.Fallback() != "basic" {
		t.Errorf("expected basic as the most restrictive tier, got %q", tiers.Fallback())
	}
}
