package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"mercator-hq/admission/pkg/admin"
	"mercator-hq/admission/pkg/cli"
	"mercator-hq/admission/pkg/quota"
	"mercator-hq/admission/pkg/quota/store"
	"mercator-hq/admission/pkg/resilience/breaker"
	"mercator-hq/admission/pkg/telemetry/logging"
)

// executeCommand runs the root command with args and returns its output.
// Flags are reset first since cobra keeps their values between runs.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Setenv("ADMISSION_ADMIN_TOKEN", "")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

const testConfig = `
store:
  backend: memory

tiers:
  - name: basic
    requests_per_minute: 20
    requests_per_hour: 500
    executions_per_hour: 10
    max_concurrent_executions: 2
    max_tokens_per_day: 1000
  - name: byok
    requests_per_minute: 200
    max_concurrent_executions: 20
    max_tokens_per_day: null

agent_overrides:
  search:
    basic: 5
`

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, err := executeCommand(t, "validate", path)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "✓ Configuration valid") {
		t.Errorf("expected success line, got:\n%s", out)
	}
	if !strings.Contains(out, "tiers:     2") {
		t.Errorf("expected tier count, got:\n%s", out)
	}
}

func TestValidateCommand_Ping(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, err := executeCommand(t, "validate", "--ping", path)
	if err != nil {
		t.Fatalf("validate --ping failed: %v", err)
	}
	if !strings.Contains(out, "✓ Store memory reachable") {
		t.Errorf("expected reachable store, got:\n%s", out)
	}
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: etcd
tiers:
  - name: basic
    requests_per_minute: -1
`)

	out, err := executeCommand(t, "validate", path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if code := cli.ExitCode(err); code != cli.ExitConfigError {
		t.Errorf("ExitCode() = %d, want %d", code, cli.ExitConfigError)
	}
	if !strings.Contains(out, "✗ store.backend") {
		t.Errorf("expected store.backend to be reported, got:\n%s", out)
	}
}

func TestTiersCommand_Local(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, err := executeCommand(t, "tiers", "--local", "--config", path)
	if err != nil {
		t.Fatalf("tiers failed: %v", err)
	}
	for _, want := range []string{"TIER", "basic (fallback)", "byok", "unlimited", "RESOURCE", "search"} {
		if !strings.Contains(out, want) {
			t.Errorf("tiers output missing %q:\n%s", want, out)
		}
	}
}

func TestTiersCommand_LocalJSON(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, err := executeCommand(t, "tiers", "--local", "--config", path, "-o", "json")
	if err != nil {
		t.Fatalf("tiers failed: %v", err)
	}

	var cmp quota.Comparison
	if err := json.Unmarshal([]byte(out), &cmp); err != nil {
		t.Fatalf("expected a single JSON document, got %v:\n%s", err, out)
	}
	if len(cmp.Tiers) != 2 || cmp.Fallback != "basic" {
		t.Errorf("unexpected comparison: %+v", cmp)
	}
}

func TestOutputFormat_Invalid(t *testing.T) {
	path := writeConfig(t, testConfig)

	if _, err := executeCommand(t, "tiers", "--local", "--config", path, "-o", "xml"); err == nil {
		t.Error("expected error for unknown output format")
	}
}

type adminFixture struct {
	registry *breaker.Registry
	limiter  *quota.Limiter
	url      string
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	tiers, err := quota.NewTierTable([]quota.Tier{
		{Name: "basic", RequestsPerMinute: 20, MaxConcurrentExecutions: 2, MaxTokensPerDay: quota.Int64(1000)},
	}, nil)
	if err != nil {
		t.Fatalf("failed to build tier table: %v", err)
	}

	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 1}, nil)
	limiter := quota.NewLimiter(store.NewMemoryStore(), tiers, quota.WithLogger(logging.Discard()))

	mux := http.NewServeMux()
	admin.NewHandler(admin.NewService(reg, limiter, logging.Discard()), "s3cret").Mount(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &adminFixture{registry: reg, limiter: limiter, url: srv.URL}
}

func TestBreakersCommands(t *testing.T) {
	f := newAdminFixture(t)
	cb := f.registry.GetOrCreate("billing-api", nil)
	_ = cb.Guard(context.Background(), func(context.Context) error { return errors.New("boom") })

	out, err := executeCommand(t, "breakers", "list", "--server", f.url, "--token", "s3cret")
	if err != nil {
		t.Fatalf("breakers list failed: %v", err)
	}
	if !strings.Contains(out, "billing-api") || !strings.Contains(out, "open") {
		t.Errorf("expected open billing-api breaker, got:\n%s", out)
	}

	out, err = executeCommand(t, "breakers", "health", "--server", f.url, "--token", "s3cret", "-o", "csv")
	if err != nil {
		t.Fatalf("breakers health failed: %v", err)
	}
	if !strings.HasPrefix(out, "TOTAL,CLOSED,HALF-OPEN,OPEN,HEALTH\n1,0,0,1,") {
		t.Errorf("unexpected health csv:\n%s", out)
	}

	if _, err := executeCommand(t, "breakers", "reset", "billing-api", "--server", f.url, "--token", "s3cret"); err != nil {
		t.Fatalf("breakers reset failed: %v", err)
	}
	if cb.State() != breaker.StateClosed {
		t.Errorf("expected breaker closed after reset, got %s", cb.State())
	}

	_, err = executeCommand(t, "breakers", "get", "missing", "--server", f.url, "--token", "s3cret")
	if !errors.Is(err, breaker.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBreakersCommands_TokenFromEnvFile(t *testing.T) {
	f := newAdminFixture(t)
	env := filepath.Join(t.TempDir(), "admin.env")
	if err := os.WriteFile(env, []byte("ADMISSION_ADMIN_TOKEN=s3cret\n"), 0644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	resetFlags(rootCmd)
	os.Unsetenv("ADMISSION_ADMIN_TOKEN")
	t.Cleanup(func() { os.Unsetenv("ADMISSION_ADMIN_TOKEN") })

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"breakers", "reset-all", "--server", f.url, "--env-file", env})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("reset-all failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Reset 0 circuit breakers") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestBreakersCommands_Unauthorized(t *testing.T) {
	f := newAdminFixture(t)

	_, err := executeCommand(t, "breakers", "list", "--server", f.url, "--token", "wrong")
	if !admin.IsUnauthorized(err) {
		t.Errorf("expected unauthorized error, got %v", err)
	}
	if code := cli.ExitCode(err); code != cli.ExitFailure {
		t.Errorf("ExitCode() = %d, want %d", code, cli.ExitFailure)
	}
}

func TestLimitsCommands(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	for _, id := range []string{"user-1", "user-2"} {
		if d := f.limiter.EvaluateRequest(ctx, quota.Request{Identifier: id, Tier: "basic"}); !d.Allowed {
			t.Fatalf("expected %s to be allowed", id)
		}
	}

	out, err := executeCommand(t, "limits", "usage", "user-1", "--tier", "basic", "--server", f.url, "--token", "s3cret")
	if err != nil {
		t.Fatalf("limits usage failed: %v", err)
	}
	if !strings.Contains(out, "requests/minute") || !strings.Contains(out, "tokens/day") {
		t.Errorf("unexpected usage output:\n%s", out)
	}

	out, err = executeCommand(t, "limits", "reset", "user-1", "user-2", "--server", f.url, "--token", "s3cret")
	if err != nil {
		t.Fatalf("limits reset failed: %v", err)
	}
	if !strings.Contains(out, "Reset 2 identifiers") {
		t.Errorf("unexpected reset output: %s", out)
	}

	snap, err := f.limiter.GetUsageSnapshot(ctx, "user-2", "basic")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if snap.Windows[0].Count != 0 {
		t.Errorf("expected usage cleared, got %d", snap.Windows[0].Count)
	}
}
