package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/admission/pkg/cli"
	"mercator-hq/admission/pkg/gateway"
	"mercator-hq/admission/pkg/quota"
	"mercator-hq/admission/pkg/telemetry/tracing"
)

var benchFlags struct {
	requests    int
	concurrency int
	identifier  string
	tier        string
	resource    string
	tokens      int64
	hold        time.Duration
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Load test the decision API",
	Long: `Send admission checks to a running server and report how many were
allowed and denied, by reason, with latency percentiles.

Without --hold each request is a POST /v1/check. With --hold each request
begins an execution, holds it for the given duration and ends it, which
exercises the concurrency cap.

Examples:
  # Exceed the basic tier's per-minute limit
  admission bench --requests 50 --tier basic

  # Hold executions open to hit the concurrency cap
  admission bench --requests 20 --concurrency 10 --hold 200ms`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().IntVarP(&benchFlags.requests, "requests", "n", 100, "total requests")
	benchCmd.Flags().IntVar(&benchFlags.concurrency, "concurrency", 4, "concurrent clients")
	benchCmd.Flags().StringVar(&benchFlags.identifier, "identifier", "bench", "caller identifier")
	benchCmd.Flags().StringVar(&benchFlags.tier, "tier", "basic", "caller tier")
	benchCmd.Flags().StringVar(&benchFlags.resource, "resource", "", "resource scope")
	benchCmd.Flags().Int64Var(&benchFlags.tokens, "tokens", 0, "estimated tokens per request")
	benchCmd.Flags().DurationVar(&benchFlags.hold, "hold", 0, "hold each execution open this long")
}

type benchResult struct {
	Requests   int            `json:"requests"`
	Allowed    int            `json:"allowed"`
	Denied     map[string]int `json:"denied"`
	Errors     int            `json:"errors"`
	Duration   time.Duration  `json:"duration"`
	Throughput float64        `json:"throughput"`
	Latency    latencySummary `json:"latency"`
	latencies  []time.Duration
}

type latencySummary struct {
	Min    time.Duration `json:"min"`
	Mean   time.Duration `json:"mean"`
	Median time.Duration `json:"median"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Max    time.Duration `json:"max"`
}

func (r *benchResult) Header() []string { return []string{"METRIC", "VALUE"} }

func (r *benchResult) Rows() [][]string {
	ms := func(d time.Duration) string { return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000) }
	rows := [][]string{
		{"requests", strconv.Itoa(r.Requests)},
		{"allowed", strconv.Itoa(r.Allowed)},
	}
	reasons := make([]string, 0, len(r.Denied))
	for reason := range r.Denied {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		rows = append(rows, []string{"denied " + reason, strconv.Itoa(r.Denied[reason])})
	}
	rows = append(rows,
		[]string{"errors", strconv.Itoa(r.Errors)},
		[]string{"duration", r.Duration.Round(time.Millisecond).String()},
		[]string{"throughput", fmt.Sprintf("%.2f req/s", r.Throughput)},
		[]string{"latency min", ms(r.Latency.Min)},
		[]string{"latency mean", ms(r.Latency.Mean)},
		[]string{"latency p50", ms(r.Latency.Median)},
		[]string{"latency p95", ms(r.Latency.P95)},
		[]string{"latency p99", ms(r.Latency.P99)},
		[]string{"latency max", ms(r.Latency.Max)},
	)
	return rows
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchFlags.requests <= 0 || benchFlags.concurrency <= 0 {
		return cli.NewConfigError("bench", "--requests and --concurrency must be positive")
	}

	b := &bencher{
		target: strings.TrimRight(serverURL, "/"),
		client: &http.Client{Transport: tracing.Transport(nil), Timeout: 30 * time.Second},
		body: gateway.CheckRequest{
			Identifier:      benchFlags.identifier,
			Tier:            benchFlags.tier,
			Resource:        benchFlags.resource,
			EstimatedTokens: benchFlags.tokens,
		},
		hold: benchFlags.hold,
	}

	progress := cli.NewProgressReporter(cmd.ErrOrStderr())
	result := b.run(cmd.Context(), benchFlags.requests, benchFlags.concurrency, progress)
	return render(cmd, result)
}

type bencher struct {
	target string
	client *http.Client
	body   gateway.CheckRequest
	hold   time.Duration
}

type benchOutcome struct {
	allowed bool
	reason  quota.Reason
	latency time.Duration
	err     error
}

// run sends total requests from concurrency workers.
func (b *bencher) run(ctx context.Context, total, concurrency int, progress cli.ProgressReporter) *benchResult {
	jobs := make(chan struct{})
	outcomes := make(chan benchOutcome, total)

	progress.Start(int64(total))
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				outcomes <- b.once(ctx)
				progress.Add(1)
			}
		}()
	}

feed:
	for i := 0; i < total; i++ {
		select {
		case jobs <- struct{}{}:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(outcomes)
	progress.Finish()

	result := &benchResult{Denied: make(map[string]int), Duration: time.Since(start)}
	for o := range outcomes {
		result.Requests++
		switch {
		case o.err != nil:
			result.Errors++
		case o.allowed:
			result.Allowed++
		default:
			result.Denied[string(o.reason)]++
		}
		if o.err == nil {
			result.latencies = append(result.latencies, o.latency)
		}
	}
	if secs := result.Duration.Seconds(); secs > 0 {
		result.Throughput = float64(result.Requests) / secs
	}
	result.Latency = summarize(result.latencies)
	return result
}

func (b *bencher) once(ctx context.Context) benchOutcome {
	path := "/v1/check"
	if b.hold > 0 {
		path = "/v1/executions"
	}

	payload, _ := json.Marshal(b.body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.target+path, bytes.NewReader(payload))
	if err != nil {
		return benchOutcome{err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return benchOutcome{err: err}
	}
	defer resp.Body.Close()
	latency := time.Since(started)

	switch resp.StatusCode {
	case http.StatusOK:
		var cr gateway.CheckResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return benchOutcome{err: err}
		}
		return benchOutcome{allowed: cr.Allowed, reason: cr.Reason, latency: latency}

	case http.StatusCreated:
		var er gateway.ExecutionResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
			return benchOutcome{err: err}
		}
		select {
		case <-time.After(b.hold):
		case <-ctx.Done():
		}
		b.end(er.ExecutionID)
		return benchOutcome{allowed: true, latency: latency}

	case http.StatusTooManyRequests:
		var body gateway.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return benchOutcome{err: err}
		}
		return benchOutcome{reason: quota.Reason(body.Error.Code), latency: latency}

	default:
		return benchOutcome{err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

// end releases an execution even when the bench was interrupted.
func (b *bencher) end(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.target+"/v1/executions/"+id, nil)
	if err != nil {
		return
	}
	if resp, err := b.client.Do(req); err == nil {
		resp.Body.Close()
	}
}

func summarize(latencies []time.Duration) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, lat := range sorted {
		sum += lat
	}

	at := func(p float64) time.Duration {
		return sorted[min(int(float64(len(sorted))*p), len(sorted)-1)]
	}
	return latencySummary{
		Min:    sorted[0],
		Mean:   sum / time.Duration(len(sorted)),
		Median: at(0.5),
		P95:    at(0.95),
		P99:    at(0.99),
		Max:    sorted[len(sorted)-1],
	}
}
