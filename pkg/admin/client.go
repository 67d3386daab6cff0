package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mercator-hq/admission/pkg/gateway"
	"mercator-hq/admission/pkg/quota"
	"mercator-hq/admission/pkg/resilience/breaker"
	"mercator-hq/admission/pkg/telemetry/tracing"
)

// ClientBreakerName is the breaker guarding admin API calls.
const ClientBreakerName = "admin-api"

// DefaultClientTimeout bounds each admin API call.
const DefaultClientTimeout = 10 * time.Second

// APIError is a non-2xx admin API response.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("admin API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("admin API returned %d: %s", e.StatusCode, e.Message)
}

// Is matches breaker.ErrNotFound for 404 responses.
func (e *APIError) Is(target error) bool {
	return target == breaker.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client calls the admin API of a running server. Calls go through a
// circuit breaker so an unreachable server fails fast after repeated
// errors, and carry the caller's trace context.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client for the server at baseURL. A nil registry
// uses a private one with default breaker settings.
func NewClient(baseURL, token string, reg *breaker.Registry) *Client {
	if reg == nil {
		reg = breaker.NewRegistry(breaker.DefaultConfig(), nil)
	}
	rt := breaker.Transport(nil, reg, func(*http.Request) string { return ClientBreakerName })
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Transport: tracing.Transport(rt),
			Timeout:   DefaultClientTimeout,
		},
	}
}

// Breakers lists every breaker known to the server.
func (c *Client) Breakers(ctx context.Context) ([]breaker.Metrics, error) {
	var resp BreakersResponse
	if err := c.do(ctx, http.MethodGet, "/breakers", &resp); err != nil {
		return nil, err
	}
	return resp.Breakers, nil
}

// Breaker returns one breaker. Unknown names match breaker.ErrNotFound.
func (c *Client) Breaker(ctx context.Context, name string) (breaker.Metrics, error) {
	var m breaker.Metrics
	err := c.do(ctx, http.MethodGet, "/breakers/"+url.PathEscape(name), &m)
	return m, err
}

// ResetBreaker resets one breaker and returns its metrics afterwards.
func (c *Client) ResetBreaker(ctx context.Context, name string) (breaker.Metrics, error) {
	var m breaker.Metrics
	err := c.do(ctx, http.MethodPost, "/breakers/"+url.PathEscape(name)+"/reset", &m)
	return m, err
}

// ResetAllBreakers resets every breaker and returns how many were reset.
func (c *Client) ResetAllBreakers(ctx context.Context) (int, error) {
	var resp ResetResponse
	err := c.do(ctx, http.MethodPost, "/breakers/reset", &resp)
	return resp.Reset, err
}

// BreakerHealth returns the breaker health summary.
func (c *Client) BreakerHealth(ctx context.Context) (breaker.HealthSummary, error) {
	var h breaker.HealthSummary
	err := c.do(ctx, http.MethodGet, "/health/breakers", &h)
	return h, err
}

// Tiers returns the tier comparison table.
func (c *Client) Tiers(ctx context.Context) (quota.Comparison, error) {
	var cmp quota.Comparison
	err := c.do(ctx, http.MethodGet, "/tiers", &cmp)
	return cmp, err
}

// Usage returns the usage snapshot of identifier under tier.
func (c *Client) Usage(ctx context.Context, identifier, tier string, resources ...string) (*quota.UsageSnapshot, error) {
	q := url.Values{}
	if tier != "" {
		q.Set("tier", tier)
	}
	for _, r := range resources {
		q.Add("resource", r)
	}
	path := "/limits/" + url.PathEscape(identifier)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var snap quota.UsageSnapshot
	if err := c.do(ctx, http.MethodGet, path, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ResetLimits deletes all quota state of identifier and returns the number
// of keys removed.
func (c *Client) ResetLimits(ctx context.Context, identifier string) (int, error) {
	var resp ResetResponse
	err := c.do(ctx, http.MethodDelete, "/limits/"+url.PathEscape(identifier), &resp)
	return resp.Reset, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+Prefix+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("admin request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode admin response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return apiErr
	}
	var er gateway.ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error.Message != "" {
		apiErr.Type = er.Error.Type
		apiErr.Message = er.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// IsUnauthorized reports whether err is a 401 from the admin API.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
