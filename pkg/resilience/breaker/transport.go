package breaker

import (
	"net/http"
)

// Transport returns a RoundTripper that guards each request with the
// registry breaker named by name(req). Transport errors and responses with
// a 5xx status count as failures. A nil base uses http.DefaultTransport; a
// nil name uses the request host.
func Transport(base http.RoundTripper, reg *Registry, name func(*http.Request) string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if name == nil {
		name = func(req *http.Request) string { return req.URL.Host }
	}
	return &transport{base: base, registry: reg, name: name}
}

type transport struct {
	base     http.RoundTripper
	registry *Registry
	name     func(*http.Request) string
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	cb := t.registry.GetOrCreate(t.name(req), nil)

	report, err := cb.Allow()
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(req)
	switch {
	case err != nil:
		report(err)
	case resp.StatusCode >= http.StatusInternalServerError:
		report(&StatusError{StatusCode: resp.StatusCode})
	default:
		report(nil)
	}
	return resp, err
}
