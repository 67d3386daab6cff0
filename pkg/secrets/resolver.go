package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
)

var referencePattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// IsReference reports whether s contains a ${secret:name} reference.
func IsReference(s string) bool {
	return referencePattern.MatchString(s)
}

// Resolver looks secrets up in its providers, in order, and caches the
// values it finds.
type Resolver struct {
	providers []Provider
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewResolver creates a Resolver over providers. A nil logger uses
// slog.Default().
func NewResolver(logger *slog.Logger, providers ...Provider) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		providers: providers,
		logger:    logger.With("component", "secrets"),
		cache:     make(map[string]string),
	}
}

// Get returns the secret name from the first provider that has it. A
// provider failing for any reason other than ErrNotFound stops the search.
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	r.mu.RLock()
	v, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return v, nil
	}

	for _, p := range r.providers {
		v, err := p.Lookup(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("secret %q from %s: %w", name, p.Name(), err)
		}

		r.mu.Lock()
		r.cache[name] = v
		r.mu.Unlock()
		r.logger.Debug("secret resolved", "name", name, "provider", p.Name())
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Resolve replaces every ${secret:name} reference in s. All failures are
// reported together and s is returned unchanged on error.
func (r *Resolver) Resolve(ctx context.Context, s string) (string, error) {
	var errs []error
	out := referencePattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := referencePattern.FindStringSubmatch(ref)[1]
		v, err := r.Get(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return ref
		}
		return v
	})
	if len(errs) > 0 {
		return s, errors.Join(errs...)
	}
	return out, nil
}

// Invalidate drops every cached value.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]string)
	r.mu.Unlock()
}
