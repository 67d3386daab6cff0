package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotFound is returned when no provider has the secret.
var ErrNotFound = errors.New("secret not found")

// Provider looks up secrets by name. Lookup returns an error wrapping
// ErrNotFound when the provider does not have the secret.
type Provider interface {
	Lookup(ctx context.Context, name string) (string, error)
	Name() string
}

// Env reads secrets from environment variables. The name is upper-cased,
// hyphens and dots become underscores, and Prefix is prepended:
// "admin-token" with prefix "ADMISSION_SECRET_" reads
// ADMISSION_SECRET_ADMIN_TOKEN.
type Env struct {
	Prefix string
}

// Lookup implements Provider.
func (e Env) Lookup(_ context.Context, name string) (string, error) {
	v, ok := os.LookupEnv(e.Variable(name))
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s not set", ErrNotFound, e.Variable(name))
	}
	return v, nil
}

// Variable returns the environment variable holding name.
func (e Env) Variable(name string) string {
	return e.Prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

// Name implements Provider.
func (e Env) Name() string { return "env" }
