package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mercator-hq/admission/pkg/secrets"
)

// NewSecretResolver builds the resolver described by cfg. The returned Dir
// is nil when cfg.Dir is empty; callers watch and close it.
func NewSecretResolver(cfg SecretsConfig, logger *slog.Logger) (*secrets.Resolver, *secrets.Dir, error) {
	providers := []secrets.Provider{secrets.Env{Prefix: cfg.EnvPrefix}}

	var dir *secrets.Dir
	if cfg.Dir != "" {
		var err error
		dir, err = secrets.OpenDir(cfg.Dir, logger)
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, dir)
	}
	return secrets.NewResolver(logger, providers...), dir, nil
}

// WithSecrets returns a copy of cfg with ${secret:name} references in
// credential fields replaced. cfg is not modified. Every unresolved field
// is reported.
func WithSecrets(ctx context.Context, cfg *Config, r *secrets.Resolver) (*Config, error) {
	out := *cfg

	var errs []error
	for field, value := range map[string]*string{
		"admin.token":          &out.Admin.Token,
		"gateway.jwt_secret":   &out.Gateway.JWTSecret,
		"store.redis.password": &out.Store.Redis.Password,
	} {
		resolved, err := r.Resolve(ctx, *value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			continue
		}
		*value = resolved
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &out, nil
}
