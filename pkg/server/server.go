package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"

	"mercator-hq/admission/pkg/admin"
	"mercator-hq/admission/pkg/config"
	"mercator-hq/admission/pkg/gateway"
	"mercator-hq/admission/pkg/quota"
	"mercator-hq/admission/pkg/quota/store"
	"mercator-hq/admission/pkg/resilience/breaker"
	"mercator-hq/admission/pkg/secrets"
	"mercator-hq/admission/pkg/telemetry/health"
	"mercator-hq/admission/pkg/telemetry/metrics"
	"mercator-hq/admission/pkg/telemetry/tracing"
)

// StoreBreakerName is the breaker guarding the quota store.
const StoreBreakerName = "quota-store"

// Health check names.
const (
	CheckStore    = "store"
	CheckBreakers = "circuit_breakers"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Server is the admission HTTP server. It owns the quota store, the
// limiter, the breaker registry and the telemetry stack, and serves the
// decision, admin, health and metrics endpoints on one listener.
type Server struct {
	cfg    *config.Config
	info   BuildInfo
	logger *slog.Logger

	store     store.Store
	janitor   *store.Janitor
	limiter   *quota.Limiter
	breakers  *breaker.Registry
	decisions *gateway.DecisionService
	admin     *admin.Service
	checker   *health.Checker
	metrics   *metrics.Collector
	tracer    *tracing.Tracer
	sweeper   *cron.Cron
	handler   http.Handler

	secrets       *secrets.Resolver
	secretDir     *secrets.Dir
	adminHandler  *admin.Handler
	adminTokenRef string

	httpServer   *http.Server
	listener     net.Listener
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// New builds every component from cfg. Nothing listens until Start. A nil
// logger uses slog.Default().
func New(ctx context.Context, cfg *config.Config, info BuildInfo, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing, info.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	collector := metrics.NewCollector()

	breakers := breaker.NewRegistry(cfg.Breakers.Default, cfg.Breakers.Named,
		breaker.WithLogger(logger),
		breaker.WithTracer(tracer.Tracer("breaker")),
		breaker.WithCollectors(collector.Breakers()),
	)

	tiers, err := quota.NewTierTable(cfg.Tiers, cfg.AgentOverrides)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("invalid tier table: %w", err)
	}

	resolver, secretDir, err := config.NewSecretResolver(cfg.Secrets, logger)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open secrets: %w", err)
	}
	adminTokenRef := cfg.Admin.Token
	cfg, err = config.WithSecrets(ctx, cfg, resolver)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	identify, err := identityFunc(cfg.Gateway)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, err
	}

	raw, err := OpenStore(cfg.Store)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, err
	}

	st := raw
	if config.Enabled(cfg.Breakers.GuardStore, true) {
		st = store.NewGuarded(raw, breakers.GetOrCreate(StoreBreakerName, nil))
	}

	limiter := quota.NewLimiter(st, tiers,
		quota.WithLogger(logger),
		quota.WithMetrics(collector.Quota()),
		quota.WithTracer(tracer.Tracer("quota")),
		quota.WithConcurrencyTTL(cfg.Limiter.ConcurrencyTTL),
		quota.WithConcurrencyRetryAfter(cfg.Limiter.ConcurrencyRetryAfter),
	)

	s := &Server{
		cfg:          cfg,
		info:         info,
		logger:       logger.With("component", "server"),
		store:        raw,
		limiter:      limiter,
		breakers:     breakers,
		decisions:    gateway.NewDecisionService(limiter, cfg.Gateway.DefaultTier, cfg.Limiter.ConcurrencyTTL, logger),
		admin:        admin.NewService(breakers, limiter, logger),
		checker:      health.New(cfg.Telemetry.Health.CheckTimeout),
		metrics:      collector,
		tracer:       tracer,
		shutdownChan: make(chan struct{}),

		secrets:       resolver,
		secretDir:     secretDir,
		adminTokenRef: adminTokenRef,
	}

	// Redis expires keys itself; the other backends need sweeping.
	if sw, ok := raw.(store.Sweeper); ok {
		s.janitor = store.NewJanitor(sw, cfg.Store.SweepSchedule, logger)
	}

	s.checker.Register(CheckStore, health.StoreCheck(raw))
	s.checker.Register(CheckBreakers, health.BreakerCheck(breakers, cfg.Breakers.MinHealthPercentage))

	s.handler = s.setupRoutes(identify)
	return s, nil
}

func identityFunc(cfg config.GatewayConfig) (gateway.IdentityFunc, error) {
	switch cfg.Identity {
	case "header", "":
		return gateway.HeaderIdentity(cfg.DefaultTier), nil
	case "jwt":
		return gateway.JWTIdentity([]byte(cfg.JWTSecret), cfg.DefaultTier), nil
	default:
		return nil, fmt.Errorf("unknown gateway identity %q", cfg.Identity)
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled, a
// SIGINT or SIGTERM arrives, or Stop is called. It then shuts down.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.ListenAddress, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:        s.handler,
		ReadTimeout:    s.cfg.Server.ReadTimeout,
		WriteTimeout:   s.cfg.Server.WriteTimeout,
		IdleTimeout:    s.cfg.Server.IdleTimeout,
		MaxHeaderBytes: s.cfg.Server.MaxHeaderBytes,
	}
	s.isRunning = true
	s.mu.Unlock()

	if err := s.startBackground(); err != nil {
		_ = s.Shutdown(context.Background())
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting admission server",
			"address", ln.Addr().String(),
			"store", s.cfg.Store.Backend,
			"identity", s.cfg.Gateway.Identity,
			"tracing", s.tracer.Enabled(),
		)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		_ = s.Shutdown(context.Background())
		return err
	case <-s.shutdownChan:
		s.logger.Info("shutdown requested")
	}
	return s.Shutdown(context.Background())
}

// startBackground starts the store janitor and the abandoned execution
// sweep.
func (s *Server) startBackground() error {
	if s.janitor != nil {
		if err := s.janitor.Start(context.Background()); err != nil {
			return err
		}
	}

	if s.cfg.Secrets.Watch && s.secretDir != nil && secrets.IsReference(s.adminTokenRef) {
		if err := s.secretDir.Watch(s.reloadSecrets); err != nil {
			return err
		}
	}

	s.sweeper = cron.New()
	if _, err := s.sweeper.AddFunc(s.cfg.Store.SweepSchedule, func() {
		s.decisions.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule execution sweep: %w", err)
	}
	s.sweeper.Start()
	return nil
}

// reloadSecrets re-resolves the admin token after the secrets directory
// changes. The old token stays in force when resolution fails.
func (s *Server) reloadSecrets() {
	s.secrets.Invalidate()
	if s.adminHandler == nil {
		return
	}
	token, err := s.secrets.Resolve(context.Background(), s.adminTokenRef)
	if err != nil {
		s.logger.Error("failed to reload admin token", "error", err)
		return
	}
	s.adminHandler.SetToken(token)
	s.logger.Info("admin token reloaded")
}

// Stop asks a running Start to shut down.
func (s *Server) Stop() {
	select {
	case <-s.shutdownChan:
	default:
		close(s.shutdownChan)
	}
}

// Shutdown gracefully stops the HTTP server, then the background jobs,
// releases outstanding executions and closes the store and the tracer.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	s.shutdownOnce.Do(func() {
		s.logger.Info("initiating graceful shutdown", "timeout", s.cfg.Server.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		defer cancel()

		s.mu.Lock()
		httpServer := s.httpServer
		s.mu.Unlock()

		if httpServer != nil {
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}

		if s.sweeper != nil {
			<-s.sweeper.Stop().Done()
		}
		if s.janitor != nil {
			s.janitor.Stop()
		}
		if s.secretDir != nil {
			if err := s.secretDir.Close(); err != nil {
				errs = append(errs, fmt.Errorf("secrets watcher close error: %w", err))
			}
		}

		s.decisions.Close(shutdownCtx)

		if err := s.tracer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown error: %w", err))
		}
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close error: %w", err))
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("admission server stopped")
	})

	return errors.Join(errs...)
}

// setupRoutes configures HTTP routes and middleware chain.
func (s *Server) setupRoutes(identify gateway.IdentityFunc) http.Handler {
	mux := http.NewServeMux()

	s.decisions.Mount(mux)

	// Forward-auth endpoint for reverse proxies: 204 admits the original
	// request, 429 denies it. The concurrency slot is held only while this
	// call runs.
	mux.Handle("/v1/authorize", gateway.Middleware(s.limiter, identify, s.logger)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	))

	if config.Enabled(s.cfg.Admin.Enabled, true) {
		s.adminHandler = admin.NewHandler(s.admin, s.cfg.Admin.Token)
		s.adminHandler.Mount(mux)
	}

	s.checker.Mount(mux, s.cfg.Telemetry.Health.LivenessPath, s.cfg.Telemetry.Health.ReadinessPath)
	mux.Handle("GET /version", health.VersionHandler(s.info.Version, s.info.Commit, s.info.BuildTime))

	if config.Enabled(s.cfg.Telemetry.Metrics.Enabled, true) {
		mux.Handle("GET "+s.cfg.Telemetry.Metrics.Path, s.metrics.Handler())
	}

	// The metrics middleware must wrap the mux directly to see the
	// matched pattern.
	var handler http.Handler = s.metrics.Middleware(mux)

	handler = s.tracer.Middleware(handler)

	handler = gateway.AccessLog(s.logger)(handler)

	handler = gateway.RequestID(handler)

	// Recovery middleware (outermost)
	handler = gateway.Recovery(s.logger)(handler)

	return handler
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Limiter returns the quota limiter.
func (s *Server) Limiter() *quota.Limiter {
	return s.limiter
}

// Breakers returns the breaker registry.
func (s *Server) Breakers() *breaker.Registry {
	return s.breakers
}

// Health runs the readiness checks.
func (s *Server) Health(ctx context.Context) health.Status {
	return s.checker.Readiness(ctx)
}
