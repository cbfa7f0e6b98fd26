// Package main is the entry point for the steward server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/admission"
	"github.com/stewardhq/steward/internal/agent"
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/definition"
	"github.com/stewardhq/steward/internal/gateway"
	"github.com/stewardhq/steward/internal/observability"
	"github.com/stewardhq/steward/internal/router"
	"github.com/stewardhq/steward/internal/transport"
	"github.com/stewardhq/steward/internal/workflow"
	"github.com/stewardhq/steward/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "steward", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load definitions, validate, build registry.
	loader := definition.NewLoader()
	defs, err := loader.LoadAll(cfg.Definitions.Directories)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}

	validator := definition.NewValidator()
	verrs := validator.Validate(defs)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		logger.Error("definition validation failed", zap.Int("errors", len(verrs)))
		return 1
	}

	registry := definition.NewRegistry(defs)
	metrics.SetDefinitionsLoaded(float64(len(defs)))

	// Step 5: Admission controller.
	admitter := admission.NewController(admission.Config{
		Capacity:            cfg.Admission.Capacity,
		RefillRatePerSecond: cfg.Admission.RefillRatePerSecond,
		ViolationThreshold:  cfg.Admission.ViolationThreshold,
		ViolationWindow:     cfg.Admission.ViolationWindow,
		PenaltyMultiplier:   cfg.Admission.PenaltyMultiplier,
		PenaltyDuration:     cfg.Admission.PenaltyDuration,
		StaleAfter:          cfg.Admission.StaleAfter,
	}, admission.WithRecorder(metrics))

	// Step 6: Model gateway.
	gw, err := buildGateway(cfg.Gateway, metrics, logger)
	if err != nil {
		logger.Error("gateway initialization failed", zap.Error(err))
		return 1
	}

	// Step 7: Request router and agents.
	rt := router.New(router.Options{
		Rules:         router.NewRegistryRules(registry, logger),
		Invoker:       gw,
		Recorder:      metrics,
		Logger:        logger,
		MinConfidence: cfg.Router.MinConfidence,
	})

	agents := agent.NewRegistry()
	agents.Register(agent.NewGatewayAgent(cfg.Router.DefaultAgent, cfg.Router.SystemPrompt, gw))
	if cfg.Router.DefaultAgent != model.AgentFallback {
		agents.Register(agent.NewGatewayAgent(model.AgentFallback, cfg.Router.SystemPrompt, gw))
	}

	// Step 8: Workflow store and engine.
	wfStore, wfStoreCloser, err := buildWorkflowStore(ctx, cfg.Workflow, logger)
	if err != nil {
		logger.Error("workflow store initialization failed", zap.Error(err))
		return 1
	}

	engine := workflow.NewEngine(workflow.Options{
		Definitions: registry,
		Store:       wfStore,
		Agents:      agents,
		Recorder:    metrics,
		Logger:      logger,
	})

	// Step 9: Build HTTP router.
	readinessChecks := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool {
			return len(registry.AllWorkflows()) > 0 || len(registry.IntentRules()) > 0
		},
	}
	if hc, ok := wfStore.(observability.HealthChecker); ok {
		readinessChecks.WorkflowStore = hc
	}

	httpRouter := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Authenticate: transport.JWTAuthenticator(cfg.Identity),
		Admission:    admitter,
		Router:       rt,
		Agents:       agents,
		Engine:       engine,
		Health:       observability.HandleHealth(),
		Ready:        observability.HandleReady(readinessChecks),
		Metrics:      observability.Handler(),
		Instrument: []func(http.Handler) http.Handler{
			metrics.MetricsMiddleware,
			observability.TracingMiddleware,
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 10: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go runBucketSweeper(bgCtx, admitter, cfg.Admission.SweepInterval, logger)
	go runWorkflowTimeoutProcessor(bgCtx, engine, cfg.Workflow.TimeoutCheckInterval, logger)

	// Step 11: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", len(defs)),
		zap.Strings("agents", agents.Names()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel background tasks.
	bgCancel()

	// Close stores.
	if wfStoreCloser != nil {
		wfStoreCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildGateway assembles providers and the routing policy from config.
func buildGateway(cfg config.GatewayConfig, metrics *observability.Metrics, logger *zap.Logger) (*gateway.Gateway, error) {
	providers := make([]gateway.Provider, 0, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		apiKey := ""
		if pc.APIKeyEnv != "" {
			apiKey = os.Getenv(pc.APIKeyEnv)
			if apiKey == "" {
				logger.Warn("provider API key environment variable not set",
					zap.String("provider", name),
					zap.String("env", pc.APIKeyEnv),
				)
			}
		}
		providers = append(providers, gateway.NewHTTPProvider(name, pc.BaseURL, apiKey, pc.Timeout))
	}

	routes := make(map[string]gateway.Route, len(cfg.Routing.Routes))
	for taskType, rc := range cfg.Routing.Routes {
		routes[taskType] = gateway.Route{Provider: rc.Provider, Model: rc.Model}
	}
	policy, err := gateway.NewPolicy(routes, gateway.Route{
		Provider: cfg.Routing.Fallback.Provider,
		Model:    cfg.Routing.Fallback.Model,
	})
	if err != nil {
		return nil, err
	}

	return gateway.New(gateway.Options{
		Providers: providers,
		Policy:    policy,
		Retry: gateway.RetryConfig{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			BackoffInitial:    cfg.Retry.BackoffInitial,
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
			BackoffMax:        cfg.Retry.BackoffMax,
		},
		CallTimeout:      cfg.CallTimeout,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		Recorder:         metrics,
		Logger:           logger,
	}), nil
}

// buildWorkflowStore creates the workflow store based on config.
func buildWorkflowStore(ctx context.Context, cfg config.WorkflowConfig, logger *zap.Logger) (workflow.Store, func(), error) {
	switch cfg.Store.Driver {
	case "memory", "":
		logger.Info("using in-memory workflow store")
		return workflow.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.Store.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("workflow store: %s environment variable not set", cfg.Store.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("workflow store: parse DSN: %w", err)
		}
		if cfg.Store.MaxConns > 0 {
			poolCfg.MaxConns = int32(cfg.Store.MaxConns)
		}
		poolCfg.MaxConnLifetime = cfg.Store.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("workflow store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("workflow store: ping: %w", err)
		}

		return workflow.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported workflow store driver: %q", cfg.Store.Driver)
	}
}

// runBucketSweeper periodically evicts stale admission buckets.
func runBucketSweeper(ctx context.Context, ctrl *admission.Controller, interval time.Duration, logger *zap.Logger) {
	if interval == 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := ctrl.Sweep(); evicted > 0 {
				logger.Debug("evicted stale rate limit buckets", zap.Int("count", evicted))
			}
		}
	}
}

// runWorkflowTimeoutProcessor periodically fails expired workflow instances.
func runWorkflowTimeoutProcessor(ctx context.Context, engine *workflow.Engine, interval time.Duration, logger *zap.Logger) {
	if interval == 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := engine.ProcessTimeouts(ctx)
			if err != nil {
				logger.Error("workflow timeout processing failed", zap.Error(err))
				continue
			}
			if count > 0 {
				logger.Info("timed out expired workflow instances", zap.Int("count", count))
			}
		}
	}
}
