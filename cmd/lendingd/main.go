package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	engineconfig "intentlend/config"
	"intentlend/gateway/middleware"
	"intentlend/gateway/routes"
	"intentlend/observability/logging"
	telemetry "intentlend/observability/otel"
	daemonconfig "intentlend/services/lendingd/config"
)

const sweepInterval = time.Minute

func main() {
	var cfgPath string
	var allowInsecureFlag bool
	flag.StringVar(&cfgPath, "config", "lendingd.yaml", "path to lendingd configuration")
	flag.BoolVar(&allowInsecureFlag, "allow-insecure", false, "DEV ONLY: permit a plaintext listener")
	flag.Parse()

	if err := run(cfgPath, allowInsecureFlag); err != nil {
		fmt.Fprintf(os.Stderr, "lendingd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string, allowInsecure bool) error {
	cfg, err := daemonconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if allowInsecure {
		cfg.TLS.AllowInsecure = true
	}

	logger, logCloser := logging.Setup(logging.Options{
		Service:    "lendingd",
		Env:        cfg.Env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	engineCfg, err := engineconfig.Load(cfg.EngineConfig)
	if err != nil {
		return fmt.Errorf("load engine config: %w", err)
	}
	if err := engineCfg.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	hub := routes.NewHub(logger)
	node, err := assemble(ctx, cfg, engineCfg, hub, logger)
	if err != nil {
		return err
	}
	defer node.Close()

	auth := middleware.NewAuthenticator(cfg.Auth.AuthConfig, logger)
	limiter := middleware.NewRateLimiter(rateLimits(cfg), logger)
	obs := middleware.NewObservability(cfg.Observability, logger)
	handler, err := routes.New(routes.Config{
		Engine:         node.engine,
		Hub:            hub,
		HealthHandler:  node.healthHandler(),
		Authenticator:  auth,
		RateLimiter:    limiter,
		Observability:  obs,
		CORS:           cfg.CORS,
		WriteScopes:    cfg.Auth.WriteScopes,
		ReadScopes:     cfg.Auth.ReadScopes,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("configure routes: %w", err)
	}

	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("configure TLS: %w", err)
	}
	if tlsConfig == nil {
		logger.Warn("serving plaintext HTTP; TLS disabled by allow_insecure")
	}
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         tlsConfig,
	}
	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scheme := "http"
		if tlsConfig != nil {
			scheme = "https"
			listener = tls.NewListener(listener, tlsConfig)
		}
		logger.Info("lendingd listening", "address", scheme+"://"+listener.Addr().String(), "mtls", cfg.TLS.MTLSEnabled())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := limiter.Sweep(); n > 0 {
					logger.Debug("rate limiter swept idle clients", "count", n)
				}
			}
		}
	})
	if cfg.Keeper.Enabled() {
		k, err := newKeeper(node.engine, cfg.Keeper, logger)
		if err != nil {
			return fmt.Errorf("keeper: %w", err)
		}
		g.Go(func() error { return k.run(gctx) })
	}
	if node.publisher != nil {
		g.Go(func() error {
			err := node.publisher.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	err = g.Wait()
	logger.Info("lendingd stopped", "droppedEvents", node.droppedEvents())
	return err
}

func telemetryConfig(cfg daemonconfig.Config) telemetry.Config {
	out := telemetry.ConfigFromEnv(cfg.Observability.ServiceName)
	out.Environment = cfg.Env
	if cfg.Telemetry.Endpoint != "" {
		out.Endpoint = cfg.Telemetry.Endpoint
		out.Insecure = cfg.Telemetry.Insecure
		out.Traces = true
		out.Metrics = true
	}
	if len(cfg.Telemetry.Headers) > 0 {
		out.Headers = cfg.Telemetry.Headers
	}
	if cfg.Telemetry.SampleRatio > 0 {
		out.SampleRatio = cfg.Telemetry.SampleRatio
	}
	return out
}

func rateLimits(cfg daemonconfig.Config) map[string]middleware.RateLimit {
	if len(cfg.RateLimits) > 0 {
		return cfg.RateLimits
	}
	return map[string]middleware.RateLimit{
		"lending": {RatePerSecond: 2, Burst: 20},
		"queries": {RatePerSecond: 10, Burst: 100},
	}
}
