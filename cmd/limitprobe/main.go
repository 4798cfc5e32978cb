package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/0xReLogic/limitprobe/internal/config"
	"github.com/0xReLogic/limitprobe/internal/logging"
	"github.com/0xReLogic/limitprobe/internal/probe"
	"github.com/0xReLogic/limitprobe/internal/ratelimit"
	"github.com/0xReLogic/limitprobe/internal/registry"
	"github.com/0xReLogic/limitprobe/internal/server"
	"github.com/0xReLogic/limitprobe/internal/tracing"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file (optional)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logging.Init(cfg.Logging.Level, cfg.Logging.Environment); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer func() { _ = logging.Sync() }()

	err = config.WatchConfig(*configPath, func(c *config.Config, e fsnotify.Event) {
		logging.SetLevel(c.Logging.Level)
		logging.LogInfo("config_reloaded", map[string]interface{}{
			"file":  e.Name,
			"level": logging.Level().String(),
		})
	}, func(err error) {
		logging.LogError("config_reload_failed", map[string]interface{}{"error": err})
	})
	if err != nil && !errors.Is(err, config.ErrNoConfigFile) {
		logging.LogError("config_watch_failed", map[string]interface{}{"error": err})
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracing(context.Background(), cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
		if err != nil {
			logging.LogError("Failed to initialize tracing", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			defer shutdown()
			logging.LogInfo("Tracing initialized", map[string]interface{}{
				"service":  cfg.Tracing.ServiceName,
				"endpoint": cfg.Tracing.Endpoint,
			})
		}
	}

	var destinations map[string]string
	if cfg.RegistryFile != "" {
		destinations, err = registry.ResolveEndpoints(cfg.RegistryFile)
		if err != nil {
			logging.GetLogger().Fatal("failed_to_load_endpoint_registry", zap.Error(err))
		}
	}
	endpoints, err := logging.NewEndpoints(nil, destinations)
	if err != nil {
		logging.GetLogger().Fatal("failed_to_open_endpoints", zap.Error(err))
	}
	defer endpoints.Close()

	limiter := ratelimit.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)
	if limiter != nil {
		logging.LogInfo("Rate limiting initialized", map[string]interface{}{
			"rps":   cfg.RateLimit.RequestsPerSecond,
			"burst": cfg.RateLimit.BurstSize,
		})
	}

	handler, err := probe.New(probe.Options{
		Endpoints:       endpoints,
		EndpointName:    cfg.LogEndpoint,
		Console:         logging.Console(),
		RuntimeDuration: cfg.Limits.RuntimeDuration,
		Tick:            cfg.Limits.Tick,
		VCPUDuration:    cfg.Limits.VCPUDuration,
		Limiter:         limiter,
	})
	if err != nil {
		logging.GetLogger().Fatal("failed_to_build_handler", zap.Error(err))
	}

	srv := &server.Server{
		ListenAddr: ":" + cfg.ListenPort,
		Handler:    handler,
		OnPanic:    handler.ReportPanic,
		KnownPaths: []string{
			probe.PathRoot, probe.PathMemoryLimit, probe.PathRuntimeLimit,
			probe.PathLogLevels, probe.PathVCPULimit, probe.PathPanic,
		},
	}
	if cfg.Metrics.Enabled {
		srv.MetricsAddr = ":" + cfg.Metrics.ListenPort
	}
	if err := srv.Listen(); err != nil {
		logging.GetLogger().Fatal("failed_to_listen", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	logging.GetLogger().Info("limitprobe_started",
		zap.String("listen_addr", srv.Addr()),
		zap.String("log_endpoint", cfg.LogEndpoint),
		zap.Duration("runtime_duration", cfg.Limits.RuntimeDuration),
	)

	select {
	case <-sigCh:
		logging.GetLogger().Info("shutting_down")
	case err := <-serveErr:
		if err != nil {
			logging.GetLogger().Error("server_stopped", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.GetLogger().Warn("shutdown_incomplete", zap.Error(err))
	}
}
