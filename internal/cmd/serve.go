package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/viflex/platescan/internal/config"
	errwrap "github.com/viflex/platescan/internal/errors"
	"github.com/viflex/platescan/internal/metrics"
	"github.com/viflex/platescan/internal/observability"
	"github.com/viflex/platescan/internal/server"
	"github.com/viflex/platescan/internal/server/handlers"
	"github.com/viflex/platescan/internal/workflow"
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP API server with graceful shutdown support.

Each API session owns one capture-to-results workflow: upload an image with
PUT /api/v1/sessions/{id}/image, then POST /api/v1/sessions/{id}/analyze.
Recorded analyses are served under /api/v1/history when history is enabled.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload config (log level and analysis endpoint for new sessions)

The server will cleanly shut down the HTTP server and flush logs on shutdown.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "server host (overrides server.host)")
	serveCmd.Flags().IntP("port", "p", 0, "server port (overrides server.port)")
}

func serveOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		overrides["server.host"] = host
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		overrides["server.port"] = port
	}
	return overrides
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	overrides := serveOverrides(cmd)
	cfg, err := loadConfig(ctx, overrides)
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
	}

	identity := GetAppIdentity()
	namespace := identity.TelemetryNamespace()

	observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, cfg.Logging.Profile, namespace)
	logger := observability.ServerLogger

	metricsPort := cfg.Metrics.Port
	if metricsPort == 0 {
		metricsPort = 9090
	}
	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}
	}

	logger.Info("Initializing server",
		zap.String("service", identity.BinaryName),
		zap.String("namespace", namespace),
		zap.String("version", versionInfo.Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("endpoint", cfg.Analysis.Endpoint),
		zap.Bool("history", cfg.History.Enabled))

	db, err := openHistory(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open history store", zap.Error(err))
		return errwrap.WrapDatabaseError(ctx, err, "history store unavailable")
	}

	// New sessions pick up the config reloaded on SIGHUP.
	factory := func() *workflow.Controller {
		current := config.GetConfig()
		if current == nil {
			current = cfg
		}
		return newController(newAnalysisClient(current, observability.ServerLogger), db, observability.ServerLogger)
	}
	registry := server.NewRegistry(factory, cfg.Server.MaxSessions, cfg.Server.SessionTTL)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go registry.Run(sweepCtx)

	// With health checks disabled the probes still answer, without checkers.
	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	if cfg.Health.Enabled {
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		hm.RegisterChecker("app_identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})
	}

	capabilities := []string{"sessions", "analyze"}
	opts := []server.Option{
		server.WithSessions(registry),
		server.WithDebugRoutes(cfg.Debug.Enabled),
		server.WithTimeouts(server.Timeouts{
			Read:  cfg.Server.ReadTimeout,
			Write: cfg.Server.WriteTimeout,
			Idle:  cfg.Server.IdleTimeout,
		}),
	}
	if db != nil {
		if cfg.Health.Enabled {
			hm.RegisterChecker("history_store", handlers.CheckFunc(db.CheckHealth))
		}
		opts = append(opts, server.WithHistory(db))
		capabilities = append(capabilities, "history")
	}
	handlers.SetAppIdentity(identity)
	handlers.SetCapabilities(capabilities...)

	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	// Shutdown handlers run LIFO: server first, then sessions, then the store,
	// then the logger flush.
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Flushing logger...")
		if err := logger.Sync(); err != nil {
			// Sync errors are often benign (stdout/stderr already closed)
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	if db != nil {
		signals.OnShutdown(func(ctx context.Context) error {
			if err := db.Close(); err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "history store close failed")
			}
			return nil
		})
	}

	signals.OnShutdown(func(ctx context.Context) error {
		stopSweep()
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}

		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: attempting config reload")

		prev := config.GetConfig()
		if prev == nil {
			prev = cfg
		}
		next, err := loadConfig(ctx, overrides)
		if err != nil {
			logger.Error("Failed to reload config", zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}

		if next.Logging.Level != prev.Logging.Level || next.Logging.Profile != prev.Logging.Profile {
			observability.InitServerLogger(identity.BinaryName, next.Logging.Level, next.Logging.Profile, namespace)
		}
		if next.Server.Host != prev.Server.Host || next.Server.Port != prev.Server.Port {
			logger.Warn("Listen address changes need a restart",
				zap.String("host", next.Server.Host),
				zap.Int("port", next.Server.Port))
		}
		observability.ServerLogger.Info("Configuration reloaded",
			zap.String("endpoint", next.Analysis.Endpoint),
			zap.String("log_level", next.Logging.Level))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	metrics.SetServerStartTime(time.Now().Unix())

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	go func() {
		if err := signals.Listen(ctx); err != nil {
			logger.Error("Signal handler error", zap.Error(err))
			errChan <- err
		}
	}()

	if err := <-errChan; err != nil {
		return errwrap.WrapInternal(ctx, err, "server error")
	}
	return nil
}
