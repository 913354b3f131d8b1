package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/viflex/platescan/internal/errors"
	"github.com/viflex/platescan/internal/imagesource"
	"github.com/viflex/platescan/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Run a self-health check: version info, configuration, history store
and camera backends. Camera backends are informational; a missing camera
does not fail the check because images can still be analyzed from files.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		if logger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Info("✅ Version information available", zap.String("version", versionInfo.Version))

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		cfg, err := loadConfig(ctx, nil)
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(ctx, err, "configuration invalid"))
			return
		}
		logger.Info("✅ Configuration valid", zap.String("endpoint", cfg.Analysis.Endpoint))

		if cfg.History.Enabled {
			db, err := openHistory(ctx, cfg)
			if err == nil {
				err = db.CheckHealth(ctx)
				_ = db.Close()
			}
			if err != nil {
				ExitWithCode(logger, foundry.ExitFailure, "History store unavailable", errwrap.WrapDatabaseError(ctx, err, "history store unavailable"))
				return
			}
			logger.Info("✅ History store reachable", zap.String("driver", cfg.History.Driver))
		} else {
			logger.Info("➖ History disabled")
		}

		native := imagesource.NewNativeCamera(cfg.Camera.NativeCommand, logger)
		stream := imagesource.NewStreamCamera(cfg.Camera.FFmpeg, cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height, logger)
		logCameraBackend("Native still capture", native.Available())
		logCameraBackend("ffmpeg stream", stream.Available())

		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func logCameraBackend(name string, available bool) {
	if available {
		observability.CLILogger.Info("✅ " + name + " available")
		return
	}
	observability.CLILogger.Info("➖ " + name + " not found")
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
