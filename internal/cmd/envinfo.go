package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/viflex/platescan/internal/config"
	"github.com/viflex/platescan/internal/imagesource"
	"github.com/viflex/platescan/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration, camera and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()

		log.Info("=== PlateScan Environment Information ===")
		log.Info("")

		identity := GetAppIdentity()
		log.Info("Application:")
		log.Info("  Name:       " + identity.BinaryName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info("")

		cfg, err := loadConfig(cmd.Context(), nil)
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		log.Info("Configuration:")
		log.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		log.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		log.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		log.Info(fmt.Sprintf("  Server:         %s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port))
		log.Info("")

		log.Info("Analysis:")
		log.Info("  Endpoint:       "+cfg.Analysis.Endpoint, zap.String("endpoint", cfg.Analysis.Endpoint))
		log.Info("  Field Name:     " + cfg.Analysis.FieldName)
		timeout := "none"
		if cfg.Analysis.Timeout > 0 {
			timeout = cfg.Analysis.Timeout.String()
		}
		log.Info("  Timeout:        " + timeout)
		log.Info("")

		native := imagesource.NewNativeCamera(cfg.Camera.NativeCommand, log)
		stream := imagesource.NewStreamCamera(cfg.Camera.FFmpeg, cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height, log)
		log.Info("Camera:")
		log.Info("  Mode:           " + cfg.Camera.Mode)
		log.Info(fmt.Sprintf("  Native:         %s (available: %t)", strings.Join(native.Command, " "), native.Available()))
		log.Info(fmt.Sprintf("  Stream:         %s %s %dx%d (available: %t)", stream.FFmpeg, stream.Device, stream.Width, stream.Height, stream.Available()))
		log.Info(fmt.Sprintf("  Fallback:       %t", cfg.Camera.Fallback))
		log.Info("")

		log.Info("History:")
		log.Info(fmt.Sprintf("  Enabled:        %t", cfg.History.Enabled), zap.Bool("history_enabled", cfg.History.Enabled))
		log.Info("  DB Driver:      "+cfg.History.Driver, zap.String("db_driver", cfg.History.Driver))
		if strings.TrimSpace(cfg.History.URL) != "" {
			log.Info("  DB URL:         " + cfg.History.URL)
			if strings.TrimSpace(cfg.History.AuthToken) != "" {
				log.Info("  DB Auth Token:  (set)")
			}
		} else {
			log.Info("  DB Path:        " + cfg.History.Path)
		}
		log.Info(fmt.Sprintf("  Max Entries:    %d", cfg.History.MaxEntries))
		log.Info("")

		log.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
