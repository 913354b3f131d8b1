package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/viflex/platescan/internal/analysis"
	"github.com/viflex/platescan/internal/capture"
	"github.com/viflex/platescan/internal/config"
	"github.com/viflex/platescan/internal/core/store"
	"github.com/viflex/platescan/internal/imagesource"
	"github.com/viflex/platescan/internal/workflow"
)

func newAnalysisClient(cfg *config.Config, logger *logging.Logger) *analysis.Client {
	client := analysis.NewClient(cfg.Analysis.Endpoint)
	if name := strings.TrimSpace(cfg.Analysis.FieldName); name != "" {
		client.FieldName = name
	}
	client.Timeout = cfg.Analysis.Timeout
	client.Logger = logger
	return client
}

// captureSessions builds the capture session for the capture commands.
var captureSessions = newCaptureSession

// newCaptureSession builds a capture session for the configured camera mode.
// In auto mode the native still camera is used when its command is on PATH
// and the ffmpeg stream otherwise. With camera.fallback set a native session
// falls back to the stream when the still capture fails.
func newCaptureSession(cfg *config.Config, logger *logging.Logger) (*capture.Session, imagesource.Kind, error) {
	cam := cfg.Camera
	native := imagesource.NewNativeCamera(cam.NativeCommand, logger)
	stream := imagesource.NewStreamCamera(cam.FFmpeg, cam.Device, cam.Width, cam.Height, logger)

	opts := []capture.Option{
		capture.WithLogger(logger),
		capture.WithReadyTimeout(cam.ReadyTimeout),
		capture.WithFrameBounds(cam.Width, cam.Height),
	}

	mode := strings.ToLower(strings.TrimSpace(cam.Mode))
	switch mode {
	case config.CameraModeNative:
		if cam.Fallback {
			opts = append(opts, capture.WithFallback(stream))
		}
		return capture.NewSession(native, opts...), native.Kind(), nil
	case config.CameraModeStream:
		return capture.NewSession(stream, opts...), stream.Kind(), nil
	case config.CameraModeAuto, "":
		if native.Available() {
			if cam.Fallback {
				opts = append(opts, capture.WithFallback(stream))
			}
			return capture.NewSession(native, opts...), native.Kind(), nil
		}
		if stream.Available() {
			return capture.NewSession(stream, opts...), stream.Kind(), nil
		}
		return nil, "", fmt.Errorf("%w: neither a native capture command nor ffmpeg was found", imagesource.ErrUnavailable)
	default:
		return nil, "", fmt.Errorf("unknown camera mode %q", cam.Mode)
	}
}

// openHistory opens and migrates the history store. It returns nil when
// history is disabled.
func openHistory(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	db, err := store.Open(ctx, cfg.History)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// openHistoryRequired is openHistory for commands that only make sense with
// history on, such as the history subcommands.
func openHistoryRequired(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if !cfg.History.Enabled {
		return nil, fmt.Errorf("history is disabled; set history.enabled: true in the config file")
	}
	return openHistory(ctx, cfg)
}

// newController wires a workflow controller with optional history recording.
// Records carry the endpoint of client, the one that produced them.
func newController(client *analysis.Client, db *store.Store, logger *logging.Logger) *workflow.Controller {
	opts := []workflow.Option{workflow.WithLogger(logger)}
	if db != nil {
		opts = append(opts, workflow.WithRecorder(db.RecorderFor(client.Endpoint)))
	}
	if logger != nil {
		opts = append(opts, workflow.WithObserver(func(s workflow.Snapshot) {
			logger.Debug("Workflow phase changed",
				zap.String("phase", string(s.Phase)),
				zap.Uint64("seq", s.Seq))
		}))
	}
	return workflow.New(client, opts...)
}
