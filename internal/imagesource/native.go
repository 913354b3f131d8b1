package imagesource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/viflex/platescan/internal/core"
)

// NativeCamera runs a platform still-capture command that writes one image to
// stdout. It never streams.
type NativeCamera struct {
	Command []string
	Logger  *logging.Logger

	// run is swapped in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)
}

// DefaultNativeCommand returns the still-capture command for the current OS,
// or nil when the platform has none.
func DefaultNativeCommand() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"imagesnap", "-q", "-"}
	case "linux":
		return []string{"libcamera-still", "-n", "-t", "1", "-e", "jpg", "-o", "-"}
	default:
		return nil
	}
}

// NewNativeCamera returns a native camera using command, or the platform
// default when command is empty.
func NewNativeCamera(command []string, logger *logging.Logger) *NativeCamera {
	if len(command) == 0 {
		command = DefaultNativeCommand()
	}
	return &NativeCamera{Command: command, Logger: logger}
}

// Kind returns KindNativeCamera.
func (c *NativeCamera) Kind() Kind {
	return KindNativeCamera
}

// Available reports whether the capture command can be found on PATH.
func (c *NativeCamera) Available() bool {
	if c == nil || len(c.Command) == 0 {
		return false
	}
	if c.run != nil {
		return true
	}
	_, err := exec.LookPath(c.Command[0])
	return err == nil
}

// Acquire runs the capture command once and returns the image as JPEG.
func (c *NativeCamera) Acquire(ctx context.Context) (*core.ImageBlob, error) {
	if c == nil || len(c.Command) == 0 {
		return nil, fmt.Errorf("native camera: %w", ErrUnavailable)
	}

	run := c.run
	if run == nil {
		run = runCommand
	}

	stdout, stderr, err := run(ctx, c.Command[0], c.Command[1:]...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyCameraError(c.Command[0], err, stderr)
	}

	raw, err := DecodeInline(stdout)
	if err != nil {
		return nil, fmt.Errorf("native camera output: %w", err)
	}
	data, err := ToJPEG(raw)
	if err != nil {
		return nil, fmt.Errorf("native camera output: %w", err)
	}

	if c.Logger != nil {
		c.Logger.Debug("Native camera captured image",
			zap.String("command", c.Command[0]),
			zap.Int("size", len(data)))
	}
	return core.NewCaptureBlob(data), nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- command comes from local config
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// classifyCameraError maps a failed capture command onto the package errors.
func classifyCameraError(command string, err error, stderr []byte) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%s: %w", command, ErrUnavailable)
	}

	msg := strings.ToLower(string(stderr))
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "not permitted"):
		return fmt.Errorf("%s: %w", command, ErrPermissionDenied)
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "no cameras available"),
		strings.Contains(msg, "no video devices"), strings.Contains(msg, "device or resource busy"):
		return fmt.Errorf("%s: %w", command, ErrUnavailable)
	}

	detail := strings.TrimSpace(string(stderr))
	if detail == "" {
		return fmt.Errorf("%s failed: %w", command, err)
	}
	return fmt.Errorf("%s failed: %w: %s", command, err, detail)
}
