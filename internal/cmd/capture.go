package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/viflex/platescan/internal/capture"
	"github.com/viflex/platescan/internal/config"
	"github.com/viflex/platescan/internal/core"
	"github.com/viflex/platescan/internal/imagesource"
	"github.com/viflex/platescan/internal/metrics"
	"github.com/viflex/platescan/internal/observability"
	"github.com/viflex/platescan/internal/output"
	"github.com/viflex/platescan/internal/workflow"
)

// errQuit ends an interactive loop without an error exit.
var errQuit = errors.New("quit")

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Take a meal photo with the camera and analyze it",
	Long: `Open the camera, take a photo, review it and submit it for analysis.

During review a thumbnail is written to the preview directory so the photo
can be checked before it is sent. After an analysis you can take a new
photo, and after a failure you can retry the same one.`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().String("endpoint", "", "Analysis webhook URL (overrides analysis.endpoint)")
	captureCmd.Flags().Duration("timeout", 0, "Client-side request timeout (0 waits for the service)")
	captureCmd.Flags().Bool("no-history", false, "Do not record analyses in history")
	captureCmd.Flags().String("camera-mode", "", "Camera backend: auto, native or stream (overrides camera.mode)")
	captureCmd.Flags().String("preview-dir", "", "Directory for review thumbnails (overrides preview.dir)")
	addOutputFlags(captureCmd)
}

func runCapture(cmd *cobra.Command, _ []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	overrides := analysisOverrides(cmd)
	if mode, _ := cmd.Flags().GetString("camera-mode"); strings.TrimSpace(mode) != "" {
		overrides["camera.mode"] = strings.TrimSpace(mode)
	}
	if dir, _ := cmd.Flags().GetString("preview-dir"); strings.TrimSpace(dir) != "" {
		overrides["preview.dir"] = strings.TrimSpace(dir)
	}
	cfg, err := loadConfig(ctx, overrides)
	if err != nil {
		return err
	}
	logger := observability.CLILogger

	db, err := openHistory(ctx, cfg)
	if err != nil {
		logger.Warn("History unavailable; continuing without it", zap.Error(err))
		db = nil
	}
	if db != nil {
		defer db.Close() // nolint:errcheck
	}
	ctrl := newController(newAnalysisClient(cfg, logger), db, logger)

	p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
	useFiles := false
	for {
		var blob *core.ImageBlob
		if useFiles {
			blob, err = pickFile(ctx, p)
		} else {
			blob, err = reviewCapture(ctx, cfg, logger, p)
			if err != nil && !errors.Is(err, errQuit) && cameraFailed(err) {
				logger.Debug("Camera failed, switching to file selection", zap.Error(err))
				fmt.Fprintf(p.out, "Camera unavailable (%v).\nChoose a photo file instead.\n", err)
				useFiles = true
				blob, err = pickFile(ctx, p)
			}
		}
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := ctrl.Select(blob); err != nil {
			return err
		}

		if err := analyzeInteractive(ctx, cmd, ctrl, p, format); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		}
		ctrl.Clear()
	}
}

// analyzeInteractive analyzes the selection, offering a retry after each
// failure. It returns nil when the user asks for a new photo and errQuit
// when they quit.
func analyzeInteractive(ctx context.Context, cmd *cobra.Command, ctrl *workflow.Controller, p *prompter, format output.Format) error {
	for {
		result, err := analyzeSelected(ctx, cmd, ctrl)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			next, perr := p.ask("[r]etry, [n]ew photo or [q]uit", choiceRetry, choiceNew, choiceQuit)
			if perr != nil {
				return perr
			}
			if next == choiceRetry {
				continue
			}
			return nil
		}

		rendered, err := output.FormatResult(format, result)
		if err != nil {
			return err
		}
		if err := writeRendered(cmd, format, resultStem(ctrl.Snapshot().Image), rendered); err != nil {
			return err
		}
		_, err = p.ask("[n]ew photo or [q]uit", choiceNew, choiceQuit)
		return err
	}
}

// cameraFailed reports whether err means the camera cannot be used at all, as
// opposed to the user quitting or the context ending.
func cameraFailed(err error) bool {
	return errors.Is(err, capture.ErrStreamUnavailable) ||
		errors.Is(err, imagesource.ErrPermissionDenied) ||
		errors.Is(err, imagesource.ErrUnavailable)
}

// pickFile asks for image paths until one holds an acceptable image.
func pickFile(ctx context.Context, p *prompter) (*core.ImageBlob, error) {
	for {
		path, err := p.askLine("Image file or directory ([q]uit)")
		if err != nil {
			return nil, err
		}
		blob, err := imagesource.NewFilePicker(path).Acquire(ctx)
		if err == nil {
			metrics.RecordCapture(string(imagesource.KindFilePicker), "confirmed")
			return blob, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fmt.Fprintf(p.out, "Cannot use %s: %v\n", path, err)
	}
}

// reviewCapture runs one capture session until the user accepts a photo.
// The session is always closed before returning.
func reviewCapture(ctx context.Context, cfg *config.Config, logger *logging.Logger, p *prompter) (*core.ImageBlob, error) {
	session, kind, err := captureSessions(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer session.Close() // nolint:errcheck

	previewDir, err := resolvePreviewDir(cfg)
	if err != nil {
		logger.Warn("Preview disabled", zap.Error(err))
	}

	if err := session.Open(ctx); err != nil {
		metrics.RecordCapture(string(kind), "failed")
		return nil, err
	}

	for {
		if session.State() == capture.StateStreamActive {
			if _, err := p.ask("Camera ready. [c]apture or [q]uit", choiceCapture, choiceQuit); err != nil {
				return nil, err
			}
			if _, err := session.Capture(ctx); err != nil {
				metrics.RecordCapture(string(kind), "failed")
				return nil, err
			}
		}

		blob := session.Reviewing()
		if blob == nil {
			return nil, &capture.StateError{Op: "review", State: session.State()}
		}
		if previewDir != "" {
			writeReviewPreview(cfg, logger, p.out, previewDir, blob)
		}

		next, err := p.ask("Use this photo? [y]es, [r]etake or [q]uit", choiceYes, choiceRetake, choiceQuit)
		if err != nil {
			return nil, err
		}
		if next == choiceYes {
			metrics.RecordCapture(string(kind), "confirmed")
			return session.Confirm()
		}
		metrics.RecordCapture(string(kind), "retake")
		if err := session.Retake(ctx); err != nil {
			return nil, err
		}
	}
}

// captureUnattended takes a single photo without review.
func captureUnattended(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*core.ImageBlob, error) {
	session, kind, err := captureSessions(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer session.Close() // nolint:errcheck

	if err := session.Open(ctx); err != nil {
		metrics.RecordCapture(string(kind), "failed")
		return nil, err
	}
	if session.State() == capture.StateStreamActive {
		if _, err := session.Capture(ctx); err != nil {
			metrics.RecordCapture(string(kind), "failed")
			return nil, err
		}
	}
	blob, err := session.Confirm()
	if err != nil {
		return nil, err
	}
	metrics.RecordCapture(string(kind), "confirmed")
	return blob, nil
}

func resolvePreviewDir(cfg *config.Config) (string, error) {
	if !cfg.Preview.Enabled {
		return "", nil
	}
	dir := strings.TrimSpace(cfg.Preview.Dir)
	if dir == "" {
		name := "platescan"
		if id := GetAppIdentity(); id != nil && id.BinaryName != "" {
			name = id.BinaryName
		}
		dir = filepath.Join(os.TempDir(), name+"-preview")
	}
	abs, err := ensureOutDir(dir)
	if err != nil {
		return "", err
	}
	if err := verifyDirWritable(abs); err != nil {
		return "", err
	}
	return abs, nil
}

func writeReviewPreview(cfg *config.Config, logger *logging.Logger, out io.Writer, dir string, blob *core.ImageBlob) {
	name := fmt.Sprintf("capture-%s.jpg", time.Now().UTC().Format("20060102-150405"))
	path := imagesource.ThumbnailPath(dir, name, "preview", "jpeg")
	if err := imagesource.WritePreview(blob, path, cfg.Preview.MaxSize, "jpeg", 85); err != nil {
		logger.Warn("Failed to write preview", zap.Error(err))
		return
	}
	fmt.Fprintf(out, "Preview: %s\n", path)
}

type choice string

const (
	choiceYes     choice = "y"
	choiceRetake  choice = "r"
	choiceRetry   choice = "r"
	choiceNew     choice = "n"
	choiceCapture choice = "c"
	choiceQuit    choice = "q"
)

// prompter reads single-letter answers from a line-oriented input.
type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewScanner(in), out: out}
}

// askLine returns the next non-blank answer as typed. "q" or end of input
// quits.
func (p *prompter) askLine(question string) (string, error) {
	for {
		fmt.Fprintf(p.out, "%s: ", question)
		if !p.in.Scan() {
			if err := p.in.Err(); err != nil {
				return "", err
			}
			fmt.Fprintln(p.out)
			return "", errQuit
		}
		answer := strings.TrimSpace(p.in.Text())
		if answer == "" {
			continue
		}
		if strings.EqualFold(answer, string(choiceQuit)) {
			return "", errQuit
		}
		return answer, nil
	}
}

// ask repeats the question until the answer starts with one of allowed.
// End of input counts as quit.
func (p *prompter) ask(question string, allowed ...choice) (choice, error) {
	for {
		fmt.Fprintf(p.out, "%s: ", question)
		if !p.in.Scan() {
			if err := p.in.Err(); err != nil {
				return choiceQuit, err
			}
			fmt.Fprintln(p.out)
			return choiceQuit, errQuit
		}
		answer := strings.ToLower(strings.TrimSpace(p.in.Text()))
		if answer == "" {
			continue
		}
		for _, c := range allowed {
			if strings.HasPrefix(answer, string(c)) {
				if c == choiceQuit {
					return c, errQuit
				}
				return c, nil
			}
		}
	}
}
