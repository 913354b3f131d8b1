package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/viflex/platescan/internal/core"
	"github.com/viflex/platescan/internal/imagesource"
	"github.com/viflex/platescan/internal/observability"
	"github.com/viflex/platescan/internal/output"
	"github.com/viflex/platescan/internal/workflow"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file...]",
	Short: "Analyze a meal photo",
	Long: `Submit a meal photo for nutrition analysis and print the breakdown.

The image comes from the given files (the first JPEG or PNG under 10 MiB
wins; directories are scanned in name order) or, with --camera, from a
single unattended camera capture.`,
	Example: `  platescan analyze lunch.jpg
  platescan analyze --camera --output json
  platescan analyze photos/ --out results/`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().Bool("camera", false, "Capture the image from the camera instead of a file")
	analyzeCmd.Flags().String("endpoint", "", "Analysis webhook URL (overrides analysis.endpoint)")
	analyzeCmd.Flags().Duration("timeout", 0, "Client-side request timeout (0 waits for the service)")
	analyzeCmd.Flags().Bool("no-history", false, "Do not record this analysis in history")
	addOutputFlags(analyzeCmd)
}

func analysisOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	if endpoint, _ := cmd.Flags().GetString("endpoint"); strings.TrimSpace(endpoint) != "" {
		overrides["analysis.endpoint"] = strings.TrimSpace(endpoint)
	}
	if cmd.Flags().Changed("timeout") {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		overrides["analysis.timeout"] = timeout.String()
	}
	if noHistory, _ := cmd.Flags().GetBool("no-history"); noHistory {
		overrides["history.enabled"] = false
	}
	return overrides
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	useCamera, _ := cmd.Flags().GetBool("camera")
	if useCamera && len(args) > 0 {
		return errors.New("--camera cannot be combined with file arguments")
	}
	if !useCamera && len(args) == 0 {
		return errors.New("provide an image file or use --camera")
	}

	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig(ctx, analysisOverrides(cmd))
	if err != nil {
		return err
	}
	logger := observability.CLILogger

	var blob *core.ImageBlob
	if useCamera {
		blob, err = captureUnattended(ctx, cfg, logger)
	} else {
		blob, err = imagesource.NewFilePicker(args...).Acquire(ctx)
	}
	if err != nil {
		return err
	}

	db, err := openHistory(ctx, cfg)
	if err != nil {
		logger.Warn("History unavailable; continuing without it", zap.Error(err))
		db = nil
	}
	if db != nil {
		defer db.Close() // nolint:errcheck
	}

	ctrl := newController(newAnalysisClient(cfg, logger), db, logger)
	if err := ctrl.Select(blob); err != nil {
		return err
	}

	result, err := analyzeSelected(ctx, cmd, ctrl)
	if err != nil {
		return err
	}

	rendered, err := output.FormatResult(format, result)
	if err != nil {
		return err
	}
	return writeRendered(cmd, format, resultStem(blob), rendered)
}

// analyzeSelected runs the analysis with a progress line on stderr. A failure
// prints the user-facing message before returning the error.
func analyzeSelected(ctx context.Context, cmd *cobra.Command, ctrl *workflow.Controller) (*core.AnalysisResult, error) {
	stderr := cmd.ErrOrStderr()
	snap := ctrl.Snapshot()
	if snap.Image != nil {
		fmt.Fprintf(stderr, "Analyzing %s (%d bytes)...\n", snap.Image.Filename, snap.Image.Size())
	}

	started := time.Now()
	result, err := ctrl.Analyze(ctx)
	if err != nil {
		if failed := ctrl.Snapshot(); failed.Phase == workflow.PhaseFailed && failed.Message != "" {
			fmt.Fprintln(stderr, failed.Message)
		}
		return nil, err
	}
	observability.CLILogger.Debug("Analysis complete",
		zap.Int("items", len(result.Items)),
		zap.Duration("elapsed", time.Since(started)))
	return result, nil
}

func resultStem(blob *core.ImageBlob) string {
	name := "analysis"
	if blob != nil && blob.Filename != "" {
		name = strings.TrimSuffix(blob.Filename, filepath.Ext(blob.Filename))
	}
	return sanitizeFilename(name + "-" + time.Now().UTC().Format("20060102-150405"))
}
