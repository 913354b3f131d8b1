package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viflex/platescan/internal/analysis"
	errwrap "github.com/viflex/platescan/internal/errors"
	"github.com/viflex/platescan/internal/imagesource"
	"github.com/viflex/platescan/internal/observability"
	"github.com/viflex/platescan/internal/selection"
)

const eggResponse = `[{"output":{"status":"success","food":[{"name":"Egg","quantity":"6 large","calories":468,"protein":37.8,"carbs":3.6,"fat":31.8}],"total":{"calories":468,"protein":37.8,"carbs":3.6,"fat":31.8}}}]`

func isolateCLI(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, "cache"))
	t.Chdir(t.TempDir())
	if observability.CLILogger == nil {
		observability.InitCLILogger("platescan", false)
	}
	return home
}

func writeMealJPEG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(x * 8), B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	path := filepath.Join(dir, "breakfast.jpg")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
	return path
}

// setFlags sets flags on cmd and restores their defaults afterwards.
func setFlags(t *testing.T, cmd *cobra.Command, values map[string]string) {
	t.Helper()
	for name, value := range values {
		f := cmd.Flags().Lookup(name)
		require.NotNil(t, f, "flag %s", name)
		require.NoError(t, cmd.Flags().Set(name, value))
	}
	t.Cleanup(func() {
		for name := range values {
			f := cmd.Flags().Lookup(name)
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})
}

func runWithOutput(t *testing.T, cmd *cobra.Command, run func(*cobra.Command, []string) error, args []string) (string, string, error) {
	t.Helper()
	return runWithInput(t, cmd, run, args, "")
}

// runWithInput runs cmd with stdin holding the given lines.
func runWithInput(t *testing.T, cmd *cobra.Command, run func(*cobra.Command, []string) error, args []string, stdin string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetContext(context.Background())
	t.Cleanup(func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
		cmd.SetIn(nil)
	})
	err := run(cmd, args)
	return stdout.String(), stderr.String(), err
}

func TestAnalyzeCommand(t *testing.T) {
	isolateCLI(t)
	photo := writeMealJPEG(t, t.TempDir())

	var gotField, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			for name, files := range r.MultipartForm.File {
				gotField = name
				gotType = files[0].Header.Get("Content-Type")
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, eggResponse)
	}))
	defer srv.Close()

	setFlags(t, analyzeCmd, map[string]string{
		"endpoint":   srv.URL,
		"output":     "json",
		"no-history": "true",
	})

	stdout, stderr, err := runWithOutput(t, analyzeCmd, runAnalyze, []string{photo})
	require.NoError(t, err)

	assert.Equal(t, "image", gotField)
	assert.Equal(t, "image/jpeg", gotType)
	assert.Contains(t, stderr, "Analyzing breakfast.jpg")

	var view struct {
		Status string `json:"status"`
		Items  []struct {
			Name string `json:"name"`
		} `json:"items"`
		Total struct {
			Calories   float64 `json:"calories"`
			ProteinPct float64 `json:"protein_pct"`
			CarbsPct   float64 `json:"carbs_pct"`
			FatPct     float64 `json:"fat_pct"`
		} `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &view))
	assert.Equal(t, "success", view.Status)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "Egg", view.Items[0].Name)
	assert.Equal(t, 468.0, view.Total.Calories)
	assert.InDelta(t, 32.3, view.Total.ProteinPct, 0.001)
	assert.InDelta(t, 3.1, view.Total.CarbsPct, 0.001)
	assert.InDelta(t, 61.2, view.Total.FatPct, 0.001)
}

func TestAnalyzeCommandUpstreamFailure(t *testing.T) {
	isolateCLI(t)
	photo := writeMealJPEG(t, t.TempDir())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	setFlags(t, analyzeCmd, map[string]string{"endpoint": srv.URL, "no-history": "true"})

	stdout, stderr, err := runWithOutput(t, analyzeCmd, runAnalyze, []string{photo})
	require.Error(t, err)
	assert.Equal(t, analysis.KindHTTPStatus, analysis.KindOf(err))
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "The analysis service returned HTTP 503. Please try again.")
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCodeFor(err))
}

func TestAnalyzeCommandArguments(t *testing.T) {
	isolateCLI(t)

	_, _, err := runWithOutput(t, analyzeCmd, runAnalyze, nil)
	assert.EqualError(t, err, "provide an image file or use --camera")

	setFlags(t, analyzeCmd, map[string]string{"camera": "true"})
	_, _, err = runWithOutput(t, analyzeCmd, runAnalyze, []string{"a.jpg"})
	assert.EqualError(t, err, "--camera cannot be combined with file arguments")
}

func TestAnalyzeCommandRejectsUnsupportedFile(t *testing.T) {
	isolateCLI(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0600))

	setFlags(t, analyzeCmd, map[string]string{"endpoint": "http://127.0.0.1:1/unused", "no-history": "true"})
	_, _, err := runWithOutput(t, analyzeCmd, runAnalyze, []string{path})
	require.Error(t, err)
	assert.ErrorIs(t, err, imagesource.ErrNoImageFile)
	assert.Equal(t, foundry.ExitFileNotFound, ExitCodeFor(err))
}

func TestAnalyzeRecordsHistory(t *testing.T) {
	home := isolateCLI(t)
	photo := writeMealJPEG(t, t.TempDir())
	t.Setenv("PLATESCAN_HISTORY_ENABLED", "true")
	t.Setenv("PLATESCAN_DB_PATH", filepath.Join(home, "history.db"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, eggResponse)
	}))
	defer srv.Close()

	setFlags(t, analyzeCmd, map[string]string{"endpoint": srv.URL})
	_, _, err := runWithOutput(t, analyzeCmd, runAnalyze, []string{photo})
	require.NoError(t, err)

	setFlags(t, historyListCmd, map[string]string{"output": "json"})
	stdout, _, err := runWithOutput(t, historyListCmd, historyListCmd.RunE, nil)
	require.NoError(t, err)

	var records []struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
		Endpoint string `json:"endpoint"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "breakfast.jpg", records[0].Filename)
	assert.Equal(t, srv.URL, records[0].Endpoint)

	stdout, _, err = runWithOutput(t, historyDeleteCmd, historyDeleteCmd.RunE, []string{records[0].ID})
	require.NoError(t, err)
	assert.Contains(t, stdout, "Deleted "+records[0].ID)

	_, _, err = runWithOutput(t, historyShowCmd, historyShowCmd.RunE, []string{records[0].ID})
	assert.EqualError(t, err, "no analysis with id "+records[0].ID)
}

func TestHistoryDisabled(t *testing.T) {
	isolateCLI(t)
	_, _, err := runWithOutput(t, historyListCmd, historyListCmd.RunE, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history is disabled")
}

func TestWriteRenderedToFile(t *testing.T) {
	isolateCLI(t)
	dir := t.TempDir()
	cmd := &cobra.Command{Use: "test"}
	addOutputFlags(cmd)
	require.NoError(t, cmd.Flags().Set("out", dir))
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)

	require.NoError(t, writeRendered(cmd, "json", "lunch-1", `{"ok":true}`))

	data, err := os.ReadFile(filepath.Join(dir, "lunch-1.json"))
	require.NoError(t, err)
	assert.Equal(t, "{\"ok\":true}\n", string(data))
	assert.Contains(t, stderr.String(), "Wrote ")
}

func TestPrompterAsk(t *testing.T) {
	var out bytes.Buffer
	p := newPrompter(strings.NewReader("\nmaybe\nR\nyes\nq\n"), &out)

	got, err := p.ask("Use this photo?", choiceYes, choiceRetake, choiceQuit)
	require.NoError(t, err)
	assert.Equal(t, choiceRetake, got)
	assert.Equal(t, 3, strings.Count(out.String(), "Use this photo?: "))

	got, err = p.ask("Use this photo?", choiceYes, choiceRetake, choiceQuit)
	require.NoError(t, err)
	assert.Equal(t, choiceYes, got)

	got, err = p.ask("[n]ew photo or [q]uit", choiceNew, choiceQuit)
	assert.ErrorIs(t, err, errQuit)
	assert.Equal(t, choiceQuit, got)

	_, err = p.ask("again", choiceNew)
	assert.ErrorIs(t, err, errQuit, "end of input quits")
}

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want foundry.ExitCode
	}{
		{"missing file", fmt.Errorf("open: %w", os.ErrNotExist), foundry.ExitFileNotFound},
		{"rejected", &selection.RejectionError{Reason: selection.ReasonTooLarge}, foundry.ExitFileNotFound},
		{"camera", imagesource.ErrPermissionDenied, foundry.ExitExternalServiceUnavailable},
		{"network", &analysis.Error{Kind: analysis.KindNetwork}, foundry.ExitExternalServiceUnavailable},
		{"config", errwrap.NewConfigInvalidError("camera.mode must be auto, native or stream"), foundry.ExitConfigInvalid},
		{"other", fmt.Errorf("boom"), foundry.ExitFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCodeFor(tc.err))
		})
	}
}
