package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/viflex/platescan/internal/imagesource"
	"github.com/viflex/platescan/internal/selection"
)

var imageThumbCmd = &cobra.Command{
	Use:   "thumb",
	Short: "Generate thumbnails for meal photos",
	Long:  "Generate smaller thumbnail images (png/jpeg) for every JPEG or PNG photo in a directory.",
	RunE:  runImageThumb,
}

func init() {
	imageCmd.AddCommand(imageThumbCmd)

	imageThumbCmd.Flags().String("in-dir", "", "Input directory containing images")
	imageThumbCmd.Flags().String("out-dir", "", "Output directory for thumbnails (defaults to in-dir)")
	imageThumbCmd.Flags().Int("max-size", 256, "Max thumbnail dimension (64-1024)")
	imageThumbCmd.Flags().String("format", "jpeg", "Thumbnail format: jpeg or png")
	imageThumbCmd.Flags().Int("jpeg-quality", 80, "JPEG quality (1-100)")
	imageThumbCmd.Flags().String("suffix", "thumbnail", "Filename suffix (e.g. 'thumbnail' -> name.thumbnail.jpg)")
}

func runImageThumb(cmd *cobra.Command, _ []string) error {
	inDir, _ := cmd.Flags().GetString("in-dir")
	outDir, _ := cmd.Flags().GetString("out-dir")
	maxSize, _ := cmd.Flags().GetInt("max-size")
	format, _ := cmd.Flags().GetString("format")
	jpegQuality, _ := cmd.Flags().GetInt("jpeg-quality")
	suffix, _ := cmd.Flags().GetString("suffix")

	inDir = strings.TrimSpace(inDir)
	outDir = strings.TrimSpace(outDir)
	format = strings.ToLower(strings.TrimSpace(format))
	suffix = strings.TrimSpace(suffix)

	if inDir == "" {
		return errors.New("--in-dir is required")
	}
	if outDir == "" {
		outDir = inDir
	}
	if maxSize < 64 || maxSize > 1024 {
		return errors.New("--max-size must be between 64 and 1024")
	}
	switch format {
	case "jpeg", "jpg", "png":
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
	if suffix == "" {
		suffix = "thumbnail"
	}

	absIn, err := filepath.Abs(inDir)
	if err != nil {
		absIn = inDir
	}
	absOut, err := ensureOutDir(outDir)
	if err != nil {
		return err
	}
	if err := verifyDirWritable(absOut); err != nil {
		return err
	}

	entries, err := os.ReadDir(absIn)
	if err != nil {
		return err
	}

	written := 0
	for _, entry := range entries {
		if entry.IsDir() || !thumbnailCandidate(entry.Name(), suffix) {
			continue
		}
		name := entry.Name()
		outPath := imagesource.ThumbnailPath(absOut, name, suffix, format)
		if err := imagesource.WriteThumbnailFile(filepath.Join(absIn, name), outPath, maxSize, format, jpegQuality); err != nil {
			return fmt.Errorf("thumbnail %s: %w", name, err)
		}
		written++
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d thumbnail(s) to %s\n", written, absOut)
	return nil
}

// thumbnailCandidate reports whether name is a photo the analyzer accepts
// and not itself a thumbnail produced with suffix.
func thumbnailCandidate(name, suffix string) bool {
	lower := strings.ToLower(name)
	ext := filepath.Ext(lower)
	mimeType := "image/jpeg"
	if ext == ".png" {
		mimeType = "image/png"
	} else if ext != ".jpg" && ext != ".jpeg" {
		return false
	}
	if !selection.AllowedMIME(mimeType) {
		return false
	}
	return !strings.HasSuffix(strings.TrimSuffix(lower, ext), "."+strings.ToLower(suffix))
}
