package imagesource

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"github.com/viflex/platescan/internal/core"
)

// Thumbnail scales img so that its longest side is at most maxSize.
func Thumbnail(img image.Image, maxSize int) (image.Image, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, errors.New("invalid image dimensions")
	}

	scale := float64(maxSize) / float64(max(width, height))
	if scale > 1 {
		scale = 1
	}
	newW := max(int(float64(width)*scale), 1)
	newH := max(int(float64(height)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst, nil
}

// WritePreview writes a thumbnail of blob to outPath for review.
func WritePreview(blob *core.ImageBlob, outPath string, maxSize int, format string, jpegQuality int) error {
	if blob == nil || len(blob.Data) == 0 {
		return errors.New("image is empty")
	}
	img, _, err := image.Decode(bytes.NewReader(blob.Data))
	if err != nil {
		return fmt.Errorf("decode preview source: %w", err)
	}
	return writeScaled(img, outPath, maxSize, format, jpegQuality)
}

// WriteThumbnailFile reads inPath and writes a thumbnail to outPath.
func WriteThumbnailFile(inPath, outPath string, maxSize int, format string, jpegQuality int) error {
	inFile, err := os.Open(inPath) // #nosec G304 -- path is user-provided
	if err != nil {
		return err
	}
	defer inFile.Close() // nolint:errcheck

	img, _, err := image.Decode(inFile)
	if err != nil {
		return err
	}
	return writeScaled(img, outPath, maxSize, format, jpegQuality)
}

// ThumbnailPath returns <outDir>/<base>.<suffix>.<ext>.
func ThumbnailPath(outDir, filename, suffix, format string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	ext := "jpg"
	if format == "png" {
		ext = "png"
	}
	return filepath.Join(outDir, fmt.Sprintf("%s.%s.%s", base, suffix, ext))
}

func writeScaled(img image.Image, outPath string, maxSize int, format string, jpegQuality int) error {
	thumb, err := Thumbnail(img, maxSize)
	if err != nil {
		return err
	}

	outFile, err := os.Create(outPath) // #nosec G304 -- path is user-provided
	if err != nil {
		return err
	}
	defer outFile.Close() // nolint:errcheck

	return encodeImage(outFile, thumb, format, jpegQuality)
}

func encodeImage(w io.Writer, img image.Image, format string, jpegQuality int) error {
	switch format {
	case "png":
		return png.Encode(w, img)
	case "jpeg", "jpg", "":
		q := min(max(jpegQuality, 1), 100)
		return jpeg.Encode(w, img, &jpeg.Options{Quality: q})
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
