package imagesource

import (
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viflex/platescan/internal/core"
)

func TestThumbnail(t *testing.T) {
	thumb, err := Thumbnail(testImage(400, 200), 100)
	require.NoError(t, err)
	require.Equal(t, 100, thumb.Bounds().Dx())
	require.Equal(t, 50, thumb.Bounds().Dy())

	same, err := Thumbnail(testImage(40, 20), 100)
	require.NoError(t, err)
	require.Equal(t, 40, same.Bounds().Dx())
}

func TestWritePreview(t *testing.T) {
	dir := t.TempDir()
	out := ThumbnailPath(dir, core.CaptureFilename, "preview", "jpeg")
	require.Equal(t, filepath.Join(dir, "camera-capture.preview.jpg"), out)

	blob := core.NewCaptureBlob(jpegBytes(t, 300, 150))
	require.NoError(t, WritePreview(blob, out, 64, "jpeg", 80))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close() // nolint:errcheck
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	require.Equal(t, 64, img.Bounds().Dx())

	require.Error(t, WritePreview(&core.ImageBlob{}, out, 64, "jpeg", 80))
	require.Error(t, WritePreview(blob, out, 64, "gif", 80))
}
