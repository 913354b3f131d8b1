package imagesource

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viflex/platescan/internal/core"
)

func TestNativeCamera_Acquire(t *testing.T) {
	png := pngBytes(t, 20, 10)
	cam := NewNativeCamera([]string{"snap", "-o", "-"}, nil)

	var gotName string
	var gotArgs []string
	cam.run = func(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
		gotName = name
		gotArgs = args
		return png, nil, nil
	}

	blob, err := cam.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, "snap", gotName)
	require.Equal(t, []string{"-o", "-"}, gotArgs)
	require.Equal(t, core.MIMEJPEG, blob.MIMEType)
	require.Equal(t, core.CaptureFilename, blob.Filename)
	require.Equal(t, core.MIMEJPEG, SniffMIME(blob.Data))
}

func TestNativeCamera_AcquireDataURL(t *testing.T) {
	raw := jpegBytes(t, 8, 8)
	cam := NewNativeCamera([]string{"snap"}, nil)
	cam.run = func(context.Context, string, ...string) ([]byte, []byte, error) {
		return []byte("data:image/jpeg;base64," + EncodeBase64String(raw)), nil, nil
	}

	blob, err := cam.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, raw, blob.Data)
}

func TestNativeCamera_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		stderr string
		want   error
	}{
		{name: "permission", err: errors.New("exit status 1"), stderr: "Camera access not authorized", want: ErrPermissionDenied},
		{name: "busy", err: errors.New("exit status 1"), stderr: "open /dev/video0: Device or resource busy", want: ErrUnavailable},
		{name: "missing binary", err: exec.ErrNotFound, want: ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := NewNativeCamera([]string{"snap"}, nil)
			cam.run = func(context.Context, string, ...string) ([]byte, []byte, error) {
				return nil, []byte(tt.stderr), tt.err
			}
			_, err := cam.Acquire(context.Background())
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("unclassified", func(t *testing.T) {
		cam := NewNativeCamera([]string{"snap"}, nil)
		cam.run = func(context.Context, string, ...string) ([]byte, []byte, error) {
			return nil, []byte("weird failure"), errors.New("exit status 2")
		}
		_, err := cam.Acquire(context.Background())
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrPermissionDenied)
		require.Contains(t, err.Error(), "weird failure")
	})

	t.Run("no command", func(t *testing.T) {
		cam := &NativeCamera{}
		require.False(t, cam.Available())
		_, err := cam.Acquire(context.Background())
		require.ErrorIs(t, err, ErrUnavailable)
	})
}
