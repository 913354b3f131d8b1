package imagesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/viflex/platescan/internal/core"
	"github.com/viflex/platescan/internal/selection"
)

// ErrNoImageFile is returned when none of the candidates is an acceptable image.
var ErrNoImageFile = errors.New("no acceptable image file")

// FilePicker reads an image from the filesystem. With several candidates the
// first one that is an image within limits wins, the way a drop of multiple
// files is handled. A directory candidate contributes its regular files in
// name order.
type FilePicker struct {
	Paths []string
}

// NewFilePicker returns a picker over paths.
func NewFilePicker(paths ...string) *FilePicker {
	return &FilePicker{Paths: paths}
}

// Kind returns KindFilePicker.
func (p *FilePicker) Kind() Kind {
	return KindFilePicker
}

// Acquire returns the first acceptable image. Rejections of individual
// candidates are reported only when nothing was accepted.
func (p *FilePicker) Acquire(ctx context.Context) (*core.ImageBlob, error) {
	candidates, err := p.expand()
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blob, err := readImageFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		return blob, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoImageFile, lastErr)
	}
	return nil, ErrNoImageFile
}

func (p *FilePicker) expand() ([]string, error) {
	if p == nil || len(p.Paths) == 0 {
		return nil, fmt.Errorf("%w: no path given", ErrNoImageFile)
	}

	var out []string
	for _, raw := range p.Paths {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.Type().IsRegular() {
				out = append(out, filepath.Join(path, entry.Name()))
			}
		}
	}
	return out, nil
}

// readImageFile checks size before reading and sniffs the media type from the
// content. The blob is validated with the selection rules.
func readImageFile(path string) (*core.ImageBlob, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > selection.MaxImageBytes {
		return nil, &selection.RejectionError{
			Reason: selection.ReasonTooLarge,
			Detail: fmt.Sprintf("%s is %d bytes, limit is %d", filepath.Base(path), info.Size(), selection.MaxImageBytes),
		}
	}

	f, err := os.Open(path) // #nosec G304 -- path is user-provided
	if err != nil {
		return nil, err
	}
	defer f.Close() // nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(f, selection.MaxImageBytes+1))
	if err != nil {
		return nil, err
	}

	blob := &core.ImageBlob{
		Data:       data,
		MIMEType:   SniffMIME(data),
		Filename:   filepath.Base(path),
		CapturedAt: info.ModTime().UTC(),
	}
	if blob.CapturedAt.IsZero() {
		blob.CapturedAt = time.Now().UTC()
	}
	if err := selection.Validate(blob); err != nil {
		return nil, err
	}
	return blob, nil
}
