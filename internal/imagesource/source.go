// Package imagesource obtains a single still image from a native still
// camera, a live camera stream, or the filesystem.
package imagesource

import (
	"context"
	"errors"
	"image"

	"github.com/viflex/platescan/internal/core"
)

// Kind identifies a source variant.
type Kind string

const (
	KindNativeCamera Kind = "native"
	KindStreamCamera Kind = "stream"
	KindFilePicker   Kind = "file"
)

var (
	// ErrPermissionDenied is returned when the platform refuses camera access.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrUnavailable is returned when no usable camera backend exists.
	ErrUnavailable = errors.New("camera unavailable")
	// ErrNoFrame is returned when a stream has not produced a frame yet.
	ErrNoFrame = errors.New("no frame available")
)

// Source acquires one image.
type Source interface {
	Kind() Kind
	Acquire(ctx context.Context) (*core.ImageBlob, error)
}

// Streamer is implemented by sources that can also run a live preview.
type Streamer interface {
	Source
	Start(ctx context.Context) (Stream, error)
}

// Stream is a live camera feed. A stream owns hardware until every track has
// been stopped.
type Stream interface {
	// Ready blocks until the first frame arrives.
	Ready(ctx context.Context) error
	// Snapshot returns the most recent frame.
	Snapshot() (image.Image, error)
	Tracks() []Track
}

// Track is one underlying media handle of a stream.
type Track interface {
	ID() string
	Stop() error
	Stopped() bool
}

// StopStream stops every track of s and returns the first error. A nil stream
// is a no-op.
func StopStream(s Stream) error {
	if s == nil {
		return nil
	}
	var first error
	for _, track := range s.Tracks() {
		if track == nil {
			continue
		}
		if err := track.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Active reports whether any track of s is still running.
func Active(s Stream) bool {
	if s == nil {
		return false
	}
	for _, track := range s.Tracks() {
		if track != nil && !track.Stopped() {
			return true
		}
	}
	return false
}
