// Package capture runs one camera capture from opening the camera to a
// confirmed image.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/viflex/platescan/internal/core"
	"github.com/viflex/platescan/internal/imagesource"
)

// State is the lifecycle position of a Session.
type State string

const (
	StateIdle           State = "idle"
	StateStreamStarting State = "stream_starting"
	StateStreamActive   State = "stream_active"
	StateCapturing      State = "capturing"
	StateReviewing      State = "reviewing"
	StateConfirmed      State = "confirmed"
	StateClosed         State = "closed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateClosed
}

// DefaultReadyTimeout bounds the wait for the first stream frame.
const DefaultReadyTimeout = 10 * time.Second

var (
	// ErrStreamUnavailable is returned when a live stream cannot be started.
	// Callers fall back to picking a file.
	ErrStreamUnavailable = errors.New("camera stream unavailable")
	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = errors.New("capture session closed")
	// ErrInvalidState is matched by StateError.
	ErrInvalidState = errors.New("invalid capture state")
)

// StateError reports an operation attempted from the wrong state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("capture: cannot %s while %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// Option configures a Session.
type Option func(*Session)

// WithFallback sets the stream used when a native capture fails.
func WithFallback(stream imagesource.Streamer) Option {
	return func(s *Session) { s.fallback = stream }
}

// WithLogger sets the session logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithReadyTimeout overrides DefaultReadyTimeout.
func WithReadyTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.readyTimeout = d
		}
	}
}

// WithFrameBounds limits the encoded capture size. Zero keeps the frame size.
func WithFrameBounds(width, height int) Option {
	return func(s *Session) {
		s.maxWidth = width
		s.maxHeight = height
	}
}

// Session is one capture attempt. It holds at most one live stream, and every
// path out of the session stops all of that stream's tracks.
type Session struct {
	source       imagesource.Source
	fallback     imagesource.Streamer
	logger       *logging.Logger
	readyTimeout time.Duration
	maxWidth     int
	maxHeight    int

	mu       sync.Mutex
	state    State
	streamer imagesource.Streamer
	stream   imagesource.Stream
	blob     *core.ImageBlob
}

// NewSession returns an idle session over source.
func NewSession(source imagesource.Source, opts ...Option) *Session {
	s := &Session{
		source:       source,
		readyTimeout: DefaultReadyTimeout,
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reviewing returns the captured image while the session is in review.
func (s *Session) Reviewing() *core.ImageBlob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReviewing {
		return nil
	}
	return s.blob
}

// Preview returns the latest live frame while the stream is active.
func (s *Session) Preview() (image.Image, error) {
	s.mu.Lock()
	stream := s.stream
	state := s.state
	s.mu.Unlock()

	if state != StateStreamActive || stream == nil {
		return nil, &StateError{Op: "preview", State: state}
	}
	return stream.Snapshot()
}

// Open starts the camera. Streaming sources end in StreamActive; native
// sources capture immediately and end in Reviewing.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if err := s.expect("open", StateIdle); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.source == nil {
		s.mu.Unlock()
		return fmt.Errorf("capture: %w", imagesource.ErrUnavailable)
	}

	if streamer, ok := s.source.(imagesource.Streamer); ok && s.source.Kind() == imagesource.KindStreamCamera {
		s.setState(StateStreamStarting)
		s.mu.Unlock()
		return s.startStream(ctx, streamer)
	}

	s.setState(StateCapturing)
	s.mu.Unlock()
	return s.acquireStill(ctx)
}

// Capture takes the current stream frame as a JPEG and stops the stream.
func (s *Session) Capture(ctx context.Context) (*core.ImageBlob, error) {
	s.mu.Lock()
	if err := s.expect("capture", StateStreamActive); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	stream := s.stream
	s.setState(StateCapturing)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		s.restore(StateCapturing, StateStreamActive)
		return nil, err
	}

	data, err := s.grab(stream)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if err != nil {
		s.setState(StateStreamActive)
		s.mu.Unlock()
		return nil, err
	}
	s.stream = nil
	s.blob = core.NewCaptureBlob(data)
	s.setState(StateReviewing)
	blob := s.blob
	s.mu.Unlock()

	s.stop(stream)
	return blob, nil
}

func (s *Session) grab(stream imagesource.Stream) ([]byte, error) {
	img, err := stream.Snapshot()
	if err != nil {
		return nil, err
	}
	return imagesource.EncodeJPEG(img, imagesource.CaptureQuality, s.maxWidth, s.maxHeight)
}

// Retake discards the reviewed image and returns to the live camera, or
// reruns the native capture.
func (s *Session) Retake(ctx context.Context) error {
	s.mu.Lock()
	if err := s.expect("retake", StateReviewing); err != nil {
		s.mu.Unlock()
		return err
	}
	s.blob = nil
	streamer := s.streamer
	if streamer != nil {
		s.setState(StateStreamStarting)
		s.mu.Unlock()
		return s.startStream(ctx, streamer)
	}
	s.setState(StateCapturing)
	s.mu.Unlock()
	return s.acquireStill(ctx)
}

// Confirm accepts the reviewed image. It yields the image exactly once.
func (s *Session) Confirm() (*core.ImageBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect("confirm", StateReviewing); err != nil {
		return nil, err
	}
	blob := s.blob
	s.blob = nil
	s.setState(StateConfirmed)
	return blob, nil
}

// Close ends the session from any state and releases the camera. It is safe
// to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	stream := s.stream
	s.stream = nil
	s.blob = nil
	s.setState(StateClosed)
	s.mu.Unlock()

	return s.stop(stream)
}

func (s *Session) startStream(ctx context.Context, streamer imagesource.Streamer) error {
	stream, err := streamer.Start(ctx)
	if err == nil {
		readyCtx, cancel := context.WithTimeout(ctx, s.readyTimeout)
		err = stream.Ready(readyCtx)
		cancel()
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		// Closed while starting; the late stream must not survive.
		s.stop(stream)
		return ErrSessionClosed
	}
	if err != nil {
		s.setState(StateIdle)
		s.mu.Unlock()
		s.stop(stream)
		return fmt.Errorf("%w: %w", ErrStreamUnavailable, err)
	}
	s.streamer = streamer
	s.stream = stream
	s.setState(StateStreamActive)
	s.mu.Unlock()
	return nil
}

func (s *Session) acquireStill(ctx context.Context) error {
	blob, err := s.source.Acquire(ctx)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if err != nil {
		if s.fallback != nil && ctx.Err() == nil {
			s.setState(StateStreamStarting)
			s.mu.Unlock()
			if s.logger != nil {
				s.logger.Info("Native camera failed, falling back to stream", zap.Error(err))
			}
			return s.startStream(ctx, s.fallback)
		}
		s.setState(StateIdle)
		s.mu.Unlock()
		return err
	}
	s.blob = blob
	s.setState(StateReviewing)
	s.mu.Unlock()
	return nil
}

func (s *Session) restore(from, to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == from {
		s.setState(to)
	}
}

func (s *Session) stop(stream imagesource.Stream) error {
	if stream == nil {
		return nil
	}
	err := imagesource.StopStream(stream)
	if err != nil && s.logger != nil {
		s.logger.Warn("Failed to stop camera stream", zap.Error(err))
	}
	return err
}

// expect must be called with mu held.
func (s *Session) expect(op string, want State) error {
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.state != want {
		return &StateError{Op: op, State: s.state}
	}
	return nil
}

// setState must be called with mu held.
func (s *Session) setState(next State) {
	if s.logger != nil && next != s.state {
		s.logger.Debug("Capture state changed",
			zap.String("from", string(s.state)),
			zap.String("to", string(next)))
	}
	s.state = next
}
