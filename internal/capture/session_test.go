package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viflex/platescan/internal/core"
	"github.com/viflex/platescan/internal/imagesource"
)

type fakeTrack struct {
	id    string
	stops atomic.Int32
}

func (t *fakeTrack) ID() string    { return t.id }
func (t *fakeTrack) Stopped() bool { return t.stops.Load() > 0 }
func (t *fakeTrack) Stop() error {
	t.stops.Add(1)
	return nil
}

type fakeStream struct {
	tracks   []*fakeTrack
	readyErr error
	frame    image.Image
}

func (s *fakeStream) Ready(context.Context) error { return s.readyErr }

func (s *fakeStream) Snapshot() (image.Image, error) {
	if s.frame == nil {
		return nil, imagesource.ErrNoFrame
	}
	return s.frame, nil
}

func (s *fakeStream) Tracks() []imagesource.Track {
	out := make([]imagesource.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *fakeStream) stopCount() int32 {
	var n int32
	for _, t := range s.tracks {
		n += t.stops.Load()
	}
	return n
}

type fakeStreamer struct {
	mu       sync.Mutex
	streams  []*fakeStream
	startErr error
	readyErr error
	gate     chan struct{}
	entered  chan struct{}
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{}
}

func (f *fakeStreamer) Kind() imagesource.Kind { return imagesource.KindStreamCamera }

func (f *fakeStreamer) Acquire(context.Context) (*core.ImageBlob, error) {
	return nil, errors.New("not used")
}

func (f *fakeStreamer) Start(context.Context) (imagesource.Stream, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.startErr != nil {
		return nil, f.startErr
	}

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.White)
	s := &fakeStream{
		tracks:   []*fakeTrack{{id: "video"}, {id: "aux"}},
		readyErr: f.readyErr,
		frame:    img,
	}

	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeStreamer) all() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.streams...)
}

func (f *fakeStreamer) requireNoneActive(t *testing.T) {
	t.Helper()
	for _, s := range f.all() {
		require.False(t, imagesource.Active(s))
		for _, track := range s.tracks {
			require.Equal(t, int32(1), track.stops.Load(), "track %s", track.id)
		}
	}
}

type fakeNative struct {
	calls atomic.Int32
	err   error
}

func (f *fakeNative) Kind() imagesource.Kind { return imagesource.KindNativeCamera }

func (f *fakeNative) Acquire(context.Context) (*core.ImageBlob, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return core.NewCaptureBlob([]byte{0xFF, 0xD8, 0xFF, 0xD9}), nil
}

func TestSession_OpenCaptureConfirm(t *testing.T) {
	streamer := newFakeStreamer()
	s := NewSession(streamer)
	require.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Open(context.Background()))
	require.Equal(t, StateStreamActive, s.State())

	preview, err := s.Preview()
	require.NoError(t, err)
	require.NotNil(t, preview)

	blob, err := s.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateReviewing, s.State())
	require.Equal(t, core.MIMEJPEG, blob.MIMEType)
	require.Equal(t, core.CaptureFilename, blob.Filename)
	require.Same(t, blob, s.Reviewing())
	streamer.requireNoneActive(t)

	confirmed, err := s.Confirm()
	require.NoError(t, err)
	require.Same(t, blob, confirmed)
	require.Equal(t, StateConfirmed, s.State())
	require.True(t, s.State().Terminal())

	_, err = s.Confirm()
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, s.Close())
	require.Equal(t, StateClosed, s.State())
	streamer.requireNoneActive(t)
}

func TestSession_CloseFromStreamActive(t *testing.T) {
	streamer := newFakeStreamer()
	s := NewSession(streamer)
	require.NoError(t, s.Open(context.Background()))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, StateClosed, s.State())
	require.Len(t, streamer.all(), 1)
	streamer.requireNoneActive(t)

	require.ErrorIs(t, s.Open(context.Background()), ErrSessionClosed)
	_, err := s.Capture(context.Background())
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_CloseFromReviewing(t *testing.T) {
	streamer := newFakeStreamer()
	s := NewSession(streamer)
	require.NoError(t, s.Open(context.Background()))
	_, err := s.Capture(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.Nil(t, s.Reviewing())
	streamer.requireNoneActive(t)
}

func TestSession_Retake(t *testing.T) {
	streamer := newFakeStreamer()
	s := NewSession(streamer)
	require.NoError(t, s.Open(context.Background()))
	_, err := s.Capture(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Retake(context.Background()))
	require.Equal(t, StateStreamActive, s.State())
	require.Nil(t, s.Reviewing())

	streams := streamer.all()
	require.Len(t, streams, 2)
	require.Equal(t, int32(2), streams[0].stopCount())
	require.True(t, imagesource.Active(streams[1]))

	second, err := s.Capture(context.Background())
	require.NoError(t, err)
	confirmed, err := s.Confirm()
	require.NoError(t, err)
	require.Same(t, second, confirmed)
	streamer.requireNoneActive(t)
}

func TestSession_StreamStartFailure(t *testing.T) {
	streamer := newFakeStreamer()
	streamer.startErr = imagesource.ErrPermissionDenied
	s := NewSession(streamer)

	err := s.Open(context.Background())
	require.ErrorIs(t, err, ErrStreamUnavailable)
	require.ErrorIs(t, err, imagesource.ErrPermissionDenied)
	require.Equal(t, StateIdle, s.State())
}

func TestSession_FirstFrameFailureReleasesStream(t *testing.T) {
	streamer := newFakeStreamer()
	streamer.readyErr = imagesource.ErrNoFrame
	s := NewSession(streamer)

	err := s.Open(context.Background())
	require.ErrorIs(t, err, ErrStreamUnavailable)
	require.Equal(t, StateIdle, s.State())
	require.Len(t, streamer.all(), 1)
	streamer.requireNoneActive(t)
}

func TestSession_CloseWhileStarting(t *testing.T) {
	streamer := newFakeStreamer()
	streamer.gate = make(chan struct{})
	streamer.entered = make(chan struct{})
	s := NewSession(streamer)

	done := make(chan error, 1)
	go func() { done <- s.Open(context.Background()) }()

	select {
	case <-streamer.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("stream start was not attempted")
	}
	require.Equal(t, StateStreamStarting, s.State())

	require.NoError(t, s.Close())
	close(streamer.gate)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("open did not return")
	}
	require.Equal(t, StateClosed, s.State())
	require.Len(t, streamer.all(), 1)
	streamer.requireNoneActive(t)
}

func TestSession_CaptureWrongState(t *testing.T) {
	s := NewSession(newFakeStreamer())
	_, err := s.Capture(context.Background())
	require.ErrorIs(t, err, ErrInvalidState)

	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, StateIdle, stateErr.State)

	require.ErrorIs(t, s.Retake(context.Background()), ErrInvalidState)
}

func TestSession_Native(t *testing.T) {
	native := &fakeNative{}
	s := NewSession(native)

	require.NoError(t, s.Open(context.Background()))
	require.Equal(t, StateReviewing, s.State())

	require.NoError(t, s.Retake(context.Background()))
	require.Equal(t, StateReviewing, s.State())
	require.Equal(t, int32(2), native.calls.Load())

	blob, err := s.Confirm()
	require.NoError(t, err)
	require.NotNil(t, blob)
}

func TestSession_NativeFailure(t *testing.T) {
	native := &fakeNative{err: imagesource.ErrPermissionDenied}
	s := NewSession(native)

	err := s.Open(context.Background())
	require.ErrorIs(t, err, imagesource.ErrPermissionDenied)
	require.Equal(t, StateIdle, s.State())
}

func TestSession_NativeFallsBackToStream(t *testing.T) {
	native := &fakeNative{err: imagesource.ErrUnavailable}
	streamer := newFakeStreamer()
	s := NewSession(native, WithFallback(streamer))

	require.NoError(t, s.Open(context.Background()))
	require.Equal(t, StateStreamActive, s.State())

	_, err := s.Capture(context.Background())
	require.NoError(t, err)

	// Retake stays on the stream that worked.
	require.NoError(t, s.Retake(context.Background()))
	require.Equal(t, int32(1), native.calls.Load())
	require.Len(t, streamer.all(), 2)

	require.NoError(t, s.Close())
	streamer.requireNoneActive(t)
}
