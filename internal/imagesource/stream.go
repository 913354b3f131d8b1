package imagesource

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/viflex/platescan/internal/core"
)

const (
	maxFrameBytes  = 16 << 20
	maxStderrBytes = 64 << 10
	// stderrGrace bounds the wait for ffmpeg's last diagnostics after the feed ends.
	stderrGrace = time.Second
)

// startFunc launches the feed process. stderr returns the diagnostics the
// process printed so far.
type startFunc func(ctx context.Context, name string, args ...string) (stdout io.ReadCloser, stop func() error, stderr func() []byte, err error)

// StreamCamera runs a live MJPEG feed through ffmpeg.
type StreamCamera struct {
	FFmpeg    string
	Device    string
	Width     int
	Height    int
	Framerate int
	Logger    *logging.Logger

	// start is swapped in tests.
	start startFunc
}

// NewStreamCamera returns a stream camera with platform defaults for any
// empty field. Width and height default to 1280x720.
func NewStreamCamera(ffmpeg, device string, width, height int, logger *logging.Logger) *StreamCamera {
	if strings.TrimSpace(ffmpeg) == "" {
		ffmpeg = "ffmpeg"
	}
	if strings.TrimSpace(device) == "" {
		device = defaultDevice()
	}
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}
	return &StreamCamera{
		FFmpeg:    ffmpeg,
		Device:    device,
		Width:     width,
		Height:    height,
		Framerate: 30,
		Logger:    logger,
	}
}

func defaultDevice() string {
	switch runtime.GOOS {
	case "darwin":
		return "0"
	case "windows":
		return "video=USB Camera"
	default:
		return "/dev/video0"
	}
}

func inputFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "v4l2"
	}
}

// Kind returns KindStreamCamera.
func (c *StreamCamera) Kind() Kind {
	return KindStreamCamera
}

// Available reports whether ffmpeg can be found on PATH.
func (c *StreamCamera) Available() bool {
	if c == nil {
		return false
	}
	if c.start != nil {
		return true
	}
	_, err := exec.LookPath(c.FFmpeg)
	return err == nil
}

func (c *StreamCamera) args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", inputFormat(),
		"-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"-framerate", strconv.Itoa(c.Framerate),
		"-i", c.Device,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"-",
	}
}

// Start launches the feed. The returned stream has exactly one track, the
// ffmpeg process.
func (c *StreamCamera) Start(ctx context.Context) (Stream, error) {
	if c == nil {
		return nil, fmt.Errorf("stream camera: %w", ErrUnavailable)
	}

	start := c.start
	if start == nil {
		start = startProcess
	}

	stdout, stop, stderr, err := start(ctx, c.FFmpeg, c.args()...)
	if err != nil {
		return nil, classifyCameraError(c.FFmpeg, err, nil)
	}

	s := newMJPEGStream(stdout, stop, c.Logger)
	s.command = c.FFmpeg
	s.stderr = stderr
	if c.Logger != nil {
		c.Logger.Debug("Camera stream started",
			zap.String("device", c.Device),
			zap.String("track", s.track.id))
	}
	return s, nil
}

// Acquire starts a stream, grabs the first frame and stops the stream.
func (c *StreamCamera) Acquire(ctx context.Context) (*core.ImageBlob, error) {
	s, err := c.Start(ctx)
	if err != nil {
		return nil, err
	}
	defer StopStream(s) // nolint:errcheck // best-effort release

	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	img, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	data, err := EncodeJPEG(img, CaptureQuality, c.Width, c.Height)
	if err != nil {
		return nil, err
	}
	return core.NewCaptureBlob(data), nil
}

func startProcess(ctx context.Context, name string, args ...string) (io.ReadCloser, func() error, func() []byte, error) {
	// The process outlives ctx; it is ended by the track's Stop.
	cmd := exec.Command(name, args...) // #nosec G204 -- binary and device come from local config
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}

	tail := newStderrTail()
	go tail.collect(stderrPipe)

	stop := func() error {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		err := cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Killed on purpose.
			return nil
		}
		return err
	}
	return stdout, stop, tail.Bytes, nil
}

// stderrTail keeps the first maxStderrBytes a process writes to stderr.
type stderrTail struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	done chan struct{}
}

func newStderrTail() *stderrTail {
	return &stderrTail{done: make(chan struct{})}
}

func (t *stderrTail) collect(r io.Reader) {
	defer close(t.done)
	_, _ = io.Copy(t, r)
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if room := maxStderrBytes - t.buf.Len(); room > 0 {
		if len(p) > room {
			t.buf.Write(p[:room])
		} else {
			t.buf.Write(p)
		}
	}
	return len(p), nil
}

// Bytes waits briefly for the process to close stderr and returns what it wrote.
func (t *stderrTail) Bytes() []byte {
	timer := time.NewTimer(stderrGrace)
	defer timer.Stop()
	select {
	case <-t.done:
	case <-timer.C:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.buf.Bytes()...)
}

// processTrack is the single track of an ffmpeg stream.
type processTrack struct {
	id      string
	once    sync.Once
	mu      sync.Mutex
	stopped bool
	stop    func() error
	err     error
}

func (t *processTrack) ID() string {
	return t.id
}

func (t *processTrack) Stop() error {
	t.once.Do(func() {
		if t.stop != nil {
			t.err = t.stop()
		}
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
	})
	return t.err
}

func (t *processTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// mjpegStream keeps the latest complete JPEG frame read from r.
type mjpegStream struct {
	track   *processTrack
	logger  *logging.Logger
	command string
	stderr  func() []byte

	mu      sync.Mutex
	latest  []byte
	readErr error

	first     chan struct{}
	firstOnce sync.Once
	done      chan struct{}
}

func newMJPEGStream(r io.ReadCloser, stop func() error, logger *logging.Logger) *mjpegStream {
	s := &mjpegStream{
		track: &processTrack{
			id: uuid.New().String(),
			stop: func() error {
				closeErr := r.Close()
				if stop == nil {
					return closeErr
				}
				return stop()
			},
		},
		logger: logger,
		first:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.read(r)
	return s
}

func (s *mjpegStream) read(r io.Reader) {
	defer close(s.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 512<<10), maxFrameBytes)
	scanner.Split(splitJPEGFrames)

	for scanner.Scan() {
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())

		s.mu.Lock()
		s.latest = frame
		s.mu.Unlock()
		s.firstOnce.Do(func() { close(s.first) })
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
	if s.logger != nil && !s.track.Stopped() {
		s.logger.Debug("Camera stream ended", zap.Error(err))
	}
}

func (s *mjpegStream) Ready(ctx context.Context) error {
	select {
	case <-s.first:
		return nil
	case <-s.done:
		select {
		case <-s.first:
			return nil
		default:
		}
		s.mu.Lock()
		err := s.readErr
		s.mu.Unlock()
		return fmt.Errorf("stream ended before first frame: %w", s.endCause(err))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// endCause classifies a feed that ended before its first frame using the
// process diagnostics. It always matches ErrUnavailable or ErrPermissionDenied.
func (s *mjpegStream) endCause(readErr error) error {
	var detail []byte
	if s.stderr != nil {
		detail = s.stderr()
	}
	command := s.command
	if command == "" {
		command = "camera stream"
	}
	cause := classifyCameraError(command, readErr, detail)
	if errors.Is(cause, ErrPermissionDenied) || errors.Is(cause, ErrUnavailable) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, cause)
}

func (s *mjpegStream) Snapshot() (image.Image, error) {
	s.mu.Lock()
	frame := s.latest
	s.mu.Unlock()
	if len(frame) == 0 {
		return nil, ErrNoFrame
	}
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

func (s *mjpegStream) Tracks() []Track {
	return []Track{s.track}
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// splitJPEGFrames is a bufio.SplitFunc yielding complete JPEG images from a
// concatenated MJPEG byte stream.
func splitJPEGFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF that may begin the next SOI.
		if len(data) > 0 && data[len(data)-1] == 0xFF {
			return len(data) - 1, nil, nil
		}
		return len(data), nil, nil
	}

	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}
