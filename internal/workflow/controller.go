// Package workflow drives one meal image from selection to analysis result.
// The controller owns the single authoritative phase.
package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/viflex/platescan/internal/analysis"
	"github.com/viflex/platescan/internal/core"
	"github.com/viflex/platescan/internal/metrics"
	"github.com/viflex/platescan/internal/selection"
)

// Phase is the workflow position.
type Phase string

const (
	PhaseNoImage       Phase = "no_image"
	PhaseImageSelected Phase = "image_selected"
	PhaseAnalyzing     Phase = "analyzing"
	PhaseResults       Phase = "results"
	PhaseFailed        Phase = "failed"
)

var (
	// ErrNoImage is returned by Analyze when nothing is selected.
	ErrNoImage = errors.New("no image selected")
	// ErrAnalysisInFlight is returned by Analyze while another analysis runs.
	ErrAnalysisInFlight = errors.New("analysis already in progress")
	// ErrSuperseded is returned by Analyze when the selection changed while the
	// request was running. The response is discarded.
	ErrSuperseded = errors.New("analysis superseded by a newer selection")
)

// Analyzer submits an image for nutrition analysis.
type Analyzer interface {
	Analyze(ctx context.Context, blob *core.ImageBlob) (*core.AnalysisResult, error)
}

// Recorder stores successful analyses.
type Recorder interface {
	Record(ctx context.Context, blob *core.ImageBlob, result *core.AnalysisResult) error
}

// Snapshot is a copy of the controller state.
type Snapshot struct {
	Phase  Phase                `json:"phase"`
	Image  *core.ImageBlob      `json:"image,omitempty"`
	Result *core.AnalysisResult `json:"result,omitempty"`
	// Message is set in PhaseFailed.
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
	// Seq increases with every change; observers may drop older snapshots.
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Observer receives every phase change.
type Observer func(Snapshot)

// Option configures a Controller.
type Option func(*Controller)

// WithRecorder stores each successful result.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithLogger sets the controller logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithObserver registers an observer at construction.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observers[c.nextObserver] = o
			c.nextObserver++
		}
	}
}

// Controller is safe for concurrent use. Its lock is never held while
// talking to the analyzer or the recorder.
type Controller struct {
	analyzer Analyzer
	recorder Recorder
	logger   *logging.Logger
	holder   *selection.Holder

	mu         sync.Mutex
	phase      Phase
	result     *core.AnalysisResult
	message    string
	err        error
	generation uint64
	seq        uint64
	updatedAt  time.Time

	obsMu        sync.Mutex
	observers    map[int]Observer
	nextObserver int
}

// New returns a controller in PhaseNoImage.
func New(analyzer Analyzer, opts ...Option) *Controller {
	c := &Controller{
		analyzer:  analyzer,
		holder:    selection.NewHolder(),
		phase:     PhaseNoImage,
		updatedAt: time.Now().UTC(),
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers o and returns a func that removes it.
func (c *Controller) Subscribe(o Observer) func() {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = o
	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		delete(c.observers, id)
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Select validates blob and makes it the pending image, discarding any prior
// result or failure. A rejected blob leaves the state unchanged.
func (c *Controller) Select(blob *core.ImageBlob) error {
	if err := selection.Validate(blob); err != nil {
		var rejection *selection.RejectionError
		if errors.As(err, &rejection) {
			metrics.RecordSelectionRejected(string(rejection.Reason))
		}
		if c.logger != nil {
			c.logger.Info("Image rejected", zap.Error(err))
		}
		return err
	}

	c.mu.Lock()
	c.holder.Select(blob)
	c.generation++
	c.result = nil
	c.message = ""
	c.err = nil
	snap := c.setPhaseLocked(PhaseImageSelected)
	c.mu.Unlock()

	metrics.RecordSelection(blob.MIMEType)
	c.notify(snap)
	return nil
}

// Clear drops the pending image and any result.
func (c *Controller) Clear() {
	c.mu.Lock()
	c.holder.Clear()
	c.generation++
	c.result = nil
	c.message = ""
	c.err = nil
	snap := c.setPhaseLocked(PhaseNoImage)
	c.mu.Unlock()

	c.notify(snap)
}

// Analyze submits the pending image and blocks until the outcome is applied.
// Failures move the workflow to PhaseFailed and are also returned.
func (c *Controller) Analyze(ctx context.Context) (*core.AnalysisResult, error) {
	c.mu.Lock()
	blob := c.holder.Current()
	if blob == nil {
		c.mu.Unlock()
		return nil, ErrNoImage
	}
	if c.phase == PhaseAnalyzing {
		c.mu.Unlock()
		return nil, ErrAnalysisInFlight
	}
	gen := c.generation
	c.result = nil
	c.message = ""
	c.err = nil
	snap := c.setPhaseLocked(PhaseAnalyzing)
	c.mu.Unlock()
	c.notify(snap)

	started := time.Now()
	result, err := c.analyzer.Analyze(ctx, blob)
	metrics.RecordAnalysis(string(kindOf(err)), time.Since(started))

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		metrics.RecordStaleResponse()
		if c.logger != nil {
			c.logger.Debug("Discarding analysis outcome for superseded selection",
				zap.Uint64("generation", gen))
		}
		return nil, ErrSuperseded
	}
	if err != nil {
		c.message = analysis.UserMessage(err)
		c.err = err
		snap = c.setPhaseLocked(PhaseFailed)
	} else {
		c.result = result
		snap = c.setPhaseLocked(PhaseResults)
	}
	c.mu.Unlock()
	c.notify(snap)

	if err != nil {
		return nil, err
	}

	if c.recorder != nil {
		if recErr := c.recorder.Record(ctx, blob, result); recErr != nil && c.logger != nil {
			c.logger.Warn("Failed to record analysis", zap.Error(recErr))
		}
	}
	return result, nil
}

func kindOf(err error) analysis.Kind {
	if err == nil {
		return ""
	}
	if kind := analysis.KindOf(err); kind != "" {
		return kind
	}
	return "other"
}

// setPhaseLocked must be called with mu held.
func (c *Controller) setPhaseLocked(next Phase) Snapshot {
	if c.logger != nil && next != c.phase {
		c.logger.Debug("Workflow phase changed",
			zap.String("from", string(c.phase)),
			zap.String("to", string(next)))
	}
	c.phase = next
	c.seq++
	c.updatedAt = time.Now().UTC()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:     c.phase,
		Image:     c.holder.Current(),
		Result:    c.result,
		Message:   c.message,
		Err:       c.err,
		Seq:       c.seq,
		UpdatedAt: c.updatedAt,
	}
}

func (c *Controller) notify(snap Snapshot) {
	c.obsMu.Lock()
	observers := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}
	c.obsMu.Unlock()

	for _, o := range observers {
		o(snap)
	}
}
