package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"time"

	"github.com/zombor/copescan/internal/preprocess"
	"github.com/zombor/copescan/internal/rewards"
	"github.com/zombor/copescan/internal/scanning"
)

var (
	// ErrCaptureUnavailable wraps failures of the capture device
	ErrCaptureUnavailable = errors.New("capture unavailable")
	// ErrIllegalTransition is returned when the workflow is driven out of order
	ErrIllegalTransition = errors.New("illegal workflow transition")
)

// Capturer supplies one image per call. A nil image with a nil error means
// the user cancelled.
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Confirmer asks the user whether the extracted code should be submitted
type Confirmer interface {
	Confirm(ctx context.Context, ext *scanning.Extraction) (bool, error)
}

// Extractor reads a code from a normalized image
type Extractor interface {
	Extract(ctx context.Context, img *image.Gray) (*scanning.Extraction, error)
}

// Submitter sends a code to the rewards site
type Submitter interface {
	Submit(ctx context.Context, code string) rewards.Outcome
}

// Journal records finished scan attempts
type Journal interface {
	SaveScan(scan *Scan) error
}

// Result describes one pass through the workflow
type Result struct {
	// Captured is false when the user cancelled the capture
	Captured   bool
	Extraction *scanning.Extraction
	Confirmed  bool
	// Outcome is nil unless a code was confirmed and submitted
	Outcome *rewards.Outcome
	// Scan is the journal record, nil without a journal
	Scan *Scan
}

// Workflow sequences capture, normalization, extraction, confirmation and
// submission for one attempt at a time. It keeps no state between attempts.
type Workflow struct {
	extractor   Extractor
	submitter   Submitter
	confirmer   Confirmer
	journal     Journal
	images      Storage
	metrics     *Metrics
	idGenerator IDGenerator
	timeSource  TimeSource

	state State
}

// WorkflowOption configures a Workflow
type WorkflowOption func(*Workflow)

// WithJournal records every attempt that reached extraction
func WithJournal(j Journal) WorkflowOption {
	return func(w *Workflow) { w.journal = j }
}

// WithImageStorage keeps each captured image as a PNG for debugging
func WithImageStorage(s Storage) WorkflowOption {
	return func(w *Workflow) { w.images = s }
}

// WithMetrics counts scans and submissions
func WithMetrics(m *Metrics) WorkflowOption {
	return func(w *Workflow) { w.metrics = m }
}

// WithClock replaces the ID generator and time source
func WithClock(idGen IDGenerator, timeSrc TimeSource) WorkflowOption {
	return func(w *Workflow) {
		w.idGenerator = idGen
		w.timeSource = timeSrc
	}
}

// NewWorkflow creates a new Workflow
func NewWorkflow(extractor Extractor, submitter Submitter, confirmer Confirmer, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		extractor:   extractor,
		submitter:   submitter,
		confirmer:   confirmer,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the current state
func (w *Workflow) State() State {
	return w.state
}

func (w *Workflow) transition(to State) error {
	if !w.state.canTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, w.state, to)
	}
	slog.Debug("Workflow transition", "from", w.state, "to", to)
	w.state = to
	return nil
}

// reset returns to Idle whatever happened during the attempt
func (w *Workflow) reset() {
	if w.state != StateIdle {
		slog.Debug("Workflow transition", "from", w.state, "to", StateIdle)
	}
	w.state = StateIdle
}

// Run captures one image and processes it. A cancelled capture returns a
// Result with Captured false and no error.
func (w *Workflow) Run(ctx context.Context, capturer Capturer) (*Result, error) {
	defer w.reset()

	if err := w.transition(StateCapturing); err != nil {
		return nil, err
	}

	img, err := capturer.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	if img == nil {
		slog.Info("Capture cancelled")
		return &Result{}, nil
	}

	return w.process(ctx, img, SourceCapture)
}

// Process runs an already captured image through the workflow
func (w *Workflow) Process(ctx context.Context, img image.Image) (*Result, error) {
	defer w.reset()
	return w.process(ctx, img, SourceUpload)
}

func (w *Workflow) process(ctx context.Context, img image.Image, source Source) (*Result, error) {
	if err := w.transition(StateProcessing); err != nil {
		return nil, err
	}

	now := w.timeSource.Now()
	record := &Scan{
		ID:        w.idGenerator.Generate(),
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
	w.storeImage(record, img)

	start := time.Now()
	ext, err := w.extractor.Extract(ctx, preprocess.Normalize(img))
	if err != nil {
		w.metrics.observeScan("error", time.Since(start))
		w.discardImage(record)
		return nil, fmt.Errorf("extracting code: %w", err)
	}
	record.applyExtraction(ext)

	result := &Result{Captured: true, Extraction: ext}
	if !ext.Found() {
		w.metrics.observeScan("no_code", time.Since(start))
		slog.Info("No code found")
		return w.record(result, record), nil
	}
	w.metrics.observeScan("found", time.Since(start))

	if err := w.transition(StateAwaitingConfirmation); err != nil {
		return nil, err
	}
	confirmed, err := w.confirmer.Confirm(ctx, ext)
	if err != nil {
		w.discardImage(record)
		return nil, fmt.Errorf("confirming code: %w", err)
	}
	if !confirmed {
		slog.Info("Code not submitted", "code", ext.Code)
		record.Status = StatusDeclined
		return w.record(result, record), nil
	}
	result.Confirmed = true

	if err := w.transition(StateSubmitting); err != nil {
		return nil, err
	}
	outcome := w.submitter.Submit(ctx, ext.Code)
	w.metrics.observeSubmission(outcome)
	result.Outcome = &outcome
	record.applyOutcome(outcome, w.timeSource.Now())

	return w.record(result, record), nil
}

// storeImage saves the raw capture. Failures only cost the debug copy.
func (w *Workflow) storeImage(record *Scan, img image.Image) {
	if w.images == nil {
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		slog.Warn("Failed to encode captured image", "error", err)
		return
	}
	name, err := w.images.Save(record.ID+".png", buf.Bytes())
	if err != nil {
		slog.Warn("Failed to save captured image", "error", err)
		return
	}
	record.Filename = name
	record.ContentType = "image/png"
}

// discardImage removes the capture of an attempt that will not be journaled
func (w *Workflow) discardImage(record *Scan) {
	if w.images == nil || record.Filename == "" {
		return
	}
	if err := w.images.Delete(record.Filename); err != nil {
		slog.Warn("Failed to delete captured image", "filename", record.Filename, "error", err)
	}
	record.Filename = ""
}

func (w *Workflow) record(result *Result, record *Scan) *Result {
	if w.journal == nil {
		return result
	}
	if err := w.journal.SaveScan(record); err != nil {
		slog.Warn("Failed to record scan", "id", record.ID, "error", err)
		return result
	}
	result.Scan = record
	return result
}
