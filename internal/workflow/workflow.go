package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/scanning"
	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/voucher"
)

var (
	// ErrBusy reports that another scan is still being processed
	ErrBusy = errors.New("a scan is already in progress")

	// ErrInvalidInput reports a file that is not an image
	ErrInvalidInput = errors.New("please select an image file (JPG, PNG, etc.)")

	// ErrNoCamera reports a capture request on a workflow without a camera
	ErrNoCamera = errors.New("no camera configured")
)

// State is a step in the scan lifecycle
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Collection receives completed vouchers
type Collection interface {
	Add(v voucher.Voucher) error
}

// Camera is the part of the capture controller the workflow drives
type Camera interface {
	Capture() ([]byte, error)
	Deactivate()
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Result describes a finished scan
type Result struct {
	State   State
	Voucher *voucher.Voucher
	Err     error
}

// Notifier is called once per finished scan
type Notifier func(Result)

// Workflow turns an image into a stored voucher, one scan at a time
type Workflow struct {
	scanner    scanning.Scanner
	collection Collection
	camera     Camera
	timeSource TimeSource
	notify     Notifier

	mu          sync.Mutex
	state       State
	lastOutcome *Result
}

// NewWorkflow creates a new Workflow. camera may be nil when only uploads are used.
func NewWorkflow(scanner scanning.Scanner, collection Collection, camera Camera) *Workflow {
	return NewWorkflowWithDeps(scanner, collection, camera, &defaultTimeSource{}, nil)
}

// NewWorkflowWithDeps creates a new Workflow with custom dependencies for testing
func NewWorkflowWithDeps(scanner scanning.Scanner, collection Collection, camera Camera, timeSrc TimeSource, notify Notifier) *Workflow {
	if timeSrc == nil {
		timeSrc = &defaultTimeSource{}
	}
	return &Workflow{
		scanner:    scanner,
		collection: collection,
		camera:     camera,
		timeSource: timeSrc,
		notify:     notify,
		state:      StateIdle,
	}
}

// State returns StateProcessing while a scan is in flight, otherwise StateIdle
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// LastResult returns the outcome of the most recent scan, if any
func (w *Workflow) LastResult() (Result, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastOutcome == nil {
		return Result{}, false
	}
	return *w.lastOutcome, true
}

func (w *Workflow) begin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateProcessing {
		return false
	}
	w.state = StateProcessing
	return true
}

func (w *Workflow) finish(v *voucher.Voucher, err error) {
	result := Result{State: StateCompleted, Voucher: v}
	if err != nil {
		result = Result{State: StateFailed, Err: err}
	}

	w.mu.Lock()
	w.lastOutcome = &result
	w.state = StateIdle
	w.mu.Unlock()

	if w.notify != nil {
		w.notify(result)
	}
}

// Submit validates the upload, scans it and adds the voucher to the collection
func (w *Workflow) Submit(ctx context.Context, upload scanning.Upload) (*voucher.Voucher, error) {
	if len(upload.Data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidInput, upload.Filename)
	}
	upload.ContentType = scanning.ContentType(upload.ContentType, upload.Filename, upload.Data)
	if !scanning.IsImageType(upload.ContentType) {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidInput, upload.Filename, upload.ContentType)
	}

	if !w.begin() {
		return nil, ErrBusy
	}

	v, err := w.scanner.ScanVoucher(ctx, upload)
	if err == nil {
		if addErr := w.collection.Add(*v); addErr != nil {
			err = fmt.Errorf("storing voucher: %w", addErr)
		}
	}
	if err != nil {
		slog.Error("Failed to process scan",
			"filename", upload.Filename,
			"content_type", upload.ContentType,
			"file_size", len(upload.Data),
			"error", err,
		)
		w.finish(nil, err)
		return nil, err
	}

	slog.Info("Document scanned", "id", v.ID, "filename", v.Filename)
	w.finish(v, nil)
	return v, nil
}

// CaptureAndSubmit snapshots the camera and submits the still. Once the capture
// is attempted the camera is released on every exit path; a busy rejection
// leaves the stream open for a retry.
func (w *Workflow) CaptureAndSubmit(ctx context.Context) (*voucher.Voucher, error) {
	if w.camera == nil {
		return nil, ErrNoCamera
	}
	if w.State() == StateProcessing {
		return nil, ErrBusy
	}
	defer w.camera.Deactivate()

	data, err := w.camera.Capture()
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("scan-%s.jpg", w.timeSource.Now().UTC().Format("2006-01-02T15-04-05.000Z"))
	return w.Submit(ctx, scanning.Upload{
		Filename:    filename,
		Data:        data,
		ContentType: "image/jpeg",
	})
}
