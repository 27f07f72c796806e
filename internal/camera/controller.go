package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync"
)

// State is a step in the controller lifecycle
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateStreaming  State = "streaming"
	StateCapturing  State = "capturing"
	StateError      State = "error"
)

// JPEGQuality is the encoding quality of captured stills
const JPEGQuality = 95

// Controller owns at most one open stream of its Device
type Controller struct {
	mu          sync.Mutex
	device      Device
	constraints Constraints
	state       State
	stream      Stream
	lastErr     error
	// generation invalidates in-flight activations when the stream is
	// released or replaced while a permission prompt is pending
	generation uint64
}

// NewController creates a Controller with the default constraints
func NewController(device Device) *Controller {
	return NewControllerWithConstraints(device, DefaultConstraints)
}

// NewControllerWithConstraints creates a Controller requesting custom constraints
func NewControllerWithConstraints(device Device, constraints Constraints) *Controller {
	return &Controller{
		device:      device,
		constraints: constraints,
		state:       StateIdle,
	}
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the controller into StateError, if any
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Activate requests a stream from the device. An already open stream is
// released first, so the controller never holds two device handles.
func (c *Controller) Activate(ctx context.Context) error {
	c.mu.Lock()
	c.releaseLocked()
	c.generation++
	generation := c.generation
	c.state = StateRequesting
	c.lastErr = nil
	c.mu.Unlock()

	stream, err := c.device.Open(ctx, c.constraints)

	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		// Deactivated or re-activated while the request was pending
		if stream != nil {
			if closeErr := stream.Close(); closeErr != nil {
				slog.Warn("Failed to release superseded camera stream", "error", closeErr)
			}
		}
		return fmt.Errorf("%w: activation was cancelled", ErrDevice)
	}

	if err != nil {
		c.state = StateError
		c.lastErr = c.classify(err)
		slog.Error("Error accessing camera", "error", err)
		return c.lastErr
	}

	c.stream = stream
	c.state = StateStreaming
	return nil
}

func (c *Controller) classify(err error) error {
	if errors.Is(err, ErrPermissionDenied) {
		remediation := defaultRemediation
		if r, ok := c.device.(Remediator); ok {
			remediation = r.Remediation()
		}
		return &PermissionError{Remediation: remediation, Err: err}
	}
	if errors.Is(err, ErrDevice) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDevice, err)
}

// Capture snapshots the current frame as a JPEG. The stream stays open.
// The frame is fetched without holding the lock, so Deactivate and State
// stay responsive during a slow network snapshot.
func (c *Controller) Capture() ([]byte, error) {
	c.mu.Lock()
	if c.state != StateStreaming || c.stream == nil {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: camera is %s, not streaming", ErrCapture, state)
	}
	stream := c.stream
	generation := c.generation
	c.state = StateCapturing
	c.mu.Unlock()

	frame, frameErr := stream.Frame()

	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return nil, fmt.Errorf("%w: camera was released during capture", ErrCapture)
	}
	c.state = StateStreaming

	if frameErr != nil {
		return nil, fmt.Errorf("%w: reading frame: %v", ErrCapture, frameErr)
	}
	if frame == nil || frame.Bounds().Empty() {
		return nil, fmt.Errorf("%w: no frame available", ErrCapture)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("%w: encoding JPEG: %v", ErrCapture, err)
	}
	return buf.Bytes(), nil
}

// Deactivate releases the stream from any state. Calling it when idle is a no-op.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.releaseLocked()
	c.state = StateIdle
	c.lastErr = nil
}

func (c *Controller) releaseLocked() {
	if c.stream == nil {
		return
	}
	if err := c.stream.Close(); err != nil {
		slog.Warn("Failed to stop camera stream", "error", err)
	}
	c.stream = nil
}
