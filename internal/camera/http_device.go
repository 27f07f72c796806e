package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/scanning"
)

// maxFrameSize bounds a single snapshot download
const maxFrameSize = 20 << 20

// HTTPSnapshotDevice is a network camera that serves a still image per GET,
// such as the ESP32-CAM /capture endpoint. Resolution and facing mode are
// fixed by the camera itself, so constraints are advisory.
type HTTPSnapshotDevice struct {
	url    string
	client *http.Client
}

// NewHTTPSnapshotDevice creates a device reading snapshots from url
func NewHTTPSnapshotDevice(url string) *HTTPSnapshotDevice {
	return NewHTTPSnapshotDeviceWithClient(url, &http.Client{Timeout: 15 * time.Second})
}

// NewHTTPSnapshotDeviceWithClient creates a device with a custom HTTP client for testing
func NewHTTPSnapshotDeviceWithClient(url string, client *http.Client) *HTTPSnapshotDevice {
	return &HTTPSnapshotDevice{url: url, client: client}
}

// Remediation explains how to restore access to the camera
func (d *HTTPSnapshotDevice) Remediation() string {
	return fmt.Sprintf("Check that %s allows access from this host and that its credentials are correct, then try again", d.url)
}

// Open probes the camera with one snapshot and returns a stream over it
func (d *HTTPSnapshotDevice) Open(ctx context.Context, constraints Constraints) (Stream, error) {
	streamCtx, cancel := context.WithCancel(context.Background())
	s := &httpStream{device: d, ctx: streamCtx, cancel: cancel}

	// The probe honours the caller's context; later frames use the stream's own
	if _, err := d.snapshot(ctx); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (d *HTTPSnapshotDevice) snapshot(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrDevice, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDevice, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: camera answered status %d", ErrPermissionDenied, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: camera answered status %d", ErrDevice, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading snapshot: %v", ErrDevice, err)
	}
	img, err := scanning.DecodeImage(data, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDevice, err)
	}
	return img, nil
}

// httpStream fetches a fresh snapshot for every frame
type httpStream struct {
	device *HTTPSnapshotDevice
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (s *httpStream) Frame() (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.New("stream is closed")
	}
	return s.device.snapshot(s.ctx)
}

func (s *httpStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.cancel()
	}
	return nil
}
