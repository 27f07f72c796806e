package voucher

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNetwork reports a transport failure or a non-2xx backend reply
	ErrNetwork = errors.New("network error")

	// ErrNotFound reports a voucher that could not be located
	ErrNotFound = errors.New("voucher not found")

	// ErrPersistence reports corrupt locally persisted state
	ErrPersistence = errors.New("persisted vouchers are unreadable")
)

// Voucher represents a scanned document with its extracted text
type Voucher struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Title      string    `json:"title,omitempty"`
	ImageURL   string    `json:"imageUrl"`
	OCRText    string    `json:"ocrText"`
	UploadDate time.Time `json:"uploadDate"`
}

// Patch holds the editable fields of a voucher
type Patch struct {
	Filename string
	Title    *string
	OCRText  *string
}

// DisplayTitle returns the title, falling back to the filename
func (v Voucher) DisplayTitle() string {
	if strings.TrimSpace(v.Title) != "" {
		return v.Title
	}
	return v.Filename
}

// IsLocal reports whether the voucher lives only on this device, as vouchers
// from the mock scanner do. The backend never lists these.
func (v Voucher) IsLocal() bool {
	return strings.HasPrefix(v.ImageURL, "data:")
}

// Matches reports whether query appears in the title or OCR text, ignoring case.
// An empty query matches every voucher.
func (v Voucher) Matches(query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(v.OCRText), query) ||
		strings.Contains(strings.ToLower(v.Title), query)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}
