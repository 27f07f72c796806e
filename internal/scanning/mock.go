package scanning

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/voucher"
)

// IDGenerator generates unique IDs for locally created vouchers
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Mock implements the Scanner interface without a backend. It fabricates
// placeholder OCR text and keeps the image inline as a data URL.
// Development use only.
type Mock struct {
	mu          sync.Mutex
	rng         *rand.Rand
	idGenerator IDGenerator
	timeSource  TimeSource
	delay       time.Duration
}

// NewMock creates a Mock that simulates a short processing delay
func NewMock() *Mock {
	return NewMockWithDeps(rand.New(rand.NewSource(time.Now().UnixNano())), &uuidGenerator{}, &defaultTimeSource{}, 1500*time.Millisecond)
}

// NewMockWithDeps creates a Mock with custom dependencies for testing
func NewMockWithDeps(rng *rand.Rand, idGen IDGenerator, timeSrc TimeSource, delay time.Duration) *Mock {
	return &Mock{
		rng:         rng,
		idGenerator: idGen,
		timeSource:  timeSrc,
		delay:       delay,
	}
}

// ScanVoucher builds a voucher with placeholder text derived from the filename
func (m *Mock) ScanVoucher(ctx context.Context, upload Upload) (*voucher.Voucher, error) {
	if len(upload.Data) == 0 {
		return nil, fmt.Errorf("no image data for %s", upload.Filename)
	}

	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	name := strings.TrimSuffix(upload.Filename, filepath.Ext(upload.Filename))
	now := m.timeSource.Now()

	m.mu.Lock()
	text := mockOCRText(name, now, m.rng)
	m.mu.Unlock()

	contentType := upload.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	return &voucher.Voucher{
		ID:         m.idGenerator.Generate(),
		Filename:   upload.Filename,
		Title:      name,
		ImageURL:   "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(upload.Data),
		OCRText:    text,
		UploadDate: now,
	}, nil
}

// mockOCRText renders an invoice-shaped placeholder for name
func mockOCRText(name string, now time.Time, rng *rand.Rand) string {
	invoiceNumber := rng.Intn(10000)
	subtotal := rng.Float64() * 1000
	item1 := rng.Float64() * 100
	item2 := rng.Float64() * 200

	var b strings.Builder
	rule := "--------------------------\n"
	fmt.Fprintf(&b, "INVOICE #INV-%d\n", invoiceNumber)
	fmt.Fprintf(&b, "Date: %s\n", now.Format("1/2/2006"))
	b.WriteString(rule)
	fmt.Fprintf(&b, "%s SERVICES\n", strings.ToUpper(name))
	b.WriteString(rule)
	fmt.Fprintf(&b, "Item 1: $%.2f\n", item1)
	fmt.Fprintf(&b, "Item 2: $%.2f\n", item2)
	b.WriteString(rule)
	fmt.Fprintf(&b, "Subtotal: $%.2f\n", subtotal)
	fmt.Fprintf(&b, "Tax (10%%): $%.2f\n", subtotal*0.1)
	fmt.Fprintf(&b, "Total: $%.2f\n", subtotal*1.1)
	b.WriteString(rule)
	b.WriteString("Payment method: CREDIT CARD\n")
	b.WriteString("Status: PAID")
	return b.String()
}
