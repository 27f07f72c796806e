package scanning

import (
	"context"

	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/voucher"
)

// Upload is an image waiting to be turned into a voucher
type Upload struct {
	Filename    string
	Data        []byte
	ContentType string
}

// Scanner defines the interface for turning an image into a voucher
type Scanner interface {
	// ScanVoucher submits the image for text extraction and returns the
	// resulting voucher once it fully exists
	ScanVoucher(ctx context.Context, upload Upload) (*voucher.Voucher, error)
}
