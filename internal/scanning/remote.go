package scanning

import (
	"context"
	"fmt"

	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/voucher"
)

// Creator uploads an image to the backend, which runs OCR and stores the voucher
type Creator interface {
	Create(ctx context.Context, filename string, data []byte, contentType string) (*voucher.Voucher, error)
}

// Remote implements the Scanner interface with server-side OCR
type Remote struct {
	client Creator
}

// NewRemote creates a new Remote scanner
func NewRemote(client Creator) *Remote {
	return &Remote{client: client}
}

// ScanVoucher uploads the image, converting formats the backend cannot store
func (r *Remote) ScanVoucher(ctx context.Context, upload Upload) (*voucher.Voucher, error) {
	data, filename, contentType, err := NormalizeForUpload(upload.Filename, upload.Data, upload.ContentType)
	if err != nil {
		return nil, fmt.Errorf("preparing upload: %w", err)
	}

	v, err := r.client.Create(ctx, filename, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("uploading voucher: %w", err)
	}
	return v, nil
}
