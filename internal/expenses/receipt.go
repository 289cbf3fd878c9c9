package expenses

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// DefaultReceiptMaxBytes caps receipt uploads when no limit is configured.
const DefaultReceiptMaxBytes int64 = 5 << 20

var receiptTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/heic",
	"application/pdf",
}

// PrepareReceipt sniffs the upload and rejects anything that is not an image or PDF.
func PrepareReceipt(upload *ReceiptUpload, maxBytes int64) (*Receipt, error) {
	if upload == nil {
		return nil, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultReceiptMaxBytes
	}
	size := int64(len(upload.Data))
	if size == 0 {
		return nil, shared.Validation(map[string]string{"receipt": "receipt is empty"})
	}
	if size > maxBytes {
		return nil, shared.Validation(map[string]string{"receipt": "receipt is too large"})
	}
	mtype := mimetype.Detect(upload.Data)
	allowed := false
	for _, t := range receiptTypes {
		if mtype.Is(t) {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, shared.Validation(map[string]string{"receipt": "receipt must be an image or PDF"})
	}
	name := filepath.Base(strings.TrimSpace(upload.Filename))
	if name == "" || name == "." || name == "/" {
		name = "receipt" + mtype.Extension()
	}
	return &Receipt{
		ReceiptMeta: ReceiptMeta{
			Filename:    name,
			ContentType: mtype.String(),
			Size:        size,
		},
		Data: upload.Data,
	}, nil
}
