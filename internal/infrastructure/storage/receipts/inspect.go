package receipts

import (
	"io"
	"net/http"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/xpense/internal/core/domain"
)

var allowedTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"image/gif":       true,
}

// inspect sniffs the content type and, for PDFs, counts pages. Files that are neither
// an image nor a readable PDF are rejected.
func inspect(f io.ReaderAt, size int64) (domain.ReceiptRef, error) {
	const op = "inspect receipt"
	head := make([]byte, 512)
	n, err := f.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return domain.ReceiptRef{}, domain.WrapError(domain.ErrTemporary, op, err)
	}

	contentType := http.DetectContentType(head[:n])
	if !allowedTypes[contentType] {
		return domain.ReceiptRef{}, domain.Invalid(op, "receipt must be a PDF or an image, got "+contentType)
	}

	ref := domain.ReceiptRef{ContentType: contentType, SizeBytes: size}
	if contentType == "application/pdf" {
		doc, err := pdf.NewReader(f, size)
		if err != nil {
			return domain.ReceiptRef{}, domain.Invalid(op, "receipt PDF cannot be read")
		}
		ref.Pages = doc.NumPage()
	}
	return ref, nil
}
