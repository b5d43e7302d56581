package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/learnloop/tutor-core/internal/core/domain"
	"github.com/learnloop/tutor-core/internal/core/ports"
	"github.com/learnloop/tutor-core/internal/infrastructure/extractor/pdfdoc"
	"github.com/learnloop/tutor-core/internal/infrastructure/extractor/plaintext"
	"github.com/learnloop/tutor-core/internal/infrastructure/extractor/xlsxdoc"
)

// Dispatcher picks an extractor by MIME type, falling back to the file
// extension when the upload did not declare one.
type Dispatcher struct {
	plain *plaintext.Extractor
	pdf   *pdfdoc.Extractor
	xlsx  *xlsxdoc.Extractor
}

func NewDispatcher(storage ports.ObjectStorage) *Dispatcher {
	return &Dispatcher{
		plain: plaintext.NewExtractor(storage),
		pdf:   pdfdoc.NewExtractor(storage),
		xlsx:  xlsxdoc.NewExtractor(storage),
	}
}

func (d *Dispatcher) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	switch d.pick(doc) {
	case "pdf":
		return d.pdf.Extract(ctx, doc)
	case "xlsx":
		return d.xlsx.Extract(ctx, doc)
	case "text":
		return d.plain.Extract(ctx, doc)
	default:
		return "", fmt.Errorf("unsupported document type: %s (%s)", doc.Filename, doc.MimeType)
	}
}

func (d *Dispatcher) pick(doc *domain.Document) string {
	mime := strings.ToLower(strings.TrimSpace(doc.MimeType))
	switch {
	case mime == "application/pdf":
		return "pdf"
	case mime == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		mime == "application/vnd.ms-excel":
		return "xlsx"
	case strings.HasPrefix(mime, "text/"),
		mime == "application/json",
		mime == "application/markdown":
		return "text"
	}

	switch strings.ToLower(filepath.Ext(doc.Filename)) {
	case ".pdf":
		return "pdf"
	case ".xlsx", ".xls":
		return "xlsx"
	case ".txt", ".md", ".markdown", ".csv", ".json":
		return "text"
	}
	return ""
}
