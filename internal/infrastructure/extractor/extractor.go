// Package extractor picks the text extraction strategy by document MIME
// type, falling back to the filename extension when the upload did not
// declare one.
package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/extractor/exceldoc"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/extractor/pdfdoc"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/extractor/plaintext"
)

type Dispatcher struct {
	plain ports.TextExtractor
	pdf   ports.TextExtractor
	excel ports.TextExtractor
}

func NewDispatcher(storage ports.ObjectStorage) *Dispatcher {
	return &Dispatcher{
		plain: plaintext.NewExtractor(storage),
		pdf:   pdfdoc.NewExtractor(storage),
		excel: exceldoc.NewExtractor(storage),
	}
}

func (d *Dispatcher) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	switch normalizeMime(doc) {
	case "application/pdf":
		return d.pdf.Extract(ctx, doc)
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/vnd.ms-excel":
		return d.excel.Extract(ctx, doc)
	case "text/plain", "text/markdown", "text/csv", "application/json":
		return d.plain.Extract(ctx, doc)
	}
	return "", domain.WrapError(domain.ErrInvalidInput, "extract document",
		fmt.Errorf("unsupported mime type %q for %s", doc.MimeType, doc.Title))
}

func normalizeMime(doc *domain.Document) string {
	mime := strings.ToLower(strings.TrimSpace(doc.MimeType))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	if mime != "" && mime != "application/octet-stream" {
		return mime
	}

	switch strings.ToLower(filepath.Ext(doc.Title)) {
	case ".pdf":
		return "application/pdf"
	case ".xlsx", ".xls":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".md":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "text/plain"
	}
}
