package ports

import (
	"context"
	"io"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
)

// DocumentIngestor is the inbound contract for the upload side of the
// ingestion pipeline: persist bytes, create the pending document, enqueue.
// Link records a topical relation between two already ingested documents.
type DocumentIngestor interface {
	Upload(ctx context.Context, title, mimeType string, body io.Reader) (*domain.Document, error)
	Reprocess(ctx context.Context, documentID string) error
	Link(ctx context.Context, fromID, toID string, strength float64) error
	Delete(ctx context.Context, documentID string) error
}

// DocumentProcessor is the inbound contract for asynchronous processing of a
// previously uploaded document.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// SearchService is the inbound contract of the hybrid retrieval engine.
type SearchService interface {
	Search(ctx context.Context, query string, mode domain.SearchMode, filter domain.SearchFilter, limit int) ([]domain.ScoredResult, error)
}

// AnswerService packages fused evidence into a generated answer.
type AnswerService interface {
	Answer(ctx context.Context, question string, filter domain.SearchFilter, limit int) (*domain.Answer, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// ChunkRepairer retries vector writes for chunks the pipeline left
// unvectorized, without re-running classification.
type ChunkRepairer interface {
	RepairUnvectorized(ctx context.Context, batchSize int) (int, error)
}
