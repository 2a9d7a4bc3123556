package ports

import (
	"context"
	"io"
	"time"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SaveClassification(ctx context.Context, id string, category, subcategory, criterion string, confidence float64) error
	UpdateStoragePath(ctx context.Context, id, path string) error
	StatusesByID(ctx context.Context, ids []string) (map[string]domain.DocumentStatus, error)
	Delete(ctx context.Context, id string) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Move(ctx context.Context, fromKey, toKey string) error
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// Chunker splits text into deterministic, offset-bearing spans.
type Chunker interface {
	Split(text string) []domain.ChunkSpan
}

// Embedder builds vectors for chunks, whole documents and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Classifier maps text to taxonomy node labels with confidence plus
// extracted keywords. ClassifyQuery routes a search query to the taxonomy
// nodes it most plausibly concerns.
type Classifier interface {
	ClassifyChunk(ctx context.Context, text string) (domain.ChunkClassification, error)
	ClassifyQuery(ctx context.Context, text string) ([]string, error)
}

// AnswerGenerator creates the final user-facing answer from fused evidence.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question string, results []domain.ScoredResult) (string, error)
}

// VectorPoint is one entry written to a vector collection.
type VectorPoint struct {
	ID       string
	Vector   []float32
	Metadata domain.VectorMetadata
}

// VectorHit is one nearest-neighbor result; Score is raw cosine similarity.
type VectorHit struct {
	ID       string
	Score    float64
	Metadata domain.VectorMetadata
}

// VectorIndex is the nearest-neighbor store. Collections are "documents" and
// "chunks"; the filter is an equality filter over taxonomy label fields.
type VectorIndex interface {
	Upsert(ctx context.Context, collection string, points []VectorPoint) error
	Query(ctx context.Context, collection string, vector []float32, k int, filter domain.SearchFilter) ([]VectorHit, error)
	Delete(ctx context.Context, collection string, ids []string) error
	DeleteByDocument(ctx context.Context, collection, documentID string) error
}

// GraphMatch classifies how a graph hit was reached from the query's
// taxonomy node.
type GraphMatch string

const (
	MatchDirect     GraphMatch = "direct"
	MatchDescendant GraphMatch = "descendant"
	MatchRelated    GraphMatch = "related"
	MatchKeyword    GraphMatch = "keyword"
)

// GraphHit is one traversal result before structural scoring.
type GraphHit struct {
	ChunkID            string
	DocumentID         string
	Snippet            string
	DocumentTitle      string
	DocumentPath       string
	Category           string
	Subcategory        string
	Criterion          string
	Match              GraphMatch
	Strength           float64
	DocumentModifiedAt time.Time
}

// GraphStore is the property-graph side of the dual index. Writes are owned
// by the ingestion pipeline; reads are side-effect free.
type GraphStore interface {
	EnsureTaxonomy(ctx context.Context, taxonomy *domain.Taxonomy) error

	ReplaceDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error
	MarkChunksVectorized(ctx context.Context, documentID string, chunkIDs []string) error
	LinkRelated(ctx context.Context, fromID, toID string, strength float64) error
	DeleteDocumentCascade(ctx context.Context, documentID string) ([]string, error)

	TraverseTaxonomy(ctx context.Context, number string, filter domain.SearchFilter, limit int) ([]GraphHit, error)
	ChunksMentioning(ctx context.Context, keyword string, limit int) ([]GraphHit, error)
	DocumentKeywords(ctx context.Context, documentID string, limit int) ([]domain.Keyword, error)
	RelatedDocuments(ctx context.Context, documentID string, minStrength float64, limit int) ([]domain.RelatedDocument, error)
	EvidenceForCriterion(ctx context.Context, number string, limit int) ([]domain.Evidence, error)
	UnvectorizedChunks(ctx context.Context, limit int) ([]domain.Chunk, error)
	HasUnvectorizedChunks(ctx context.Context, documentID string) (bool, error)
}
