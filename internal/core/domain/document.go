package domain

import "time"

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusProcessed  DocumentStatus = "processed"
	StatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	MimeType    string         `json:"mime_type"`
	StoragePath string         `json:"storage_path"`
	Category    string         `json:"category,omitempty"`
	Subcategory string         `json:"subcategory,omitempty"`
	Criterion   string         `json:"criterion,omitempty"`
	Confidence  float64        `json:"confidence,omitempty"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ModifiedAt  time.Time      `json:"modified_at"`
}

// Chunk is a bounded text span of a document, the unit of embedding and
// fine-grained classification. VectorRef is empty until the chunk's vector
// has been written; an empty VectorRef after processing marks the chunk for
// the repair pass.
type Chunk struct {
	ID             string              `json:"id"`
	DocumentID     string              `json:"document_id"`
	Index          int                 `json:"index"`
	Content        string              `json:"content"`
	StartOffset    int                 `json:"start_offset"`
	EndOffset      int                 `json:"end_offset"`
	VectorRef      string              `json:"vector_ref,omitempty"`
	Classification ChunkClassification `json:"classification"`
}

// ChunkClassification ties a chunk to one taxonomy node with a confidence in
// [0,1] plus the keywords extracted alongside.
type ChunkClassification struct {
	Number     string   `json:"number"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
}

// ChunkSpan is a raw splitter output before ids and classification attach.
type ChunkSpan struct {
	StartOffset int
	EndOffset   int
	Text        string
}

type Keyword struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// Evidence is a curated proof item supporting a criterion, distinct from an
// ordinary document classification.
type Evidence struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Strength    float64   `json:"strength"`
	CreatedAt   time.Time `json:"created_at"`
}

type RelatedDocument struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Strength   float64 `json:"strength"`
}
