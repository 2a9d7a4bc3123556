package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
)

// Vector index collections, mirrored by the graph store's node kinds.
const (
	CollectionDocuments = "documents"
	CollectionChunks    = "chunks"
)

// ProcessDocumentUseCase runs the background half of ingestion: extract,
// chunk, classify, embed, then the ordered dual write (graph first, vectors
// second). Per-document work is strictly serial; concurrency exists only
// across documents.
type ProcessDocumentUseCase struct {
	taxonomy   *domain.Taxonomy
	repo       ports.DocumentRepository
	storage    ports.ObjectStorage
	extractor  ports.TextExtractor
	chunker    ports.Chunker
	classifier ports.Classifier
	embedder   ports.Embedder
	graph      ports.GraphStore
	vector     ports.VectorIndex
}

func NewProcessDocumentUseCase(
	taxonomy *domain.Taxonomy,
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	chunker ports.Chunker,
	classifier ports.Classifier,
	embedder ports.Embedder,
	graph ports.GraphStore,
	vector ports.VectorIndex,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		taxonomy:   taxonomy,
		repo:       repo,
		storage:    storage,
		extractor:  extractor,
		chunker:    chunker,
		classifier: classifier,
		embedder:   embedder,
		graph:      graph,
		vector:     vector,
	}
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}

	if err := uc.repo.UpdateStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	if err := uc.runPipeline(ctx, doc); err != nil {
		if failErr := uc.repo.UpdateStatus(ctx, documentID, domain.StatusFailed, err.Error()); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.UpdateStatus(ctx, documentID, domain.StatusProcessed, ""); err != nil {
		return fmt.Errorf("set status=processed: %w", err)
	}
	return nil
}

func (uc *ProcessDocumentUseCase) runPipeline(ctx context.Context, doc *domain.Document) error {
	text, err := uc.extractText(ctx, doc)
	if err != nil {
		return err
	}

	chunks, err := uc.buildChunks(ctx, doc, text)
	if err != nil {
		return err
	}

	primary, confidence := uc.aggregateClassification(chunks)
	uc.applyClassification(doc, primary, confidence)

	chunkVectors, docVector, err := uc.embed(ctx, text, chunks)
	if err != nil {
		return err
	}

	// Ordered dual write: the graph store is the system of record for chunk
	// structure, so it goes first. A vector failure afterwards leaves the
	// chunks present but unvectorized for the repair pass.
	if err := uc.graph.ReplaceDocument(ctx, doc, chunks); err != nil {
		return fmt.Errorf("write graph nodes: %w", err)
	}
	// The replace assigned fresh chunk ids, so vectors from any earlier run of
	// this document are orphaned now. Clear them before upserting the new set.
	if err := uc.vector.DeleteByDocument(ctx, CollectionChunks, doc.ID); err != nil {
		return fmt.Errorf("clear stale chunk vectors: %w", err)
	}
	if err := uc.writeVectors(ctx, doc, chunks, chunkVectors, docVector); err != nil {
		slog.Warn("vector_write_failed_chunks_retained",
			"document_id", doc.ID,
			"chunks", len(chunks),
			"error", err,
		)
		return fmt.Errorf("write vectors: %w", err)
	}

	chunkIDs := make([]string, len(chunks))
	for i := range chunks {
		chunkIDs[i] = chunks[i].ID
	}
	if err := uc.graph.MarkChunksVectorized(ctx, doc.ID, chunkIDs); err != nil {
		return fmt.Errorf("mark chunks vectorized: %w", err)
	}

	if err := uc.relocateStoredFile(ctx, doc); err != nil {
		return err
	}

	if err := uc.repo.SaveClassification(ctx, doc.ID, doc.Category, doc.Subcategory, doc.Criterion, doc.Confidence); err != nil {
		return fmt.Errorf("save classification: %w", err)
	}
	return nil
}

func (uc *ProcessDocumentUseCase) extractText(ctx context.Context, doc *domain.Document) (string, error) {
	text, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	if text == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text"))
	}
	return text, nil
}

// buildChunks splits the text deterministically and classifies every chunk.
// Classification failures bubble up after the provider adapter has exhausted
// its retries and fail the whole document.
func (uc *ProcessDocumentUseCase) buildChunks(ctx context.Context, doc *domain.Document, text string) ([]domain.Chunk, error) {
	spans := uc.chunker.Split(text)
	if len(spans) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("chunking produced zero chunks"))
	}

	chunks := make([]domain.Chunk, 0, len(spans))
	for i, span := range spans {
		classification, err := uc.classifier.ClassifyChunk(ctx, span.Text)
		if err != nil {
			return nil, fmt.Errorf("classify chunk %d: %w", i, err)
		}
		if classification.Number != "" && !uc.taxonomy.Contains(classification.Number) {
			slog.Warn("classifier_returned_unknown_node",
				"document_id", doc.ID,
				"chunk_index", i,
				"number", classification.Number,
			)
			classification = domain.ChunkClassification{Keywords: classification.Keywords}
		}
		chunks = append(chunks, domain.Chunk{
			ID:             uuid.NewString(),
			DocumentID:     doc.ID,
			Index:          i,
			Content:        span.Text,
			StartOffset:    span.StartOffset,
			EndOffset:      span.EndOffset,
			Classification: classification,
		})
	}
	return chunks, nil
}

func (uc *ProcessDocumentUseCase) embed(ctx context.Context, text string, chunks []domain.Chunk) ([][]float32, []float32, error) {
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}

	chunkVectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(chunkVectors) != len(chunks) {
		return nil, nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(chunkVectors), len(chunks)),
		)
	}

	docVector, err := uc.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, nil, fmt.Errorf("embed document: %w", err)
	}
	return chunkVectors, docVector, nil
}

// aggregateClassification picks the document's primary taxonomy node: the
// node with the highest cumulative confidence summed over chunks classified
// to it or any of its descendants. Ties break by earliest contributing chunk
// index, then by the more specific (deeper) node, then by number.
func (uc *ProcessDocumentUseCase) aggregateClassification(chunks []domain.Chunk) (string, float64) {
	type tally struct {
		sum        float64
		firstChunk int
		best       float64
	}
	scores := make(map[string]*tally)

	for _, chunk := range chunks {
		cls := chunk.Classification
		if cls.Number == "" || cls.Confidence <= 0 {
			continue
		}
		for _, number := range ancestorsAndSelf(cls.Number) {
			if !uc.taxonomy.Contains(number) {
				continue
			}
			entry, ok := scores[number]
			if !ok {
				entry = &tally{firstChunk: chunk.Index}
				scores[number] = entry
			}
			entry.sum += cls.Confidence
			if chunk.Index < entry.firstChunk {
				entry.firstChunk = chunk.Index
			}
			if cls.Confidence > entry.best {
				entry.best = cls.Confidence
			}
		}
	}

	var primary string
	var winner *tally
	for number, entry := range scores {
		if winner == nil || betterPrimary(number, entry.sum, entry.firstChunk, primary, winner.sum, winner.firstChunk) {
			primary = number
			winner = entry
		}
	}
	if winner == nil {
		return "", 0
	}
	return primary, winner.best
}

func betterPrimary(number string, sum float64, firstChunk int, curNumber string, curSum float64, curFirst int) bool {
	if sum != curSum {
		return sum > curSum
	}
	if firstChunk != curFirst {
		return firstChunk < curFirst
	}
	candidateDepth := len(ancestorsAndSelf(number))
	currentDepth := len(ancestorsAndSelf(curNumber))
	if candidateDepth != currentDepth {
		return candidateDepth > currentDepth
	}
	return number < curNumber
}

func (uc *ProcessDocumentUseCase) applyClassification(doc *domain.Document, primary string, confidence float64) {
	doc.Category, doc.Subcategory, doc.Criterion = "", "", ""
	doc.Confidence = confidence
	doc.ModifiedAt = time.Now().UTC()
	if primary == "" {
		return
	}
	doc.Category, doc.Subcategory, doc.Criterion = uc.taxonomy.Lineage(primary)
}

func (uc *ProcessDocumentUseCase) writeVectors(
	ctx context.Context,
	doc *domain.Document,
	chunks []domain.Chunk,
	chunkVectors [][]float32,
	docVector []float32,
) error {
	points := make([]ports.VectorPoint, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, ports.VectorPoint{
			ID:       chunk.ID,
			Vector:   chunkVectors[i],
			Metadata: uc.chunkMetadata(doc, chunk),
		})
	}
	if err := uc.vector.Upsert(ctx, CollectionChunks, points); err != nil {
		return err
	}

	docPoint := ports.VectorPoint{
		ID:     doc.ID,
		Vector: docVector,
		Metadata: domain.VectorMetadata{
			DocumentID:  doc.ID,
			Title:       doc.Title,
			Category:    doc.Category,
			Subcategory: doc.Subcategory,
			Criterion:   doc.Criterion,
			Path:        doc.StoragePath,
			ModifiedAt:  doc.ModifiedAt,
		},
	}
	return uc.vector.Upsert(ctx, CollectionDocuments, []ports.VectorPoint{docPoint})
}

// chunkMetadata keeps the vector payload in lockstep with the chunk's own
// classification, falling back to the document's when the chunk has none.
func (uc *ProcessDocumentUseCase) chunkMetadata(doc *domain.Document, chunk domain.Chunk) domain.VectorMetadata {
	meta := domain.VectorMetadata{
		DocumentID:  doc.ID,
		ChunkID:     chunk.ID,
		Title:       doc.Title,
		Category:    doc.Category,
		Subcategory: doc.Subcategory,
		Criterion:   doc.Criterion,
		Path:        doc.StoragePath,
		StartOffset: chunk.StartOffset,
		EndOffset:   chunk.EndOffset,
		Text:        chunk.Content,
		ModifiedAt:  doc.ModifiedAt,
	}
	if chunk.Classification.Number != "" {
		meta.Category, meta.Subcategory, meta.Criterion = uc.taxonomy.Lineage(chunk.Classification.Number)
	}
	return meta
}

// relocateStoredFile moves the raw upload under the classified category
// folder once processing succeeded. Unclassified documents stay in raw.
func (uc *ProcessDocumentUseCase) relocateStoredFile(ctx context.Context, doc *domain.Document) error {
	if doc.Category == "" {
		return nil
	}
	destKey := path.Join(doc.Category, path.Base(doc.StoragePath))
	if destKey == doc.StoragePath {
		return nil
	}
	if err := uc.storage.Move(ctx, doc.StoragePath, destKey); err != nil {
		return fmt.Errorf("relocate stored file: %w", err)
	}
	if err := uc.repo.UpdateStoragePath(ctx, doc.ID, destKey); err != nil {
		return fmt.Errorf("update storage path: %w", err)
	}
	doc.StoragePath = destKey
	return nil
}

// ancestorsAndSelf expands "1.1.1" to ["1", "1.1", "1.1.1"].
func ancestorsAndSelf(number string) []string {
	var out []string
	for i := 0; i < len(number); i++ {
		if number[i] == '.' {
			out = append(out, number[:i])
		}
	}
	return append(out, number)
}
