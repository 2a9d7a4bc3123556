package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
)

// RepairUseCase reconciles the cross-store contract for chunks whose graph
// nodes exist but whose vector write failed: it re-embeds and upserts them
// without re-running classification.
type RepairUseCase struct {
	taxonomy *domain.Taxonomy
	repo     ports.DocumentRepository
	embedder ports.Embedder
	graph    ports.GraphStore
	vector   ports.VectorIndex
}

func NewRepairUseCase(
	taxonomy *domain.Taxonomy,
	repo ports.DocumentRepository,
	embedder ports.Embedder,
	graph ports.GraphStore,
	vector ports.VectorIndex,
) *RepairUseCase {
	return &RepairUseCase{
		taxonomy: taxonomy,
		repo:     repo,
		embedder: embedder,
		graph:    graph,
		vector:   vector,
	}
}

// RepairUnvectorized processes up to batchSize unvectorized chunks and
// returns how many were repaired.
func (uc *RepairUseCase) RepairUnvectorized(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	chunks, err := uc.graph.UnvectorizedChunks(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("list unvectorized chunks: %w", err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, domain.WrapError(domain.ErrInvalidInput, "repair chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)))
	}

	repaired := 0
	byDocument := make(map[string][]string)
	statuses := make(map[string]domain.DocumentStatus)
	for i, chunk := range chunks {
		doc, err := uc.repo.GetByID(ctx, chunk.DocumentID)
		if err != nil {
			slog.Warn("repair_skipped_orphan_chunk", "chunk_id", chunk.ID, "document_id", chunk.DocumentID, "error", err)
			continue
		}
		statuses[doc.ID] = doc.Status

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
		if chunk.Classification.Number != "" && uc.taxonomy.Contains(chunk.Classification.Number) {
			meta.Category, meta.Subcategory, meta.Criterion = uc.taxonomy.Lineage(chunk.Classification.Number)
		}

		point := ports.VectorPoint{ID: chunk.ID, Vector: vectors[i], Metadata: meta}
		if err := uc.vector.Upsert(ctx, CollectionChunks, []ports.VectorPoint{point}); err != nil {
			slog.Warn("repair_upsert_failed", "chunk_id", chunk.ID, "error", err)
			continue
		}
		byDocument[chunk.DocumentID] = append(byDocument[chunk.DocumentID], chunk.ID)
		repaired++
	}

	for documentID, chunkIDs := range byDocument {
		if err := uc.graph.MarkChunksVectorized(ctx, documentID, chunkIDs); err != nil {
			return repaired, fmt.Errorf("mark chunks vectorized for %s: %w", documentID, err)
		}
		uc.restoreStatus(ctx, documentID, statuses[documentID])
	}
	return repaired, nil
}

// restoreStatus flips a failed document back to processed once the graph
// reports no unvectorized chunks left for it. Documents still in processing
// stay untouched; the pipeline owns that transition.
func (uc *RepairUseCase) restoreStatus(ctx context.Context, documentID string, status domain.DocumentStatus) {
	if status != domain.StatusFailed {
		return
	}
	remaining, err := uc.graph.HasUnvectorizedChunks(ctx, documentID)
	if err != nil {
		slog.Warn("repair_status_check_failed", "document_id", documentID, "error", err)
		return
	}
	if remaining {
		return
	}
	if err := uc.repo.UpdateStatus(ctx, documentID, domain.StatusProcessed, ""); err != nil {
		slog.Warn("repair_status_update_failed", "document_id", documentID, "error", err)
	}
}
