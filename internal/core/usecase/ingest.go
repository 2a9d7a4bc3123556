package usecase

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
)

const rawStoragePrefix = "raw"

// IngestDocumentUseCase owns the synchronous half of ingestion: persist raw
// bytes, create the pending document row, publish the processing event. The
// heavy work happens in ProcessDocumentUseCase on the worker side.
type IngestDocumentUseCase struct {
	repo    ports.DocumentRepository
	graph   ports.GraphStore
	vector  ports.VectorIndex
	storage ports.ObjectStorage
	queue   ports.MessageQueue
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	graph ports.GraphStore,
	vector ports.VectorIndex,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		repo:    repo,
		graph:   graph,
		vector:  vector,
		storage: storage,
		queue:   queue,
	}
}

func (uc *IngestDocumentUseCase) Upload(
	ctx context.Context,
	title, mimeType string,
	body io.Reader,
) (*domain.Document, error) {
	if strings.TrimSpace(title) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", fmt.Errorf("empty title"))
	}

	id := uuid.NewString()
	storageKey := path.Join(rawStoragePrefix, fmt.Sprintf("%s_%s", id, sanitizeFilename(title)))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := &domain.Document{
		ID:          id,
		Title:       title,
		MimeType:    mimeType,
		StoragePath: storageKey,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		ModifiedAt:  now,
	}

	// The insert is the only write guarded against racing double-ingestion:
	// the primary key rejects a second creation of the same identifier.
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	if err := uc.queue.PublishDocumentIngested(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}

	return doc, nil
}

// Reprocess re-enqueues an existing document. Processing replaces the prior
// chunk and vector sets wholesale, so re-invocation is idempotent.
func (uc *IngestDocumentUseCase) Reprocess(ctx context.Context, documentID string) error {
	if _, err := uc.repo.GetByID(ctx, documentID); err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}
	if err := uc.repo.UpdateStatus(ctx, documentID, domain.StatusPending, ""); err != nil {
		return fmt.Errorf("reset status: %w", err)
	}
	if err := uc.queue.PublishDocumentIngested(ctx, documentID); err != nil {
		return fmt.Errorf("publish reprocess event: %w", err)
	}
	return nil
}

// Link records a RELATES_TO relation between two ingested documents. The
// relation feeds the related-documents listing and the related tier of graph
// traversal; linking an identifier to itself is rejected.
func (uc *IngestDocumentUseCase) Link(ctx context.Context, fromID, toID string, strength float64) error {
	if strings.TrimSpace(fromID) == "" || strings.TrimSpace(toID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "link documents", fmt.Errorf("both document ids are required"))
	}
	if fromID == toID {
		return domain.WrapError(domain.ErrInvalidInput, "link documents", fmt.Errorf("cannot link document %s to itself", fromID))
	}
	if strength <= 0 || strength > 1 {
		return domain.WrapError(domain.ErrInvalidInput, "link documents", fmt.Errorf("strength %v outside (0,1]", strength))
	}
	if err := uc.graph.LinkRelated(ctx, fromID, toID, strength); err != nil {
		return fmt.Errorf("link related documents: %w", err)
	}
	return nil
}

// Delete removes the document everywhere: graph cascade first (returning the
// owned chunk ids), then the matching vectors, then the metadata row.
func (uc *IngestDocumentUseCase) Delete(ctx context.Context, documentID string) error {
	if _, err := uc.repo.GetByID(ctx, documentID); err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}

	chunkIDs, err := uc.graph.DeleteDocumentCascade(ctx, documentID)
	if err != nil {
		return fmt.Errorf("graph cascade delete: %w", err)
	}
	if len(chunkIDs) > 0 {
		if err := uc.vector.Delete(ctx, CollectionChunks, chunkIDs); err != nil {
			return fmt.Errorf("delete chunk vectors: %w", err)
		}
	}
	if err := uc.vector.DeleteByDocument(ctx, CollectionDocuments, documentID); err != nil {
		return fmt.Errorf("delete document vector: %w", err)
	}
	if err := uc.repo.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("delete document metadata: %w", err)
	}
	return nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "document.bin"
	}
	return base
}
