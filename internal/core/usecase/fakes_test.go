package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
)

func mustTaxonomy(t *testing.T) *domain.Taxonomy {
	t.Helper()
	tax, err := domain.NewTaxonomy([]domain.TaxonomyNode{
		{Number: "1", Level: domain.LevelCategory, Name: "Leadership"},
		{Number: "1.1", Level: domain.LevelSubcategory, Name: "Vision", ParentNumber: "1"},
		{Number: "1.1.1", Level: domain.LevelCriterion, Name: "Vision statement", ParentNumber: "1.1"},
		{Number: "1.1.2", Level: domain.LevelCriterion, Name: "Vision deployment", ParentNumber: "1.1"},
		{Number: "1.2", Level: domain.LevelSubcategory, Name: "Governance", ParentNumber: "1"},
		{Number: "1.2.1", Level: domain.LevelCriterion, Name: "Oversight", ParentNumber: "1.2"},
		{Number: "2", Level: domain.LevelCategory, Name: "Strategy"},
		{Number: "2.1", Level: domain.LevelSubcategory, Name: "Planning", ParentNumber: "2"},
		{Number: "2.1.1", Level: domain.LevelCriterion, Name: "Plan development", ParentNumber: "2.1"},
	})
	if err != nil {
		t.Fatalf("build taxonomy: %v", err)
	}
	return tax
}

type fakeRepo struct {
	getByID           func(ctx context.Context, id string) (*domain.Document, error)
	create            func(ctx context.Context, doc *domain.Document) error
	updateStatus      func(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	saveClass         func(ctx context.Context, id, category, subcategory, criterion string, confidence float64) error
	updateStoragePath func(ctx context.Context, id, path string) error
	statusesByID      func(ctx context.Context, ids []string) (map[string]domain.DocumentStatus, error)
	deleteFn          func(ctx context.Context, id string) error
}

func (f *fakeRepo) Create(ctx context.Context, doc *domain.Document) error {
	if f.create == nil {
		return nil
	}
	return f.create(ctx, doc)
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	if f.getByID == nil {
		return nil, errors.New("unexpected GetByID")
	}
	return f.getByID(ctx, id)
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	if f.updateStatus == nil {
		return nil
	}
	return f.updateStatus(ctx, id, status, errMessage)
}

func (f *fakeRepo) SaveClassification(ctx context.Context, id string, category, subcategory, criterion string, confidence float64) error {
	if f.saveClass == nil {
		return nil
	}
	return f.saveClass(ctx, id, category, subcategory, criterion, confidence)
}

func (f *fakeRepo) UpdateStoragePath(ctx context.Context, id, path string) error {
	if f.updateStoragePath == nil {
		return nil
	}
	return f.updateStoragePath(ctx, id, path)
}

func (f *fakeRepo) StatusesByID(ctx context.Context, ids []string) (map[string]domain.DocumentStatus, error) {
	if f.statusesByID == nil {
		out := make(map[string]domain.DocumentStatus, len(ids))
		for _, id := range ids {
			out[id] = domain.StatusProcessed
		}
		return out, nil
	}
	return f.statusesByID(ctx, ids)
}

func (f *fakeRepo) Delete(ctx context.Context, id string) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(ctx, id)
}

type fakeGraph struct {
	ensureTaxonomy  func(ctx context.Context, taxonomy *domain.Taxonomy) error
	replaceDocument func(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error
	markVectorized  func(ctx context.Context, documentID string, chunkIDs []string) error
	linkRelated     func(ctx context.Context, fromID, toID string, strength float64) error
	deleteCascade   func(ctx context.Context, documentID string) ([]string, error)
	traverse        func(ctx context.Context, number string, filter domain.SearchFilter, limit int) ([]ports.GraphHit, error)
	mentioning      func(ctx context.Context, keyword string, limit int) ([]ports.GraphHit, error)
	related         func(ctx context.Context, documentID string, minStrength float64, limit int) ([]domain.RelatedDocument, error)
	evidence        func(ctx context.Context, number string, limit int) ([]domain.Evidence, error)
	unvectorized    func(ctx context.Context, limit int) ([]domain.Chunk, error)
	hasUnvectorized func(ctx context.Context, documentID string) (bool, error)
	keywords        func(ctx context.Context, documentID string, limit int) ([]domain.Keyword, error)
}

func (f *fakeGraph) EnsureTaxonomy(ctx context.Context, taxonomy *domain.Taxonomy) error {
	if f.ensureTaxonomy == nil {
		return nil
	}
	return f.ensureTaxonomy(ctx, taxonomy)
}

func (f *fakeGraph) ReplaceDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	if f.replaceDocument == nil {
		return nil
	}
	return f.replaceDocument(ctx, doc, chunks)
}

func (f *fakeGraph) MarkChunksVectorized(ctx context.Context, documentID string, chunkIDs []string) error {
	if f.markVectorized == nil {
		return nil
	}
	return f.markVectorized(ctx, documentID, chunkIDs)
}

func (f *fakeGraph) LinkRelated(ctx context.Context, fromID, toID string, strength float64) error {
	if f.linkRelated == nil {
		return nil
	}
	return f.linkRelated(ctx, fromID, toID, strength)
}

func (f *fakeGraph) DeleteDocumentCascade(ctx context.Context, documentID string) ([]string, error) {
	if f.deleteCascade == nil {
		return nil, nil
	}
	return f.deleteCascade(ctx, documentID)
}

func (f *fakeGraph) TraverseTaxonomy(ctx context.Context, number string, filter domain.SearchFilter, limit int) ([]ports.GraphHit, error) {
	if f.traverse == nil {
		return nil, nil
	}
	return f.traverse(ctx, number, filter, limit)
}

func (f *fakeGraph) ChunksMentioning(ctx context.Context, keyword string, limit int) ([]ports.GraphHit, error) {
	if f.mentioning == nil {
		return nil, nil
	}
	return f.mentioning(ctx, keyword, limit)
}

func (f *fakeGraph) RelatedDocuments(ctx context.Context, documentID string, minStrength float64, limit int) ([]domain.RelatedDocument, error) {
	if f.related == nil {
		return nil, nil
	}
	return f.related(ctx, documentID, minStrength, limit)
}

func (f *fakeGraph) EvidenceForCriterion(ctx context.Context, number string, limit int) ([]domain.Evidence, error) {
	if f.evidence == nil {
		return nil, nil
	}
	return f.evidence(ctx, number, limit)
}

func (f *fakeGraph) UnvectorizedChunks(ctx context.Context, limit int) ([]domain.Chunk, error) {
	if f.unvectorized == nil {
		return nil, nil
	}
	return f.unvectorized(ctx, limit)
}

func (f *fakeGraph) HasUnvectorizedChunks(ctx context.Context, documentID string) (bool, error) {
	if f.hasUnvectorized == nil {
		return false, nil
	}
	return f.hasUnvectorized(ctx, documentID)
}

func (f *fakeGraph) DocumentKeywords(ctx context.Context, documentID string, limit int) ([]domain.Keyword, error) {
	if f.keywords == nil {
		return nil, nil
	}
	return f.keywords(ctx, documentID, limit)
}

type fakeVector struct {
	upsert           func(ctx context.Context, collection string, points []ports.VectorPoint) error
	query            func(ctx context.Context, collection string, vector []float32, k int, filter domain.SearchFilter) ([]ports.VectorHit, error)
	deleteFn         func(ctx context.Context, collection string, ids []string) error
	deleteByDocument func(ctx context.Context, collection, documentID string) error
}

func (f *fakeVector) Upsert(ctx context.Context, collection string, points []ports.VectorPoint) error {
	if f.upsert == nil {
		return nil
	}
	return f.upsert(ctx, collection, points)
}

func (f *fakeVector) Query(ctx context.Context, collection string, vector []float32, k int, filter domain.SearchFilter) ([]ports.VectorHit, error) {
	if f.query == nil {
		return nil, nil
	}
	return f.query(ctx, collection, vector, k, filter)
}

func (f *fakeVector) Delete(ctx context.Context, collection string, ids []string) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(ctx, collection, ids)
}

func (f *fakeVector) DeleteByDocument(ctx context.Context, collection, documentID string) error {
	if f.deleteByDocument == nil {
		return nil
	}
	return f.deleteByDocument(ctx, collection, documentID)
}

type fakeStorage struct {
	save func(ctx context.Context, key string, data io.Reader) error
	open func(ctx context.Context, key string) (io.ReadCloser, error)
	move func(ctx context.Context, fromKey, toKey string) error
}

func (f *fakeStorage) Save(ctx context.Context, key string, data io.Reader) error {
	if f.save == nil {
		return nil
	}
	return f.save(ctx, key, data)
}

func (f *fakeStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if f.open == nil {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return f.open(ctx, key)
}

func (f *fakeStorage) Move(ctx context.Context, fromKey, toKey string) error {
	if f.move == nil {
		return nil
	}
	return f.move(ctx, fromKey, toKey)
}

type fakeQueue struct {
	publish   func(ctx context.Context, documentID string) error
	subscribe func(ctx context.Context, handler func(context.Context, string) error) error
}

func (f *fakeQueue) PublishDocumentIngested(ctx context.Context, documentID string) error {
	if f.publish == nil {
		return nil
	}
	return f.publish(ctx, documentID)
}

func (f *fakeQueue) SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error {
	if f.subscribe == nil {
		return nil
	}
	return f.subscribe(ctx, handler)
}

type fakeExtractor struct {
	extract func(ctx context.Context, doc *domain.Document) (string, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	if f.extract == nil {
		return "", errors.New("unexpected Extract")
	}
	return f.extract(ctx, doc)
}

type fakeChunker struct {
	split func(text string) []domain.ChunkSpan
}

func (f *fakeChunker) Split(text string) []domain.ChunkSpan {
	if f.split == nil {
		return []domain.ChunkSpan{{StartOffset: 0, EndOffset: len([]rune(text)), Text: text}}
	}
	return f.split(text)
}

type fakeClassifier struct {
	classifyChunk func(ctx context.Context, text string) (domain.ChunkClassification, error)
	classifyQuery func(ctx context.Context, text string) ([]string, error)
}

func (f *fakeClassifier) ClassifyChunk(ctx context.Context, text string) (domain.ChunkClassification, error) {
	if f.classifyChunk == nil {
		return domain.ChunkClassification{}, nil
	}
	return f.classifyChunk(ctx, text)
}

func (f *fakeClassifier) ClassifyQuery(ctx context.Context, text string) ([]string, error) {
	if f.classifyQuery == nil {
		return nil, nil
	}
	return f.classifyQuery(ctx, text)
}

type fakeEmbedder struct {
	embed      func(ctx context.Context, texts []string) ([][]float32, error)
	embedQuery func(ctx context.Context, text string) ([]float32, error)
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.embed == nil {
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{0.1, 0.2}
		}
		return out, nil
	}
	return f.embed(ctx, texts)
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.embedQuery == nil {
		return []float32{0.1, 0.2}, nil
	}
	return f.embedQuery(ctx, text)
}

type fakeGenerator struct {
	generate func(ctx context.Context, question string, results []domain.ScoredResult) (string, error)
}

func (f *fakeGenerator) GenerateAnswer(ctx context.Context, question string, results []domain.ScoredResult) (string, error) {
	if f.generate == nil {
		return "answer", nil
	}
	return f.generate(ctx, question, results)
}
