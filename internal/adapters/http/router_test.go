package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/usecase"
)

type stubIngestor struct {
	upload    func(ctx context.Context, title, mimeType string, body io.Reader) (*domain.Document, error)
	reprocess func(ctx context.Context, documentID string) error
	link      func(ctx context.Context, fromID, toID string, strength float64) error
	deleteFn  func(ctx context.Context, documentID string) error
}

func (s *stubIngestor) Upload(ctx context.Context, title, mimeType string, body io.Reader) (*domain.Document, error) {
	return s.upload(ctx, title, mimeType, body)
}

func (s *stubIngestor) Reprocess(ctx context.Context, documentID string) error {
	return s.reprocess(ctx, documentID)
}

func (s *stubIngestor) Link(ctx context.Context, fromID, toID string, strength float64) error {
	return s.link(ctx, fromID, toID, strength)
}

func (s *stubIngestor) Delete(ctx context.Context, documentID string) error {
	return s.deleteFn(ctx, documentID)
}

type stubAnswerer struct {
	answer func(ctx context.Context, question string, filter domain.SearchFilter, limit int) (*domain.Answer, error)
}

func (s *stubAnswerer) Answer(ctx context.Context, question string, filter domain.SearchFilter, limit int) (*domain.Answer, error) {
	return s.answer(ctx, question, filter, limit)
}

type stubRepo struct {
	getByID func(ctx context.Context, id string) (*domain.Document, error)
}

func (s *stubRepo) Create(context.Context, *domain.Document) error { return nil }

func (s *stubRepo) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	if s.getByID == nil {
		return &domain.Document{ID: id, Status: domain.StatusProcessed}, nil
	}
	return s.getByID(ctx, id)
}

func (s *stubRepo) UpdateStatus(context.Context, string, domain.DocumentStatus, string) error {
	return nil
}

func (s *stubRepo) SaveClassification(context.Context, string, string, string, string, float64) error {
	return nil
}

func (s *stubRepo) UpdateStoragePath(context.Context, string, string) error { return nil }

func (s *stubRepo) StatusesByID(_ context.Context, ids []string) (map[string]domain.DocumentStatus, error) {
	out := make(map[string]domain.DocumentStatus, len(ids))
	for _, id := range ids {
		out[id] = domain.StatusProcessed
	}
	return out, nil
}

func (s *stubRepo) Delete(context.Context, string) error { return nil }

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1}
	}
	return out, nil
}

func (stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{0.1}, nil
}

type stubClassifier struct{}

func (stubClassifier) ClassifyChunk(context.Context, string) (domain.ChunkClassification, error) {
	return domain.ChunkClassification{}, nil
}

func (stubClassifier) ClassifyQuery(context.Context, string) ([]string, error) {
	return []string{"1.1.1"}, nil
}

type stubVector struct {
	query func(ctx context.Context, collection string, vector []float32, k int, filter domain.SearchFilter) ([]ports.VectorHit, error)
}

func (s *stubVector) Upsert(context.Context, string, []ports.VectorPoint) error { return nil }

func (s *stubVector) Query(ctx context.Context, collection string, vector []float32, k int, filter domain.SearchFilter) ([]ports.VectorHit, error) {
	if s.query == nil {
		return nil, nil
	}
	return s.query(ctx, collection, vector, k, filter)
}

func (s *stubVector) Delete(context.Context, string, []string) error         { return nil }
func (s *stubVector) DeleteByDocument(context.Context, string, string) error { return nil }

type stubGraph struct {
	traverse func(ctx context.Context, number string, filter domain.SearchFilter, limit int) ([]ports.GraphHit, error)
	related  func(ctx context.Context, documentID string, minStrength float64, limit int) ([]domain.RelatedDocument, error)
	evidence func(ctx context.Context, number string, limit int) ([]domain.Evidence, error)
	keywords func(ctx context.Context, documentID string, limit int) ([]domain.Keyword, error)
}

func (s *stubGraph) EnsureTaxonomy(context.Context, *domain.Taxonomy) error { return nil }

func (s *stubGraph) ReplaceDocument(context.Context, *domain.Document, []domain.Chunk) error {
	return nil
}

func (s *stubGraph) MarkChunksVectorized(context.Context, string, []string) error { return nil }
func (s *stubGraph) LinkRelated(context.Context, string, string, float64) error   { return nil }

func (s *stubGraph) DeleteDocumentCascade(context.Context, string) ([]string, error) {
	return nil, nil
}

func (s *stubGraph) TraverseTaxonomy(ctx context.Context, number string, filter domain.SearchFilter, limit int) ([]ports.GraphHit, error) {
	if s.traverse == nil {
		return nil, nil
	}
	return s.traverse(ctx, number, filter, limit)
}

func (s *stubGraph) ChunksMentioning(context.Context, string, int) ([]ports.GraphHit, error) {
	return nil, nil
}

func (s *stubGraph) RelatedDocuments(ctx context.Context, documentID string, minStrength float64, limit int) ([]domain.RelatedDocument, error) {
	if s.related == nil {
		return nil, nil
	}
	return s.related(ctx, documentID, minStrength, limit)
}

func (s *stubGraph) EvidenceForCriterion(ctx context.Context, number string, limit int) ([]domain.Evidence, error) {
	if s.evidence == nil {
		return nil, nil
	}
	return s.evidence(ctx, number, limit)
}

func (s *stubGraph) UnvectorizedChunks(context.Context, int) ([]domain.Chunk, error) {
	return nil, nil
}

func (s *stubGraph) HasUnvectorizedChunks(context.Context, string) (bool, error) {
	return false, nil
}

func (s *stubGraph) DocumentKeywords(ctx context.Context, documentID string, limit int) ([]domain.Keyword, error) {
	if s.keywords == nil {
		return nil, nil
	}
	return s.keywords(ctx, documentID, limit)
}

func testTaxonomy(t *testing.T) *domain.Taxonomy {
	t.Helper()
	tax, err := domain.NewTaxonomy([]domain.TaxonomyNode{
		{Number: "1", Level: domain.LevelCategory, Name: "Leadership"},
		{Number: "1.1", Level: domain.LevelSubcategory, Name: "Vision", ParentNumber: "1"},
		{Number: "1.1.1", Level: domain.LevelCriterion, Name: "Vision statement", ParentNumber: "1.1"},
	})
	if err != nil {
		t.Fatalf("build taxonomy: %v", err)
	}
	return tax
}

type routerDeps struct {
	ingest   *stubIngestor
	answer   *stubAnswerer
	repo     *stubRepo
	vector   *stubVector
	graph    *stubGraph
	taxonomy *domain.Taxonomy
}

func newTestRouter(t *testing.T, deps routerDeps) http.Handler {
	t.Helper()
	if deps.ingest == nil {
		deps.ingest = &stubIngestor{}
	}
	if deps.answer == nil {
		deps.answer = &stubAnswerer{}
	}
	if deps.repo == nil {
		deps.repo = &stubRepo{}
	}
	if deps.vector == nil {
		deps.vector = &stubVector{}
	}
	if deps.graph == nil {
		deps.graph = &stubGraph{}
	}
	if deps.taxonomy == nil {
		deps.taxonomy = testTaxonomy(t)
	}
	search := usecase.NewSearchUseCase(
		deps.taxonomy, stubEmbedder{}, stubClassifier{}, deps.vector, deps.graph, deps.repo,
		usecase.SearchConfig{},
	)
	return NewRouter(deps.ingest, search, deps.answer, deps.repo, deps.taxonomy, nil).Handler()
}

func TestHealthz(t *testing.T) {
	handler := newTestRouter(t, routerDeps{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestUploadDocument(t *testing.T) {
	ingest := &stubIngestor{
		upload: func(_ context.Context, title, mimeType string, body io.Reader) (*domain.Document, error) {
			if title != "report.pdf" {
				t.Fatalf("title = %q", title)
			}
			if mimeType != "application/pdf" {
				t.Fatalf("mime type = %q", mimeType)
			}
			if _, err := io.ReadAll(body); err != nil {
				t.Fatalf("read body: %v", err)
			}
			return &domain.Document{ID: "doc-1", Title: title, Status: domain.StatusPending}, nil
		},
	}
	handler := newTestRouter(t, routerDeps{ingest: ingest})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="file"; filename="report.pdf"`}
	header["Content-Type"] = []string{"application/pdf"}
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write([]byte("%PDF-")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var doc domain.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if doc.ID != "doc-1" || doc.Status != domain.StatusPending {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestUploadWithoutFileField(t *testing.T) {
	handler := newTestRouter(t, routerDeps{})
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader("not multipart"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetDocumentNotFoundMapsTo404(t *testing.T) {
	repo := &stubRepo{
		getByID: func(_ context.Context, id string) (*domain.Document, error) {
			return nil, domain.WrapError(domain.ErrNotFound, "get document", errors.New("missing"))
		},
	}
	handler := newTestRouter(t, routerDeps{repo: repo})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteDocumentReturnsNoContent(t *testing.T) {
	deleted := ""
	ingest := &stubIngestor{
		deleteFn: func(_ context.Context, documentID string) error {
			deleted = documentID
			return nil
		},
	}
	handler := newTestRouter(t, routerDeps{ingest: ingest})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/documents/doc-1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if deleted != "doc-1" {
		t.Fatalf("deleted id = %q", deleted)
	}
}

func TestReprocessReturnsAcceptedWithPendingStatus(t *testing.T) {
	ingest := &stubIngestor{
		reprocess: func(_ context.Context, documentID string) error { return nil },
	}
	handler := newTestRouter(t, routerDeps{ingest: ingest})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/documents/doc-1/reprocess", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != string(domain.StatusPending) {
		t.Fatalf("status field = %q, want pending", body["status"])
	}
}

func TestSearchEndpoint(t *testing.T) {
	vector := &stubVector{
		query: func(_ context.Context, collection string, _ []float32, _ int, filter domain.SearchFilter) ([]ports.VectorHit, error) {
			if collection != "chunks" {
				t.Fatalf("collection = %q", collection)
			}
			if filter.Category != "1" {
				t.Fatalf("category filter = %q", filter.Category)
			}
			return []ports.VectorHit{
				{ID: "c1", Score: 0.9, Metadata: domain.VectorMetadata{ChunkID: "c1", DocumentID: "d1", Text: "hit"}},
			}, nil
		},
	}
	handler := newTestRouter(t, routerDeps{vector: vector})

	body := `{"query":"vision","mode":"vector","category":"1","limit":5}`
	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Results []domain.ScoredResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ChunkID != "c1" {
		t.Fatalf("unexpected results %+v", resp.Results)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	handler := newTestRouter(t, routerDeps{})
	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(`{"query":""}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSearchMethodNotAllowed(t *testing.T) {
	handler := newTestRouter(t, routerDeps{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/search", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestAnswerEndpoint(t *testing.T) {
	answer := &stubAnswerer{
		answer: func(_ context.Context, question string, filter domain.SearchFilter, limit int) (*domain.Answer, error) {
			if question != "what is the vision?" {
				t.Fatalf("question = %q", question)
			}
			return &domain.Answer{Text: "the vision is X"}, nil
		},
	}
	handler := newTestRouter(t, routerDeps{answer: answer})

	req := httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(`{"question":"what is the vision?"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got domain.Answer
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Text != "the vision is X" {
		t.Fatalf("answer text = %q", got.Text)
	}
}

func TestAnswerBackendUnavailableMapsTo503(t *testing.T) {
	answer := &stubAnswerer{
		answer: func(_ context.Context, _ string, _ domain.SearchFilter, _ int) (*domain.Answer, error) {
			return nil, domain.WrapError(domain.ErrBackendUnavailable, "hybrid search", errors.New("both sides down"))
		},
	}
	handler := newTestRouter(t, routerDeps{answer: answer})

	req := httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(`{"question":"q"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestTaxonomyTree(t *testing.T) {
	handler := newTestRouter(t, routerDeps{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/taxonomy", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Nodes []domain.TaxonomyNode `json:"nodes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(resp.Nodes))
	}
}

func TestCriterionEvidence(t *testing.T) {
	graph := &stubGraph{
		evidence: func(_ context.Context, number string, _ int) ([]domain.Evidence, error) {
			if number != "1.1.1" {
				t.Fatalf("number = %q", number)
			}
			return []domain.Evidence{{ID: "e1", Name: "charter", Strength: 0.9}}, nil
		},
	}
	handler := newTestRouter(t, routerDeps{graph: graph})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/criteria/1.1.1/evidence", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Criterion string            `json:"criterion"`
		Evidence  []domain.Evidence `json:"evidence"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Criterion != "1.1.1" || len(resp.Evidence) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCriterionEvidenceRejectsNonCriterion(t *testing.T) {
	handler := newTestRouter(t, routerDeps{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/criteria/1.1/evidence", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRelatedDocuments(t *testing.T) {
	graph := &stubGraph{
		related: func(_ context.Context, documentID string, minStrength float64, _ int) ([]domain.RelatedDocument, error) {
			if documentID != "doc-1" {
				t.Fatalf("document id = %q", documentID)
			}
			if minStrength != 0.4 {
				t.Fatalf("min strength = %v", minStrength)
			}
			return []domain.RelatedDocument{{DocumentID: "doc-2", Strength: 0.7}}, nil
		},
	}
	handler := newTestRouter(t, routerDeps{graph: graph})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1/related?min_strength=0.4", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Related []domain.RelatedDocument `json:"related"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Related) != 1 || resp.Related[0].DocumentID != "doc-2" {
		t.Fatalf("unexpected related %+v", resp.Related)
	}
}

func TestLinkRelatedDocuments(t *testing.T) {
	ingest := &stubIngestor{
		link: func(_ context.Context, fromID, toID string, strength float64) error {
			if fromID != "doc-1" || toID != "doc-2" {
				t.Fatalf("linked %s -> %s", fromID, toID)
			}
			if strength != 0.7 {
				t.Fatalf("strength = %v", strength)
			}
			return nil
		},
	}
	handler := newTestRouter(t, routerDeps{ingest: ingest})
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"to_id":"doc-2","strength":0.7}`)
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/documents/doc-1/related", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestLinkRelatedRejectsInvalidStrength(t *testing.T) {
	ingest := &stubIngestor{
		link: func(_ context.Context, _, _ string, strength float64) error {
			return domain.WrapError(domain.ErrInvalidInput, "link documents",
				errors.New("strength outside (0,1]"))
		},
	}
	handler := newTestRouter(t, routerDeps{ingest: ingest})
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"to_id":"doc-2","strength":7}`)
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/documents/doc-1/related", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDocumentKeywords(t *testing.T) {
	graph := &stubGraph{
		keywords: func(_ context.Context, documentID string, _ int) ([]domain.Keyword, error) {
			if documentID != "doc-1" {
				t.Fatalf("document id = %q", documentID)
			}
			return []domain.Keyword{{Text: "budget", Count: 3}, {Text: "audit", Count: 1}}, nil
		},
	}
	handler := newTestRouter(t, routerDeps{graph: graph})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1/keywords", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Keywords []domain.Keyword `json:"keywords"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Keywords) != 2 || resp.Keywords[0].Text != "budget" || resp.Keywords[0].Count != 3 {
		t.Fatalf("unexpected keywords %+v", resp.Keywords)
	}
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	handler := newTestRouter(t, routerDeps{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("X-Request-Id header missing")
	}
}
