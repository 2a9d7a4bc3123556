package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
)

func newSearchUC(t *testing.T, vector *fakeVector, graph *fakeGraph, repo *fakeRepo) *SearchUseCase {
	t.Helper()
	if vector == nil {
		vector = &fakeVector{}
	}
	if graph == nil {
		graph = &fakeGraph{}
	}
	if repo == nil {
		repo = &fakeRepo{}
	}
	classifier := &fakeClassifier{
		classifyQuery: func(_ context.Context, _ string) ([]string, error) {
			return []string{"1.1.1"}, nil
		},
	}
	return NewSearchUseCase(mustTaxonomy(t), &fakeEmbedder{}, classifier, vector, graph, repo, SearchConfig{})
}

type recordingObserver struct {
	degraded []string
	excluded int
}

func (o *recordingObserver) HybridDegraded(failedSide string) {
	o.degraded = append(o.degraded, failedSide)
}

func (o *recordingObserver) ResultsExcluded(count int) {
	o.excluded += count
}

func TestSearchValidation(t *testing.T) {
	uc := newSearchUC(t, nil, nil, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		query  string
		mode   domain.SearchMode
		filter domain.SearchFilter
		limit  int
	}{
		{name: "empty query", query: "   ", mode: domain.ModeHybrid},
		{name: "negative limit", query: "risk", mode: domain.ModeHybrid, limit: -1},
		{name: "unknown mode", query: "risk", mode: "fulltext"},
		{name: "unknown category filter", query: "risk", mode: domain.ModeHybrid, filter: domain.SearchFilter{Category: "7"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := uc.Search(ctx, tc.query, tc.mode, tc.filter, tc.limit)
			if !domain.IsKind(err, domain.ErrInvalidInput) {
				t.Fatalf("Search() error = %v, want invalid input", err)
			}
		})
	}
}

func TestSearchZeroLimitUsesDefault(t *testing.T) {
	var gotK int
	vector := &fakeVector{
		query: func(_ context.Context, _ string, _ []float32, k int, _ domain.SearchFilter) ([]ports.VectorHit, error) {
			gotK = k
			return nil, nil
		},
	}
	uc := newSearchUC(t, vector, nil, nil)

	if _, err := uc.Search(context.Background(), "risk", domain.ModeVector, domain.SearchFilter{}, 0); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if gotK != 10 {
		t.Fatalf("expected default limit 10, vector queried with k=%d", gotK)
	}
}

func TestSearchLimitCappedAtMax(t *testing.T) {
	var gotK int
	vector := &fakeVector{
		query: func(_ context.Context, _ string, _ []float32, k int, _ domain.SearchFilter) ([]ports.VectorHit, error) {
			gotK = k
			return nil, nil
		},
	}
	uc := newSearchUC(t, vector, nil, nil)

	if _, err := uc.Search(context.Background(), "risk", domain.ModeVector, domain.SearchFilter{}, 5000); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if gotK != 50 {
		t.Fatalf("expected cap at 50, vector queried with k=%d", gotK)
	}
}

func TestHybridDegradesWhenOneSideFails(t *testing.T) {
	vector := &fakeVector{
		query: func(_ context.Context, _ string, _ []float32, _ int, _ domain.SearchFilter) ([]ports.VectorHit, error) {
			return nil, errors.New("qdrant down")
		},
	}
	graph := &fakeGraph{
		traverse: func(_ context.Context, _ string, _ domain.SearchFilter, _ int) ([]ports.GraphHit, error) {
			return []ports.GraphHit{
				{ChunkID: "c1", DocumentID: "d1", Snippet: "vision statement", Match: ports.MatchDirect},
			}, nil
		},
	}
	observer := &recordingObserver{}
	uc := newSearchUC(t, vector, graph, nil).WithObserver(observer)

	results, err := uc.Search(context.Background(), "vision", domain.ModeHybrid, domain.SearchFilter{}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the graph-only result, got %d results", len(results))
	}
	if results[0].Source != domain.SourceGraph {
		t.Fatalf("Source = %q, want graph", results[0].Source)
	}
	// Direct graph match 1.0 scaled by the single-source penalty.
	if results[0].Score != 0.85 {
		t.Fatalf("Score = %v, want 0.85", results[0].Score)
	}
	if len(observer.degraded) != 1 || observer.degraded[0] != "vector" {
		t.Fatalf("degraded sides = %v, want [vector]", observer.degraded)
	}
}

func TestHybridFailsWhenBothSidesFail(t *testing.T) {
	vector := &fakeVector{
		query: func(_ context.Context, _ string, _ []float32, _ int, _ domain.SearchFilter) ([]ports.VectorHit, error) {
			return nil, errors.New("qdrant down")
		},
	}
	graph := &fakeGraph{
		traverse: func(_ context.Context, _ string, _ domain.SearchFilter, _ int) ([]ports.GraphHit, error) {
			return nil, errors.New("neo4j down")
		},
	}
	uc := newSearchUC(t, vector, graph, nil)

	_, err := uc.Search(context.Background(), "vision", domain.ModeHybrid, domain.SearchFilter{}, 10)
	if !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("Search() error = %v, want backend unavailable", err)
	}
}

func TestSearchExcludesUnprocessedAndMissingDocuments(t *testing.T) {
	vector := &fakeVector{
		query: func(_ context.Context, _ string, _ []float32, _ int, _ domain.SearchFilter) ([]ports.VectorHit, error) {
			return []ports.VectorHit{
				{Score: 0.9, Metadata: domain.VectorMetadata{ChunkID: "c1", DocumentID: "processed"}},
				{Score: 0.8, Metadata: domain.VectorMetadata{ChunkID: "c2", DocumentID: "pending"}},
				{Score: 0.7, Metadata: domain.VectorMetadata{ChunkID: "c3", DocumentID: "ghost"}},
			}, nil
		},
	}
	repo := &fakeRepo{
		statusesByID: func(_ context.Context, ids []string) (map[string]domain.DocumentStatus, error) {
			if len(ids) != 3 {
				t.Fatalf("expected 3 unique document ids, got %v", ids)
			}
			// "ghost" is absent on purpose: its document row no longer exists.
			return map[string]domain.DocumentStatus{
				"processed": domain.StatusProcessed,
				"pending":   domain.StatusPending,
			}, nil
		},
	}
	observer := &recordingObserver{}
	uc := newSearchUC(t, vector, nil, repo).WithObserver(observer)

	results, err := uc.Search(context.Background(), "vision", domain.ModeVector, domain.SearchFilter{}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].DocumentID != "processed" {
		t.Fatalf("expected only the processed document, got %+v", results)
	}
	// Only the missing row counts as a consistency exclusion; a pending
	// document is a normal lifecycle state.
	if observer.excluded != 1 {
		t.Fatalf("excluded count = %d, want 1", observer.excluded)
	}
}

func TestSearchFailsWhenStatusLookupFails(t *testing.T) {
	vector := &fakeVector{
		query: func(_ context.Context, _ string, _ []float32, _ int, _ domain.SearchFilter) ([]ports.VectorHit, error) {
			return []ports.VectorHit{
				{Score: 0.9, Metadata: domain.VectorMetadata{ChunkID: "c1", DocumentID: "d1"}},
			}, nil
		},
	}
	repo := &fakeRepo{
		statusesByID: func(_ context.Context, _ []string) (map[string]domain.DocumentStatus, error) {
			return nil, errors.New("postgres down")
		},
	}
	uc := newSearchUC(t, vector, nil, repo)

	if _, err := uc.Search(context.Background(), "vision", domain.ModeVector, domain.SearchFilter{}, 10); err == nil {
		t.Fatalf("expected error when the status lookup fails")
	}
}

func TestGraphSearchDeduplicatesQueryNodes(t *testing.T) {
	var traversed []string
	graph := &fakeGraph{
		traverse: func(_ context.Context, number string, _ domain.SearchFilter, _ int) ([]ports.GraphHit, error) {
			traversed = append(traversed, number)
			return nil, nil
		},
	}
	classifier := &fakeClassifier{
		classifyQuery: func(_ context.Context, _ string) ([]string, error) {
			return []string{"1.1.1", "1.1.1", "9.9", "1.2"}, nil
		},
	}
	uc := NewSearchUseCase(mustTaxonomy(t), &fakeEmbedder{}, classifier, &fakeVector{}, graph, &fakeRepo{}, SearchConfig{})

	if _, err := uc.Search(context.Background(), "vision", domain.ModeGraph, domain.SearchFilter{}, 10); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(traversed) != 2 || traversed[0] != "1.1.1" || traversed[1] != "1.2" {
		t.Fatalf("expected traversal of 1.1.1 and 1.2 only, got %v", traversed)
	}
}

func TestSearchEnforcesCategoryFilterContainment(t *testing.T) {
	filter := domain.SearchFilter{Category: "1"}
	vector := &fakeVector{
		query: func(_ context.Context, _ string, _ []float32, _ int, _ domain.SearchFilter) ([]ports.VectorHit, error) {
			// Stale payloads: d2 was reclassified to category 2 and d3 lost
			// its classification, but the index still returns both.
			return []ports.VectorHit{
				{Score: 0.9, Metadata: domain.VectorMetadata{ChunkID: "c1", DocumentID: "d1", Category: "1"}},
				{Score: 0.8, Metadata: domain.VectorMetadata{ChunkID: "c2", DocumentID: "d2", Category: "2"}},
				{Score: 0.7, Metadata: domain.VectorMetadata{ChunkID: "c3", DocumentID: "d3"}},
			}, nil
		},
	}
	uc := newSearchUC(t, vector, nil, nil)

	results, err := uc.Search(context.Background(), "vision", domain.ModeVector, filter, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 contained result, got %+v", results)
	}
	if results[0].DocumentID != "d1" || results[0].Category != "1" {
		t.Fatalf("unexpected surviving result %+v", results[0])
	}
}

func TestGraphSearchFallsBackToKeywordMentions(t *testing.T) {
	var mentioned []string
	graph := &fakeGraph{
		mentioning: func(_ context.Context, keyword string, _ int) ([]ports.GraphHit, error) {
			mentioned = append(mentioned, keyword)
			if keyword != "budget" {
				return nil, nil
			}
			return []ports.GraphHit{
				{ChunkID: "c1", DocumentID: "d1", Snippet: "budget table", Match: ports.MatchKeyword},
			}, nil
		},
	}
	classifier := &fakeClassifier{
		classifyQuery: func(_ context.Context, _ string) ([]string, error) {
			return nil, nil
		},
	}
	uc := NewSearchUseCase(mustTaxonomy(t), &fakeEmbedder{}, classifier, &fakeVector{}, graph, &fakeRepo{}, SearchConfig{})

	results, err := uc.Search(context.Background(), "Budget of IT budget", domain.ModeGraph, domain.SearchFilter{}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	// "of" is too short and "budget" repeats after lowercasing.
	if len(mentioned) != 1 || mentioned[0] != "budget" {
		t.Fatalf("mentioned terms = %v, want [budget]", mentioned)
	}
	if len(results) != 1 || results[0].ChunkID != "c1" {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].Score != 0.6 {
		t.Fatalf("keyword tier score = %v, want 0.6", results[0].Score)
	}
}

func TestKeywordsRequiresDocumentID(t *testing.T) {
	uc := newSearchUC(t, nil, nil, nil)
	if _, err := uc.Keywords(context.Background(), "  ", 5); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("Keywords() error = %v, want invalid input", err)
	}
}

func TestKeywordsDelegatesWithDefaultLimit(t *testing.T) {
	graph := &fakeGraph{
		keywords: func(_ context.Context, documentID string, limit int) ([]domain.Keyword, error) {
			if documentID != "d1" {
				t.Fatalf("unexpected document id %q", documentID)
			}
			if limit != 10 {
				t.Fatalf("expected default limit 10, got %d", limit)
			}
			return []domain.Keyword{{Text: "budget", Count: 3}}, nil
		},
	}
	uc := newSearchUC(t, nil, graph, nil)

	keywords, err := uc.Keywords(context.Background(), "d1", 0)
	if err != nil {
		t.Fatalf("Keywords() error = %v", err)
	}
	if len(keywords) != 1 || keywords[0].Text != "budget" || keywords[0].Count != 3 {
		t.Fatalf("unexpected keywords %+v", keywords)
	}
}

func TestEvidenceRejectsNonCriterionNumbers(t *testing.T) {
	uc := newSearchUC(t, nil, nil, nil)

	for _, number := range []string{"1", "1.1", "9.9.9", ""} {
		if _, err := uc.Evidence(context.Background(), number, 5); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("Evidence(%q) error = %v, want invalid input", number, err)
		}
	}
}

func TestEvidenceDelegatesForCriterion(t *testing.T) {
	graph := &fakeGraph{
		evidence: func(_ context.Context, number string, limit int) ([]domain.Evidence, error) {
			if number != "1.1.1" {
				t.Fatalf("unexpected criterion %q", number)
			}
			if limit != 10 {
				t.Fatalf("expected default limit 10, got %d", limit)
			}
			return []domain.Evidence{{ID: "e1", Name: "charter"}}, nil
		},
	}
	uc := newSearchUC(t, nil, graph, nil)

	items, err := uc.Evidence(context.Background(), "1.1.1", 0)
	if err != nil {
		t.Fatalf("Evidence() error = %v", err)
	}
	if len(items) != 1 || items[0].ID != "e1" {
		t.Fatalf("unexpected evidence %+v", items)
	}
}

func TestRelatedRequiresDocumentID(t *testing.T) {
	uc := newSearchUC(t, nil, nil, nil)
	if _, err := uc.Related(context.Background(), "  ", 0.5, 5); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("Related() error = %v, want invalid input", err)
	}
}
