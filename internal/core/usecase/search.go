package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
)

// SearchConfig carries the tunables of the fusion rule. Alpha weighs the
// vector signal against the graph signal for corroborated hits; Beta is the
// cross-validation penalty applied to single-source hits.
type SearchConfig struct {
	Alpha               float64
	Beta                float64
	DefaultLimit        int
	MaxLimit            int
	SideTimeout         time.Duration
	CandidateMultiplier int
	MaxQueryNodes       int
}

func (c SearchConfig) normalize() SearchConfig {
	out := c
	if out.Alpha <= 0 || out.Alpha >= 1 {
		out.Alpha = 0.5
	}
	if out.Beta <= 0 || out.Beta >= 1 {
		out.Beta = 0.85
	}
	if out.DefaultLimit <= 0 {
		out.DefaultLimit = 10
	}
	if out.MaxLimit <= 0 {
		out.MaxLimit = 50
	}
	if out.SideTimeout <= 0 {
		out.SideTimeout = 10 * time.Second
	}
	if out.CandidateMultiplier <= 0 {
		out.CandidateMultiplier = 2
	}
	if out.MaxQueryNodes <= 0 {
		out.MaxQueryNodes = 3
	}
	return out
}

// SearchObserver receives retrieval health signals: hybrid searches served
// from a single side and results excluded over cross-store inconsistencies.
// Implementations must be safe for concurrent use.
type SearchObserver interface {
	HybridDegraded(failedSide string)
	ResultsExcluded(count int)
}

// SearchUseCase is the hybrid retrieval engine: parallel vector and graph
// lookups, deterministic fusion, graceful single-source degradation.
type SearchUseCase struct {
	taxonomy   *domain.Taxonomy
	embedder   ports.Embedder
	classifier ports.Classifier
	vector     ports.VectorIndex
	graph      ports.GraphStore
	repo       ports.DocumentRepository
	observer   SearchObserver
	cfg        SearchConfig
}

func NewSearchUseCase(
	taxonomy *domain.Taxonomy,
	embedder ports.Embedder,
	classifier ports.Classifier,
	vector ports.VectorIndex,
	graph ports.GraphStore,
	repo ports.DocumentRepository,
	cfg SearchConfig,
) *SearchUseCase {
	return &SearchUseCase{
		taxonomy:   taxonomy,
		embedder:   embedder,
		classifier: classifier,
		vector:     vector,
		graph:      graph,
		repo:       repo,
		cfg:        cfg.normalize(),
	}
}

// WithObserver attaches a health-signal sink, usually the metrics registry.
func (uc *SearchUseCase) WithObserver(observer SearchObserver) *SearchUseCase {
	uc.observer = observer
	return uc
}

func (uc *SearchUseCase) Search(
	ctx context.Context,
	query string,
	mode domain.SearchMode,
	filter domain.SearchFilter,
	limit int,
) ([]domain.ScoredResult, error) {
	mode, limit, err := uc.validate(query, mode, filter, limit)
	if err != nil {
		return nil, err
	}

	var results []domain.ScoredResult
	switch mode {
	case domain.ModeVector:
		results, err = uc.vectorSearch(ctx, query, filter, limit)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
	case domain.ModeGraph:
		results, err = uc.graphSearch(ctx, query, filter, limit)
		if err != nil {
			return nil, fmt.Errorf("graph search: %w", err)
		}
	case domain.ModeHybrid:
		results, err = uc.hybridSearch(ctx, query, filter, limit)
		if err != nil {
			return nil, err
		}
	}

	// The backends filter on their own copies of the taxonomy labels, which
	// can lag the repository after reclassification. Re-check containment on
	// the fused set so stale payload metadata cannot leak past the filter.
	results = enforceFilter(results, filter)

	results, err = uc.dropUnprocessed(ctx, results)
	if err != nil {
		return nil, err
	}
	return trimResults(results, limit), nil
}

func enforceFilter(results []domain.ScoredResult, filter domain.SearchFilter) []domain.ScoredResult {
	if filter.Category == "" {
		return results
	}
	out := results[:0]
	for _, result := range results {
		if result.Category == filter.Category {
			out = append(out, result)
		}
	}
	return out
}

func (uc *SearchUseCase) validate(
	query string,
	mode domain.SearchMode,
	filter domain.SearchFilter,
	limit int,
) (domain.SearchMode, int, error) {
	if strings.TrimSpace(query) == "" {
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("empty query text"))
	}
	if limit < 0 {
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("negative limit %d", limit))
	}
	if limit == 0 {
		limit = uc.cfg.DefaultLimit
	}
	if limit > uc.cfg.MaxLimit {
		limit = uc.cfg.MaxLimit
	}
	if mode == "" {
		mode = domain.ModeHybrid
	}
	switch mode {
	case domain.ModeVector, domain.ModeGraph, domain.ModeHybrid:
	default:
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("unknown search mode %q", mode))
	}
	if filter.Category != "" && !uc.taxonomy.Contains(filter.Category) {
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("unknown taxonomy filter %q", filter.Category))
	}
	return mode, limit, nil
}

func (uc *SearchUseCase) vectorSearch(
	ctx context.Context,
	query string,
	filter domain.SearchFilter,
	limit int,
) ([]domain.ScoredResult, error) {
	queryVector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := uc.vector.Query(ctx, CollectionChunks, queryVector, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}

	out := make([]domain.ScoredResult, 0, len(hits))
	for _, hit := range hits {
		out = append(out, domain.ScoredResult{
			ChunkID:            hit.Metadata.ChunkID,
			DocumentID:         hit.Metadata.DocumentID,
			Snippet:            snippet(hit.Metadata.Text),
			DocumentTitle:      hit.Metadata.Title,
			DocumentPath:       hit.Metadata.Path,
			Category:           hit.Metadata.Category,
			Subcategory:        hit.Metadata.Subcategory,
			Criterion:          hit.Metadata.Criterion,
			Score:              normalizeCosine(hit.Score),
			Source:             domain.SourceVector,
			DocumentModifiedAt: hit.Metadata.ModifiedAt,
		})
	}
	sortResults(out)
	return out, nil
}

func (uc *SearchUseCase) graphSearch(
	ctx context.Context,
	query string,
	filter domain.SearchFilter,
	limit int,
) ([]domain.ScoredResult, error) {
	numbers, err := uc.classifier.ClassifyQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("classify query: %w", err)
	}
	if filter.Category != "" {
		numbers = append(numbers, filter.Category)
	}
	numbers = uc.knownNumbers(numbers)
	if len(numbers) == 0 {
		return uc.keywordSearch(ctx, query, limit)
	}

	best := make(map[string]domain.ScoredResult)
	for _, number := range numbers {
		hits, err := uc.graph.TraverseTaxonomy(ctx, number, filter, limit)
		if err != nil {
			return nil, fmt.Errorf("traverse taxonomy %s: %w", number, err)
		}
		for _, hit := range hits {
			result := scoreGraphHit(hit)
			if prev, ok := best[result.Key()]; !ok || result.Score > prev.Score {
				best[result.Key()] = result
			}
		}
	}

	out := make([]domain.ScoredResult, 0, len(best))
	for _, result := range best {
		out = append(out, result)
	}
	sortResults(out)
	return trimResults(out, limit), nil
}

// keywordSearch is the graph-side fallback for queries that route to no
// taxonomy node: match chunks through the keyword terms they mention.
func (uc *SearchUseCase) keywordSearch(
	ctx context.Context,
	query string,
	limit int,
) ([]domain.ScoredResult, error) {
	best := make(map[string]domain.ScoredResult)
	for _, term := range keywordTerms(query, uc.cfg.MaxQueryNodes) {
		hits, err := uc.graph.ChunksMentioning(ctx, term, limit)
		if err != nil {
			return nil, fmt.Errorf("chunks mentioning %q: %w", term, err)
		}
		for _, hit := range hits {
			result := scoreGraphHit(hit)
			if prev, ok := best[result.Key()]; !ok || result.Score > prev.Score {
				best[result.Key()] = result
			}
		}
	}

	out := make([]domain.ScoredResult, 0, len(best))
	for _, result := range best {
		out = append(out, result)
	}
	sortResults(out)
	return trimResults(out, limit), nil
}

// keywordTerms lowercases and deduplicates the query's terms, skipping ones
// shorter than three runes.
func keywordTerms(query string, max int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if len([]rune(term)) < 3 {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
		if len(out) == max {
			break
		}
	}
	return out
}

// hybridSearch fans out to both stores concurrently and fuses. One failed
// side degrades to single-source scoring; the call fails only when both
// sides are unavailable.
func (uc *SearchUseCase) hybridSearch(
	ctx context.Context,
	query string,
	filter domain.SearchFilter,
	limit int,
) ([]domain.ScoredResult, error) {
	candidates := limit * uc.cfg.CandidateMultiplier

	type sideResult struct {
		results []domain.ScoredResult
		err     error
	}
	vectorCh := make(chan sideResult, 1)
	graphCh := make(chan sideResult, 1)

	go func() {
		sideCtx, cancel := context.WithTimeout(ctx, uc.cfg.SideTimeout)
		defer cancel()
		results, err := uc.vectorSearch(sideCtx, query, filter, candidates)
		vectorCh <- sideResult{results: results, err: err}
	}()
	go func() {
		sideCtx, cancel := context.WithTimeout(ctx, uc.cfg.SideTimeout)
		defer cancel()
		results, err := uc.graphSearch(sideCtx, query, filter, candidates)
		graphCh <- sideResult{results: results, err: err}
	}()

	vectorSide := <-vectorCh
	graphSide := <-graphCh

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if vectorSide.err != nil && graphSide.err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "hybrid search",
			fmt.Errorf("vector: %v; graph: %v", vectorSide.err, graphSide.err))
	}
	if vectorSide.err != nil {
		slog.Warn("hybrid_search_degraded", "side", "vector", "error", vectorSide.err)
		if uc.observer != nil {
			uc.observer.HybridDegraded("vector")
		}
		vectorSide.results = nil
	}
	if graphSide.err != nil {
		slog.Warn("hybrid_search_degraded", "side", "graph", "error", graphSide.err)
		if uc.observer != nil {
			uc.observer.HybridDegraded("graph")
		}
		graphSide.results = nil
	}

	return fuseHybrid(vectorSide.results, graphSide.results, uc.cfg.Alpha, uc.cfg.Beta), nil
}

// dropUnprocessed enforces that search never returns content of documents
// that are deleted or not fully processed. A hit whose document is missing
// from the metadata store is a cross-store inconsistency: it is excluded and
// logged, never surfaced as an error.
func (uc *SearchUseCase) dropUnprocessed(ctx context.Context, results []domain.ScoredResult) ([]domain.ScoredResult, error) {
	if len(results) == 0 {
		return results, nil
	}

	seen := make(map[string]struct{}, len(results))
	ids := make([]string, 0, len(results))
	for _, result := range results {
		if _, ok := seen[result.DocumentID]; ok {
			continue
		}
		seen[result.DocumentID] = struct{}{}
		ids = append(ids, result.DocumentID)
	}

	statuses, err := uc.repo.StatusesByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("check document statuses: %w", err)
	}

	excluded := 0
	out := results[:0]
	for _, result := range results {
		status, ok := statuses[result.DocumentID]
		if !ok {
			slog.Warn("consistency_violation_result_excluded",
				"document_id", result.DocumentID,
				"chunk_id", result.ChunkID,
				"error", domain.ErrConsistency,
			)
			excluded++
			continue
		}
		if status != domain.StatusProcessed {
			continue
		}
		out = append(out, result)
	}
	if excluded > 0 && uc.observer != nil {
		uc.observer.ResultsExcluded(excluded)
	}
	return out, nil
}

func (uc *SearchUseCase) knownNumbers(numbers []string) []string {
	seen := make(map[string]struct{}, len(numbers))
	out := make([]string, 0, len(numbers))
	for _, number := range numbers {
		if len(out) == uc.cfg.MaxQueryNodes {
			break
		}
		if _, dup := seen[number]; dup || !uc.taxonomy.Contains(number) {
			continue
		}
		seen[number] = struct{}{}
		out = append(out, number)
	}
	return out
}

// Evidence lists curated proof items for one criterion.
func (uc *SearchUseCase) Evidence(ctx context.Context, number string, limit int) ([]domain.Evidence, error) {
	node, ok := uc.taxonomy.ByNumber(number)
	if !ok || node.Level != domain.LevelCriterion {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list evidence", fmt.Errorf("unknown criterion %q", number))
	}
	if limit <= 0 {
		limit = uc.cfg.DefaultLimit
	}
	return uc.graph.EvidenceForCriterion(ctx, number, limit)
}

// Keywords lists the terms a document's chunks mention, most frequent first.
func (uc *SearchUseCase) Keywords(ctx context.Context, documentID string, limit int) ([]domain.Keyword, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list keywords", fmt.Errorf("empty document id"))
	}
	if limit <= 0 {
		limit = uc.cfg.DefaultLimit
	}
	return uc.graph.DocumentKeywords(ctx, documentID, limit)
}

// Related lists topically related documents regardless of classification.
func (uc *SearchUseCase) Related(ctx context.Context, documentID string, minStrength float64, limit int) ([]domain.RelatedDocument, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list related", fmt.Errorf("empty document id"))
	}
	if limit <= 0 {
		limit = uc.cfg.DefaultLimit
	}
	return uc.graph.RelatedDocuments(ctx, documentID, minStrength, limit)
}

func snippet(text string) string {
	const maxRunes = 500
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes])
}

// normalizeCosine maps cosine similarity from [-1,1] into [0,1].
func normalizeCosine(score float64) float64 {
	return clamp01((score + 1) / 2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func trimResults(results []domain.ScoredResult, limit int) []domain.ScoredResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

func sortResults(results []domain.ScoredResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].DocumentModifiedAt.Equal(results[j].DocumentModifiedAt) {
			return results[i].DocumentModifiedAt.After(results[j].DocumentModifiedAt)
		}
		return results[i].Key() < results[j].Key()
	})
}
