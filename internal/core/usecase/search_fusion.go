package usecase

import (
	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
)

type fusedCandidate struct {
	result      domain.ScoredResult
	vectorScore float64
	graphScore  float64
	inVector    bool
	inGraph     bool
}

// fuseHybrid merges the two result sets keyed by chunk id (document id for
// document-level hits). Corroborated hits score alpha*vector+(1-alpha)*graph
// and are marked "both"; single-source hits keep their own score scaled by
// the cross-validation penalty beta. Ordering is fully deterministic.
func fuseHybrid(vector, graph []domain.ScoredResult, alpha, beta float64) []domain.ScoredResult {
	acc := make(map[string]*fusedCandidate, len(vector)+len(graph))

	for _, result := range vector {
		key := result.Key()
		candidate, ok := acc[key]
		if !ok {
			candidate = &fusedCandidate{result: result}
			acc[key] = candidate
		}
		candidate.result = preferRicherResult(candidate.result, result)
		if !candidate.inVector || result.Score > candidate.vectorScore {
			candidate.vectorScore = result.Score
		}
		candidate.inVector = true
	}

	for _, result := range graph {
		key := result.Key()
		candidate, ok := acc[key]
		if !ok {
			candidate = &fusedCandidate{result: result}
			acc[key] = candidate
		}
		candidate.result = preferRicherResult(candidate.result, result)
		if !candidate.inGraph || result.Score > candidate.graphScore {
			candidate.graphScore = result.Score
		}
		candidate.inGraph = true
	}

	out := make([]domain.ScoredResult, 0, len(acc))
	for _, candidate := range acc {
		result := candidate.result
		switch {
		case candidate.inVector && candidate.inGraph:
			result.Score = clamp01(alpha*candidate.vectorScore + (1-alpha)*candidate.graphScore)
			result.Source = domain.SourceBoth
		case candidate.inVector:
			result.Score = clamp01(candidate.vectorScore * beta)
			result.Source = domain.SourceVector
		default:
			result.Score = clamp01(candidate.graphScore * beta)
			result.Source = domain.SourceGraph
		}
		out = append(out, result)
	}

	sortResults(out)
	return out
}

// scoreGraphHit applies the structural relevance tiers: a direct
// classification match is 1.0, a descendant-taxonomy match 0.8, a keyword
// mention 0.6, and a RELATES_TO hop inherits the relation strength from its
// directly matched parent.
func scoreGraphHit(hit ports.GraphHit) domain.ScoredResult {
	var score float64
	switch hit.Match {
	case ports.MatchDirect:
		score = 1.0
	case ports.MatchDescendant:
		score = 0.8
	case ports.MatchKeyword:
		score = 0.6
	case ports.MatchRelated:
		score = clamp01(hit.Strength)
	}
	return domain.ScoredResult{
		ChunkID:            hit.ChunkID,
		DocumentID:         hit.DocumentID,
		Snippet:            snippet(hit.Snippet),
		DocumentTitle:      hit.DocumentTitle,
		DocumentPath:       hit.DocumentPath,
		Category:           hit.Category,
		Subcategory:        hit.Subcategory,
		Criterion:          hit.Criterion,
		Score:              score,
		Source:             domain.SourceGraph,
		DocumentModifiedAt: hit.DocumentModifiedAt,
	}
}

func preferRicherResult(current, candidate domain.ScoredResult) domain.ScoredResult {
	if current.DocumentID == "" && current.ChunkID == "" {
		return candidate
	}
	if current.Snippet == "" && candidate.Snippet != "" {
		current.Snippet = candidate.Snippet
	}
	if current.DocumentTitle == "" && candidate.DocumentTitle != "" {
		current.DocumentTitle = candidate.DocumentTitle
	}
	if current.DocumentPath == "" && candidate.DocumentPath != "" {
		current.DocumentPath = candidate.DocumentPath
	}
	if current.Category == "" && candidate.Category != "" {
		current.Category = candidate.Category
	}
	if current.Subcategory == "" && candidate.Subcategory != "" {
		current.Subcategory = candidate.Subcategory
	}
	if current.Criterion == "" && candidate.Criterion != "" {
		current.Criterion = candidate.Criterion
	}
	if current.DocumentModifiedAt.IsZero() && !candidate.DocumentModifiedAt.IsZero() {
		current.DocumentModifiedAt = candidate.DocumentModifiedAt
	}
	return current
}
