package usecase

import (
	"context"
	"fmt"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
)

// AnswerUseCase is the thin assembler in front of the external completion
// service: hybrid search, then hand the fused evidence to the generator.
type AnswerUseCase struct {
	search    ports.SearchService
	generator ports.AnswerGenerator
}

func NewAnswerUseCase(search ports.SearchService, generator ports.AnswerGenerator) *AnswerUseCase {
	return &AnswerUseCase{search: search, generator: generator}
}

func (uc *AnswerUseCase) Answer(
	ctx context.Context,
	question string,
	filter domain.SearchFilter,
	limit int,
) (*domain.Answer, error) {
	results, err := uc.search.Search(ctx, question, domain.ModeHybrid, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieve evidence: %w", err)
	}

	text, err := uc.generator.GenerateAnswer(ctx, question, results)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &domain.Answer{Text: text, Sources: results}, nil
}
