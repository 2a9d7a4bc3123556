// Package openaiapi is the hosted-model alternative to the local Ollama
// provider. It serves the same embedding, classification, and answer ports
// through the OpenAI-compatible chat and embeddings APIs.
package openaiapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/llm/prompt"
)

type Config struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type Provider struct {
	client     *openai.Client
	chatModel  string
	embedModel string
	taxonomy   *domain.Taxonomy
}

func New(cfg Config, taxonomy *domain.Taxonomy) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}
	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = string(openai.SmallEmbedding3)
	}

	return &Provider{
		client:     openai.NewClientWithConfig(clientConfig),
		chatModel:  chatModel,
		embedModel: embedModel,
		taxonomy:   taxonomy,
	}, nil
}

func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.embedModel),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		out[item.Index] = item.Embedding
	}
	return out, nil
}

func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

func (p *Provider) ClassifyChunk(ctx context.Context, text string) (domain.ChunkClassification, error) {
	raw, err := p.completeJSON(ctx, prompt.ChunkClassification(p.taxonomy, text))
	if err != nil {
		return domain.ChunkClassification{}, err
	}

	var result domain.ChunkClassification
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return domain.ChunkClassification{}, fmt.Errorf("parse chunk classification json: %w", err)
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	if result.Keywords == nil {
		result.Keywords = []string{}
	}
	return result, nil
}

func (p *Provider) ClassifyQuery(ctx context.Context, text string) ([]string, error) {
	raw, err := p.completeJSON(ctx, prompt.QueryRouting(p.taxonomy, text))
	if err != nil {
		return nil, err
	}

	var result struct {
		Numbers []string `json:"numbers"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse query routing json: %w", err)
	}
	return result.Numbers, nil
}

func (p *Provider) GenerateAnswer(ctx context.Context, question string, results []domain.ScoredResult) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt.Answer(question, results)},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (p *Provider) completeJSON(ctx context.Context, promptText string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: promptText},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
