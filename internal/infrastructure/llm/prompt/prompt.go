// Package prompt holds the model prompts shared by the LLM providers so that
// switching providers never changes classification or answer behavior.
package prompt

import (
	"fmt"
	"strings"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
)

const maxClassificationSnippet = 4000

func ChunkClassification(taxonomy *domain.Taxonomy, text string) string {
	snippet := text
	if len(snippet) > maxClassificationSnippet {
		snippet = snippet[:maxClassificationSnippet]
	}

	return `You are a quality-criteria classifier.
Assign the text to exactly one node from the list below, preferring the most
specific node that clearly applies.
Return strict JSON object with keys:
number (string, a node number from the list), confidence (number from 0 to 1),
keywords (array of strings, the terms that justify the choice).
No markdown, no extra keys.

Nodes:
` + renderTaxonomy(taxonomy) + `

Text:
` + snippet
}

func QueryRouting(taxonomy *domain.Taxonomy, query string) string {
	return `You are a query router for a quality-criteria knowledge base.
Pick the node numbers from the list below that the question concerns, most
relevant first. Return strict JSON object with one key:
numbers (array of strings). Return an empty array if nothing fits.
No markdown, no extra keys.

Nodes:
` + renderTaxonomy(taxonomy) + `

Question:
` + query
}

func Answer(question string, results []domain.ScoredResult) string {
	var contextBuilder strings.Builder
	for idx, result := range results {
		contextBuilder.WriteString(fmt.Sprintf(
			"[%d] document=%s criterion=%s score=%.3f\n%s\n\n",
			idx+1,
			result.DocumentTitle,
			result.Criterion,
			result.Score,
			result.Snippet,
		))
	}

	return fmt.Sprintf(`Answer user question only from context below.
If context is insufficient, say it directly.

Question:
%s

Context:
%s
`, question, contextBuilder.String())
}

func renderTaxonomy(taxonomy *domain.Taxonomy) string {
	var b strings.Builder
	for _, node := range taxonomy.Nodes() {
		b.WriteString(node.Number)
		b.WriteString(" ")
		b.WriteString(node.Name)
		if node.Description != "" {
			b.WriteString(": ")
			b.WriteString(node.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}
