package domain

import "time"

type SearchMode string

const (
	ModeVector SearchMode = "vector"
	ModeGraph  SearchMode = "graph"
	ModeHybrid SearchMode = "hybrid"
)

type ResultSource string

const (
	SourceVector ResultSource = "vector"
	SourceGraph  ResultSource = "graph"
	SourceBoth   ResultSource = "both"
)

type SearchFilter struct {
	Category string
}

// ScoredResult is one fused retrieval hit. ChunkID is empty for
// document-level hits; Score is always in [0,1].
type ScoredResult struct {
	ChunkID            string       `json:"chunk_id,omitempty"`
	DocumentID         string       `json:"document_id"`
	Snippet            string       `json:"snippet"`
	DocumentTitle      string       `json:"document_title"`
	DocumentPath       string       `json:"document_path"`
	Category           string       `json:"category,omitempty"`
	Subcategory        string       `json:"subcategory,omitempty"`
	Criterion          string       `json:"criterion,omitempty"`
	Score              float64      `json:"score"`
	Source             ResultSource `json:"source"`
	DocumentModifiedAt time.Time    `json:"-"`
}

// Key identifies a result across both backing stores: chunk id when present,
// else the owning document id.
func (r ScoredResult) Key() string {
	if r.ChunkID != "" {
		return r.ChunkID
	}
	return r.DocumentID
}

// VectorMetadata is the payload stored next to every vector entry. It must
// stay in lockstep with the graph node's classification outside the transient
// processing window.
type VectorMetadata struct {
	DocumentID  string    `json:"document_id"`
	ChunkID     string    `json:"chunk_id,omitempty"`
	Title       string    `json:"title"`
	Category    string    `json:"category,omitempty"`
	Subcategory string    `json:"subcategory,omitempty"`
	Criterion   string    `json:"criterion,omitempty"`
	Path        string    `json:"path"`
	StartOffset int       `json:"start_offset,omitempty"`
	EndOffset   int       `json:"end_offset,omitempty"`
	Text        string    `json:"text,omitempty"`
	ModifiedAt  time.Time `json:"modified_at"`
}

type Answer struct {
	Text    string         `json:"text"`
	Sources []ScoredResult `json:"sources"`
}
