package chunking

import "github.com/sirawit-k/pmqa-graphrag/internal/core/domain"

// Splitter cuts text into fixed-size sliding windows measured in runes.
// Offsets are rune positions into the source text and spans are emitted
// untrimmed, so re-splitting the same text always yields identical spans.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string) []domain.ChunkSpan {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]domain.ChunkSpan, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, domain.ChunkSpan{
			StartOffset: start,
			EndOffset:   end,
			Text:        string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return out
}
