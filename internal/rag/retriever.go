package rag

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// QueryEmbedder is the slice of Embedder the retriever needs.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever turns a user question into the ranked, budget-bounded
// context block for the prompt: embed the query, run the owner-scoped
// search, then pack chunks greedily under the character budget.
type Retriever struct {
	embedder QueryEmbedder
	index    Index
}

func NewRetriever(embedder QueryEmbedder, index Index) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve returns the selected chunks in rank order. An owner with no
// indexed chunks gets an empty result and no error; that is the normal
// "no knowledge yet" state and the caller tells the LLM so.
//
// Packing never truncates a chunk: one that cannot fit the whole budget
// on its own is skipped, and the first chunk that would overflow the
// remaining budget ends the scan.
func (r *Retriever) Retrieve(ctx context.Context, ownerID uint, query string, k, maxContextChars int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}
	if maxContextChars <= 0 {
		return nil, fmt.Errorf("%w: max context chars must be positive, got %d", ErrInvalidArgument, maxContextChars)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidArgument)
	}

	queryVector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	ranked, err := r.index.Search(ctx, ownerID, queryVector, k)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}

	selected := make([]ScoredChunk, 0, len(ranked))
	used := 0
	for _, candidate := range ranked {
		size := utf8.RuneCountInString(candidate.Chunk.Content)
		if size > maxContextChars {
			continue
		}
		if used+size > maxContextChars {
			break
		}
		selected = append(selected, candidate)
		used += size
	}
	return selected, nil
}
