package rag

import (
	"context"
	"math"
	"sort"

	"docuchat/internal/model"
)

// ScoredChunk pairs a retrieved chunk with its similarity score. Results
// are ephemeral; nothing about a search is persisted.
type ScoredChunk struct {
	Chunk model.Chunk
	Score float32
}

// Index stores embedded chunks and answers owner-scoped nearest-neighbor
// queries. The owner filter lives inside Search, not on top of it: that
// is the single enforcement point for the isolation invariant, and it
// guarantees k results even when a user's corpus is small.
type Index interface {
	// Write replaces all chunks of a document atomically: search either
	// sees the previous chunk set or the new one, never a mix.
	Write(ctx context.Context, documentID uint, chunks []model.Chunk) error

	// Search returns up to k chunks owned by ownerID ranked by descending
	// cosine similarity, ties broken by lower sequence index then lower
	// chunk id. k <= 0 is ErrInvalidArgument; k beyond the owned corpus
	// just returns everything owned.
	Search(ctx context.Context, ownerID uint, queryVector []float32, k int) ([]ScoredChunk, error)

	// Delete removes all chunks of a document.
	Delete(ctx context.Context, documentID uint) error
}

// Cosine returns the cosine similarity of two vectors. Mismatched
// lengths or a zero-norm vector score 0 rather than NaN.
func Cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// RankChunks scores candidates against the query vector and returns the
// top k in the deterministic order the Index contract requires. Shared
// by the in-process index implementations.
func RankChunks(candidates []model.Chunk, queryVector []float32, k int) []ScoredChunk {
	scored := make([]ScoredChunk, 0, len(candidates))
	for i := range candidates {
		scored = append(scored, ScoredChunk{
			Chunk: candidates[i],
			Score: Cosine(queryVector, candidates[i].EmbeddingVector()),
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Chunk.SequenceIndex != scored[j].Chunk.SequenceIndex {
			return scored[i].Chunk.SequenceIndex < scored[j].Chunk.SequenceIndex
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

// VerifyOwnership fails loudly when any result belongs to another owner.
func VerifyOwnership(ownerID uint, results []ScoredChunk) error {
	for i := range results {
		if results[i].Chunk.UserID != ownerID {
			return ErrOwnershipViolation
		}
	}
	return nil
}
