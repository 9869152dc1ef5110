package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuchat/internal/model"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{1, 0}), 1e-6)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-6)

	// Zero-norm vectors score 0 instead of NaN.
	assert.Equal(t, float32(0), Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, float32(0), Cosine(nil, nil))
	assert.Equal(t, float32(0), Cosine([]float32{1}, []float32{1, 0}))
}

func newTestChunk(docID uint, seq int, vec []float32) model.Chunk {
	chunk := model.Chunk{
		ID:            model.ChunkID(docID, seq),
		DocumentID:    docID,
		UserID:        1,
		SequenceIndex: seq,
	}
	chunk.SetEmbedding(vec)
	return chunk
}

func TestRankChunks_OrdersByScore(t *testing.T) {
	candidates := []model.Chunk{
		newTestChunk(1, 0, []float32{0, 1}),
		newTestChunk(1, 1, []float32{1, 0}),
		newTestChunk(1, 2, []float32{0.7, 0.7}),
	}

	ranked := RankChunks(candidates, []float32{1, 0}, 3)
	require.Len(t, ranked, 3)
	assert.Equal(t, 1, ranked[0].Chunk.SequenceIndex)
	assert.Equal(t, 2, ranked[1].Chunk.SequenceIndex)
	assert.Equal(t, 0, ranked[2].Chunk.SequenceIndex)
}

func TestRankChunks_TieBreaksBySequenceThenID(t *testing.T) {
	// Identical embeddings produce identical scores; order must still be
	// deterministic.
	candidates := []model.Chunk{
		newTestChunk(2, 3, []float32{1, 0}),
		newTestChunk(1, 3, []float32{1, 0}),
		newTestChunk(1, 1, []float32{1, 0}),
	}

	ranked := RankChunks(candidates, []float32{1, 0}, 3)
	require.Len(t, ranked, 3)
	assert.Equal(t, model.ChunkID(1, 1), ranked[0].Chunk.ID)
	assert.Equal(t, model.ChunkID(1, 3), ranked[1].Chunk.ID)
	assert.Equal(t, model.ChunkID(2, 3), ranked[2].Chunk.ID)
}

func TestRankChunks_TruncatesToK(t *testing.T) {
	candidates := []model.Chunk{
		newTestChunk(1, 0, []float32{1, 0}),
		newTestChunk(1, 1, []float32{0.9, 0.1}),
		newTestChunk(1, 2, []float32{0, 1}),
	}

	ranked := RankChunks(candidates, []float32{1, 0}, 2)
	assert.Len(t, ranked, 2)
}

func TestVerifyOwnership(t *testing.T) {
	owned := ScoredChunk{Chunk: model.Chunk{UserID: 1}}
	foreign := ScoredChunk{Chunk: model.Chunk{UserID: 2}}

	assert.NoError(t, VerifyOwnership(1, []ScoredChunk{owned}))
	assert.ErrorIs(t, VerifyOwnership(1, []ScoredChunk{owned, foreign}), ErrOwnershipViolation)
}
