package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuchat/internal/model"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vector, s.err
}

type stubIndex struct {
	results []ScoredChunk
	err     error
}

func (s *stubIndex) Write(ctx context.Context, documentID uint, chunks []model.Chunk) error {
	return nil
}

func (s *stubIndex) Search(ctx context.Context, ownerID uint, queryVector []float32, k int) ([]ScoredChunk, error) {
	return s.results, s.err
}

func (s *stubIndex) Delete(ctx context.Context, documentID uint) error {
	return nil
}

func scoredChunk(seq int, content string, score float32) ScoredChunk {
	return ScoredChunk{
		Chunk: model.Chunk{
			ID:            model.ChunkID(1, seq),
			DocumentID:    1,
			UserID:        7,
			SequenceIndex: seq,
			Content:       content,
		},
		Score: score,
	}
}

func TestRetriever_ValidatesArguments(t *testing.T) {
	r := NewRetriever(&stubEmbedder{vector: []float32{1}}, &stubIndex{})

	_, err := r.Retrieve(context.Background(), 7, "question", 0, 100)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = r.Retrieve(context.Background(), 7, "question", 5, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = r.Retrieve(context.Background(), 7, "   ", 5, 100)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRetriever_EmptyCorpus(t *testing.T) {
	r := NewRetriever(&stubEmbedder{vector: []float32{1}}, &stubIndex{})

	selected, err := r.Retrieve(context.Background(), 7, "question", 5, 100)
	require.NoError(t, err)
	assert.Empty(t, selected)
}

func TestRetriever_EmbedErrorPropagates(t *testing.T) {
	embedErr := errors.New("provider down")
	r := NewRetriever(&stubEmbedder{err: embedErr}, &stubIndex{})

	_, err := r.Retrieve(context.Background(), 7, "question", 5, 100)
	assert.ErrorIs(t, err, embedErr)
}

func TestRetriever_PacksUnderBudget(t *testing.T) {
	idx := &stubIndex{results: []ScoredChunk{
		scoredChunk(0, strings.Repeat("a", 200), 0.9),
		scoredChunk(1, strings.Repeat("b", 300), 0.8),
		scoredChunk(2, strings.Repeat("c", 100), 0.7),
	}}
	r := NewRetriever(&stubEmbedder{vector: []float32{1}}, idx)

	// 200 + 300 fill the budget exactly; the third chunk would overflow
	// and ends the scan.
	selected, err := r.Retrieve(context.Background(), 7, "question", 5, 500)
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, 0, selected[0].Chunk.SequenceIndex)
	assert.Equal(t, 1, selected[1].Chunk.SequenceIndex)
}

func TestRetriever_SkipsChunkLargerThanBudget(t *testing.T) {
	idx := &stubIndex{results: []ScoredChunk{
		scoredChunk(0, strings.Repeat("a", 600), 0.9),
		scoredChunk(1, strings.Repeat("b", 200), 0.8),
	}}
	r := NewRetriever(&stubEmbedder{vector: []float32{1}}, idx)

	selected, err := r.Retrieve(context.Background(), 7, "question", 5, 500)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, 1, selected[0].Chunk.SequenceIndex)
}

func TestRetriever_NeverTruncatesChunks(t *testing.T) {
	idx := &stubIndex{results: []ScoredChunk{
		scoredChunk(0, strings.Repeat("a", 400), 0.9),
		scoredChunk(1, strings.Repeat("b", 400), 0.8),
	}}
	r := NewRetriever(&stubEmbedder{vector: []float32{1}}, idx)

	selected, err := r.Retrieve(context.Background(), 7, "question", 5, 500)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Len(t, selected[0].Chunk.Content, 400)
}
