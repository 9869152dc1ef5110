package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuchat/internal/model"
	"docuchat/internal/rag"
)

func makeChunk(docID, userID uint, seq int, vec []float32) model.Chunk {
	chunk := model.Chunk{
		ID:            model.ChunkID(docID, seq),
		DocumentID:    docID,
		UserID:        userID,
		SequenceIndex: seq,
		Content:       "content",
	}
	chunk.SetEmbedding(vec)
	return chunk
}

func TestMemoryIndex_SearchIsOwnerScoped(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)

	require.NoError(t, idx.Write(ctx, 1, []model.Chunk{
		makeChunk(1, 100, 0, []float32{1, 0}),
		makeChunk(1, 100, 1, []float32{0.9, 0.1}),
	}))
	require.NoError(t, idx.Write(ctx, 2, []model.Chunk{
		makeChunk(2, 200, 0, []float32{1, 0}),
	}))

	results, err := idx.Search(ctx, 100, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, uint(100), r.Chunk.UserID)
	}

	// A user with no chunks gets nothing, even though the index holds
	// perfectly matching vectors for someone else.
	results, err = idx.Search(ctx, 300, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryIndex_SearchRejectsNonPositiveK(t *testing.T) {
	idx := NewMemoryIndex(2)
	_, err := idx.Search(context.Background(), 1, []float32{1, 0}, 0)
	assert.ErrorIs(t, err, rag.ErrInvalidArgument)
}

func TestMemoryIndex_KBeyondCorpusReturnsAll(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)
	require.NoError(t, idx.Write(ctx, 1, []model.Chunk{
		makeChunk(1, 100, 0, []float32{1, 0}),
	}))

	results, err := idx.Search(ctx, 100, []float32{1, 0}, 50)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestMemoryIndex_WriteValidatesChunks(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)

	err := idx.Write(ctx, 1, []model.Chunk{makeChunk(2, 100, 0, []float32{1, 0})})
	assert.ErrorIs(t, err, rag.ErrInvalidArgument)

	err = idx.Write(ctx, 1, []model.Chunk{makeChunk(1, 100, 0, []float32{1, 0, 0})})
	assert.ErrorIs(t, err, rag.ErrInvalidArgument)
}

func TestMemoryIndex_WriteReplacesDocumentChunks(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)

	require.NoError(t, idx.Write(ctx, 1, []model.Chunk{
		makeChunk(1, 100, 0, []float32{1, 0}),
		makeChunk(1, 100, 1, []float32{1, 0}),
		makeChunk(1, 100, 2, []float32{1, 0}),
	}))
	require.NoError(t, idx.Write(ctx, 1, []model.Chunk{
		makeChunk(1, 100, 0, []float32{0, 1}),
	}))

	results, err := idx.Search(ctx, 100, []float32{0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.ChunkID(1, 0), results[0].Chunk.ID)
}

func TestMemoryIndex_EmptyWriteClearsDocument(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)

	require.NoError(t, idx.Write(ctx, 1, []model.Chunk{
		makeChunk(1, 100, 0, []float32{1, 0}),
	}))
	require.NoError(t, idx.Write(ctx, 1, nil))

	results, err := idx.Search(ctx, 100, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryIndex_Delete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)

	require.NoError(t, idx.Write(ctx, 1, []model.Chunk{
		makeChunk(1, 100, 0, []float32{1, 0}),
	}))
	require.NoError(t, idx.Write(ctx, 2, []model.Chunk{
		makeChunk(2, 100, 0, []float32{1, 0}),
	}))
	require.NoError(t, idx.Delete(ctx, 1))

	results, err := idx.Search(ctx, 100, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint(2), results[0].Chunk.DocumentID)
}

func TestMemoryIndex_DeterministicTieOrder(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)

	require.NoError(t, idx.Write(ctx, 1, []model.Chunk{
		makeChunk(1, 100, 1, []float32{1, 0}),
		makeChunk(1, 100, 0, []float32{1, 0}),
	}))

	for i := 0; i < 5; i++ {
		results, err := idx.Search(ctx, 100, []float32{1, 0}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, 0, results[0].Chunk.SequenceIndex)
		assert.Equal(t, 1, results[1].Chunk.SequenceIndex)
	}
}
