package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"docuchat/internal/model"
	"docuchat/internal/rag"
)

// MemoryIndex is a brute-force in-process index. It backs tests and
// single-node local runs; chunks are grouped by document so a Write is
// a plain map assignment under the lock, which makes it atomic.
type MemoryIndex struct {
	mu         sync.RWMutex
	dimension  int
	byDocument map[uint][]model.Chunk
}

func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{
		dimension:  dimension,
		byDocument: make(map[uint][]model.Chunk),
	}
}

func (idx *MemoryIndex) Write(ctx context.Context, documentID uint, chunks []model.Chunk) error {
	for i := range chunks {
		if chunks[i].DocumentID != documentID {
			return fmt.Errorf("%w: chunk %s does not belong to document %d", rag.ErrInvalidArgument, chunks[i].ID, documentID)
		}
		if vec := chunks[i].EmbeddingVector(); len(vec) != idx.dimension {
			return fmt.Errorf("%w: chunk %s has dimension %d, index expects %d", rag.ErrInvalidArgument, chunks[i].ID, len(vec), idx.dimension)
		}
	}

	copied := make([]model.Chunk, len(chunks))
	copy(copied, chunks)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(copied) == 0 {
		delete(idx.byDocument, documentID)
		return nil
	}
	idx.byDocument[documentID] = copied
	return nil
}

func (idx *MemoryIndex) Search(ctx context.Context, ownerID uint, queryVector []float32, k int) ([]rag.ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", rag.ErrInvalidArgument, k)
	}

	idx.mu.RLock()
	var candidates []model.Chunk
	for _, chunks := range idx.byDocument {
		for i := range chunks {
			if chunks[i].UserID == ownerID {
				candidates = append(candidates, chunks[i])
			}
		}
	}
	idx.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, nil
	}
	results := rag.RankChunks(candidates, queryVector, k)
	if err := rag.VerifyOwnership(ownerID, results); err != nil {
		return nil, err
	}
	return results, nil
}

func (idx *MemoryIndex) Delete(ctx context.Context, documentID uint) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.byDocument, documentID)
	return nil
}
