package vectorstore

import (
	"context"
	"fmt"
	"os"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"docuchat/internal/model"
	"docuchat/internal/rag"
)

const chromemCollection = "chunks"

// ChromemIndex stores chunks in an embedded chromem-go database that
// persists to disk, for deployments without a vector-capable relational
// store. Owner scoping uses chromem's metadata `where` filter, so the
// filter runs inside the nearest-neighbor query, same as the MySQL
// backend. Unlike MySQL it has no transactions; the delete-then-add in
// Write has a brief window and the relational backend remains the
// default for multi-writer setups.
type ChromemIndex struct {
	collection *chromem.Collection
	dimension  int
}

func NewChromemIndex(path string, dimension int) (*ChromemIndex, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create chromem directory failed: %w", err)
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db failed: %w", err)
	}

	// Vectors always arrive precomputed; the embedding func only exists
	// because the collection API requires one.
	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem index only accepts precomputed embeddings")
	}
	collection, err := db.GetOrCreateCollection(chromemCollection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("open chromem collection failed: %w", err)
	}
	return &ChromemIndex{collection: collection, dimension: dimension}, nil
}

func (idx *ChromemIndex) Write(ctx context.Context, documentID uint, chunks []model.Chunk) error {
	docs := make([]chromem.Document, len(chunks))
	for i := range chunks {
		if chunks[i].DocumentID != documentID {
			return fmt.Errorf("%w: chunk %s does not belong to document %d", rag.ErrInvalidArgument, chunks[i].ID, documentID)
		}
		vec := chunks[i].EmbeddingVector()
		if len(vec) != idx.dimension {
			return fmt.Errorf("%w: chunk %s has dimension %d, index expects %d", rag.ErrInvalidArgument, chunks[i].ID, len(vec), idx.dimension)
		}
		docs[i] = chromem.Document{
			ID:        chunks[i].ID,
			Content:   chunks[i].Content,
			Embedding: vec,
			Metadata: map[string]string{
				"user_id":        strconv.FormatUint(uint64(chunks[i].UserID), 10),
				"document_id":    strconv.FormatUint(uint64(documentID), 10),
				"sequence_index": strconv.Itoa(chunks[i].SequenceIndex),
			},
		}
	}

	if err := idx.Delete(ctx, documentID); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	if err := idx.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("%w: add chunks failed: %v", rag.ErrStorage, err)
	}
	return nil
}

func (idx *ChromemIndex) Search(ctx context.Context, ownerID uint, queryVector []float32, k int) ([]rag.ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", rag.ErrInvalidArgument, k)
	}

	// chromem rejects nResults larger than the collection.
	total := idx.collection.Count()
	if total == 0 {
		return nil, nil
	}
	n := k
	if n > total {
		n = total
	}

	where := map[string]string{"user_id": strconv.FormatUint(uint64(ownerID), 10)}
	results, err := idx.collection.QueryEmbedding(ctx, queryVector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: chromem query failed: %v", rag.ErrStorage, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	candidates := make([]model.Chunk, 0, len(results))
	for _, r := range results {
		chunk, convErr := chunkFromChromem(r)
		if convErr != nil {
			return nil, fmt.Errorf("%w: %v", rag.ErrStorage, convErr)
		}
		candidates = append(candidates, chunk)
	}

	// Re-rank locally so tie ordering matches the index contract.
	ranked := rag.RankChunks(candidates, queryVector, k)
	if err := rag.VerifyOwnership(ownerID, ranked); err != nil {
		return nil, err
	}
	return ranked, nil
}

func (idx *ChromemIndex) Delete(ctx context.Context, documentID uint) error {
	where := map[string]string{"document_id": strconv.FormatUint(uint64(documentID), 10)}
	if err := idx.collection.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("%w: delete chunks by document failed: %v", rag.ErrStorage, err)
	}
	return nil
}

func chunkFromChromem(r chromem.Result) (model.Chunk, error) {
	userID, err := strconv.ParseUint(r.Metadata["user_id"], 10, 64)
	if err != nil {
		return model.Chunk{}, fmt.Errorf("chunk %s has bad user_id metadata: %w", r.ID, err)
	}
	documentID, err := strconv.ParseUint(r.Metadata["document_id"], 10, 64)
	if err != nil {
		return model.Chunk{}, fmt.Errorf("chunk %s has bad document_id metadata: %w", r.ID, err)
	}
	seq, err := strconv.Atoi(r.Metadata["sequence_index"])
	if err != nil {
		return model.Chunk{}, fmt.Errorf("chunk %s has bad sequence_index metadata: %w", r.ID, err)
	}

	chunk := model.Chunk{
		ID:            r.ID,
		DocumentID:    uint(documentID),
		UserID:        uint(userID),
		SequenceIndex: seq,
		Content:       r.Content,
	}
	chunk.SetEmbedding(r.Embedding)
	return chunk, nil
}
