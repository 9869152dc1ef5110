// Package vectorstore provides the chunk index implementations behind
// the rag.Index contract.
package vectorstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"docuchat/internal/model"
	"docuchat/internal/rag"
)

// MySQLIndex keeps chunks and their embeddings in the relational store.
// The owner filter is part of the candidate query itself, so no code
// path can score another user's chunks. Writes replace a document's
// chunk set inside one transaction, which is what makes half-ingested
// documents invisible to search.
type MySQLIndex struct {
	db        *gorm.DB
	dimension int
}

func NewMySQLIndex(db *gorm.DB, dimension int) *MySQLIndex {
	return &MySQLIndex{db: db, dimension: dimension}
}

func (idx *MySQLIndex) Write(ctx context.Context, documentID uint, chunks []model.Chunk) error {
	for i := range chunks {
		if chunks[i].DocumentID != documentID {
			return fmt.Errorf("%w: chunk %s does not belong to document %d", rag.ErrInvalidArgument, chunks[i].ID, documentID)
		}
		if vec := chunks[i].EmbeddingVector(); len(vec) != idx.dimension {
			return fmt.Errorf("%w: chunk %s has dimension %d, index expects %d", rag.ErrInvalidArgument, chunks[i].ID, len(vec), idx.dimension)
		}
	}

	err := idx.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error; err != nil {
			return fmt.Errorf("delete previous chunks failed: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}
		if err := tx.Create(&chunks).Error; err != nil {
			return fmt.Errorf("create chunks failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", rag.ErrStorage, err)
	}
	return nil
}

func (idx *MySQLIndex) Search(ctx context.Context, ownerID uint, queryVector []float32, k int) ([]rag.ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", rag.ErrInvalidArgument, k)
	}

	var candidates []model.Chunk
	if err := idx.db.WithContext(ctx).Where("user_id = ?", ownerID).Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("%w: list owned chunks failed: %v", rag.ErrStorage, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	results := rag.RankChunks(candidates, queryVector, k)
	if err := rag.VerifyOwnership(ownerID, results); err != nil {
		return nil, err
	}
	return results, nil
}

func (idx *MySQLIndex) Delete(ctx context.Context, documentID uint) error {
	if err := idx.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error; err != nil {
		return fmt.Errorf("%w: delete chunks by document failed: %v", rag.ErrStorage, err)
	}
	return nil
}
