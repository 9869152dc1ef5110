package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Chunk stores one passage of a document together with its embedding.
// The primary key is derived from document id + sequence index, so
// re-ingesting a document overwrites its chunks instead of duplicating
// them. Embedding is stored as a JSON array of float32 for portability.
type Chunk struct {
	ID             string    `gorm:"primaryKey;size:32" json:"id"`
	DocumentID     uint      `gorm:"not null;index" json:"document_id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"` // denormalized owner for scoped search
	SequenceIndex  int       `gorm:"not null" json:"sequence_index"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Embedding      string    `gorm:"type:text" json:"-"` // JSON array of float32
	EmbeddingModel string    `gorm:"size:128" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChunkID derives the deterministic chunk key for a document position.
func ChunkID(documentID uint, sequenceIndex int) string {
	return fmt.Sprintf("d%d:%d", documentID, sequenceIndex)
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (c *Chunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

// SetEmbedding stores the embedding as JSON.
func (c *Chunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}
