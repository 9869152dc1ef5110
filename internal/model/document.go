package model

import "time"

// Document statuses. A document is created as pending, and only the
// ingestion pipeline moves it to ready or failed.
const (
	DocumentStatusPending = "pending"
	DocumentStatusReady   = "ready"
	DocumentStatusFailed  = "failed"
)

type Document struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	Title         string    `gorm:"size:256;not null" json:"title"`
	Filename      string    `gorm:"size:256;not null" json:"filename"`
	Content       string    `gorm:"type:mediumtext" json:"-"` // extracted text, re-read on re-ingest
	Status        string    `gorm:"size:16;not null;index" json:"status"`
	FailureReason string    `gorm:"size:512" json:"failure_reason,omitempty"`
	ChunkCount    int       `gorm:"not null;default:0" json:"chunk_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
