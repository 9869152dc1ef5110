package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docuchat/internal/model"
	"docuchat/internal/rag"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrIngestEnqueue    = errors.New("enqueue ingest job failed")
)

// DocumentStore is the persistence surface the document service needs.
// *repository.DocumentRepository satisfies it.
type DocumentStore interface {
	Create(doc *model.Document) error
	ListByUserID(userID uint) ([]model.Document, error)
	GetByIDAndUserID(id, userID uint) (*model.Document, error)
	GetByID(id uint) (*model.Document, error)
	MarkPending(id uint) error
	MarkReady(id uint, chunkCount int) error
	MarkFailed(id uint, reason string) error
	DeleteByIDAndUserID(id, userID uint) error
}

// BatchEmbedder is the slice of rag.Embedder the pipeline needs.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// IngestQueue hands a document off for background ingestion.
type IngestQueue interface {
	PublishIngest(ctx context.Context, documentID uint) error
}

// DocumentService owns the document lifecycle: upload creates a pending
// row and enqueues a job; Ingest runs the chunk/embed/index pipeline and
// flips the status to ready or failed. Status is the only signal callers
// get, so every pipeline failure must land in MarkFailed.
type DocumentService struct {
	docs           DocumentStore
	index          rag.Index
	chunker        *rag.Chunker
	embedder       BatchEmbedder
	queue          IngestQueue
	embeddingModel string
	batchSize      int
}

type UploadInput struct {
	UserID   uint
	Title    string
	Filename string
	Content  string
}

func NewDocumentService(
	docs DocumentStore,
	index rag.Index,
	chunker *rag.Chunker,
	embedder BatchEmbedder,
	queue IngestQueue,
	embeddingModel string,
	batchSize int,
) *DocumentService {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &DocumentService{
		docs:           docs,
		index:          index,
		chunker:        chunker,
		embedder:       embedder,
		queue:          queue,
		embeddingModel: embeddingModel,
		batchSize:      batchSize,
	}
}

// Upload stores the extracted text and enqueues ingestion. The returned
// document is in pending state; callers poll it until ready or failed.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*model.Document, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = strings.TrimSpace(input.Filename)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	doc := &model.Document{
		UserID:   input.UserID,
		Title:    title,
		Filename: input.Filename,
		Content:  input.Content,
		Status:   model.DocumentStatusPending,
	}
	if err := s.docs.Create(doc); err != nil {
		return nil, err
	}

	if err := s.queue.PublishIngest(ctx, doc.ID); err != nil {
		_ = s.docs.MarkFailed(doc.ID, "could not enqueue ingest job")
		return nil, fmt.Errorf("%w: %v", ErrIngestEnqueue, err)
	}
	return doc, nil
}

// Ingest runs the pipeline for one document. Chunk IDs derive from the
// document id and position, and the index write replaces the previous
// chunk set, so running Ingest twice for the same content is a no-op.
func (s *DocumentService) Ingest(ctx context.Context, documentID uint) error {
	doc, err := s.docs.GetByID(documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: id %d", ErrDocumentNotFound, documentID)
	}

	chunkCount, err := s.runPipeline(ctx, doc)
	if err != nil {
		_ = s.docs.MarkFailed(doc.ID, err.Error())
		return err
	}
	return s.docs.MarkReady(doc.ID, chunkCount)
}

func (s *DocumentService) runPipeline(ctx context.Context, doc *model.Document) (int, error) {
	pieces := s.chunker.Chunk(doc.Content)
	if len(pieces) == 0 {
		// A document with no extractable text is still ready; it just
		// contributes nothing to retrieval. Clearing the index covers
		// re-ingestion after the content shrank to nothing.
		if err := s.index.Write(ctx, doc.ID, nil); err != nil {
			return 0, err
		}
		return 0, nil
	}

	chunks := make([]model.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = model.Chunk{
			ID:             model.ChunkID(doc.ID, i),
			DocumentID:     doc.ID,
			UserID:         doc.UserID,
			SequenceIndex:  i,
			Content:        piece,
			EmbeddingModel: s.embeddingModel,
		}
	}

	for start := 0; start < len(pieces); start += s.batchSize {
		end := start + s.batchSize
		if end > len(pieces) {
			end = len(pieces)
		}
		vectors, err := s.embedder.EmbedBatch(ctx, pieces[start:end])
		if err != nil {
			return 0, err
		}
		for i, vec := range vectors {
			chunks[start+i].SetEmbedding(vec)
		}
	}

	if err := s.index.Write(ctx, doc.ID, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Reingest resets a document to pending and enqueues a fresh run.
func (s *DocumentService) Reingest(ctx context.Context, userID, documentID uint) (*model.Document, error) {
	doc, err := s.docs.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}

	if err := s.docs.MarkPending(doc.ID); err != nil {
		return nil, err
	}
	doc.Status = model.DocumentStatusPending
	doc.FailureReason = ""

	if err := s.queue.PublishIngest(ctx, doc.ID); err != nil {
		_ = s.docs.MarkFailed(doc.ID, "could not enqueue ingest job")
		return nil, fmt.Errorf("%w: %v", ErrIngestEnqueue, err)
	}
	return doc, nil
}

func (s *DocumentService) List(userID uint) ([]model.Document, error) {
	return s.docs.ListByUserID(userID)
}

func (s *DocumentService) Get(userID, documentID uint) (*model.Document, error) {
	doc, err := s.docs.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Delete removes the document row and its indexed chunks. The index is
// cleared first so a crash between the two steps leaves an unsearchable
// document rather than orphaned searchable chunks.
func (s *DocumentService) Delete(ctx context.Context, userID, documentID uint) error {
	doc, err := s.docs.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}

	if err := s.index.Delete(ctx, doc.ID); err != nil {
		return err
	}
	return s.docs.DeleteByIDAndUserID(doc.ID, userID)
}
