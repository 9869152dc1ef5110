package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"docuchat/internal/ai"
	"docuchat/internal/model"
	"docuchat/internal/rag"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrLLMService           = errors.New("llm service failed")
)

// ConversationStore is satisfied by *repository.ConversationRepository.
type ConversationStore interface {
	Create(conversation *model.Conversation) error
	ListByUserID(userID uint) ([]model.Conversation, error)
	GetByIDAndUserID(conversationID, userID uint) (*model.Conversation, error)
	Touch(conversationID uint) error
	DeleteByIDAndUserID(conversationID, userID uint) error
}

// MessageStore is satisfied by *repository.MessageRepository.
type MessageStore interface {
	Create(message *model.Message) error
	ListByConversationID(conversationID uint, limit int) ([]model.Message, error)
	ListRecentByConversationID(conversationID uint, limit int) ([]model.Message, error)
	DeleteByConversationID(conversationID uint) error
}

// ContextRetriever is the slice of rag.Retriever the chat turn needs.
type ContextRetriever interface {
	Retrieve(ctx context.Context, ownerID uint, query string, k, maxContextChars int) ([]rag.ScoredChunk, error)
}

// Completer is one non-streaming LLM call. *ai.ChatCompleter satisfies it.
type Completer interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
}

// ChatHistoryCache is the Redis-backed history cache; nil disables caching.
type ChatHistoryCache interface {
	GetHistory(ctx context.Context, conversationID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, conversationID uint, messages []model.Message) error
	DeleteHistory(ctx context.Context, conversationID uint) error
	MarkDirty(ctx context.Context, conversationID uint) error
	IsDirty(ctx context.Context, conversationID uint) (bool, error)
}

const systemPrompt = "You are a document assistant. Answer using only the " +
	"document excerpts provided below. If the excerpts do not contain the " +
	"answer, say that you could not find it in the user's documents. Do not " +
	"use outside knowledge."

const noContextNote = "No document excerpts are available for this question. " +
	"Tell the user you have no relevant documents to draw on, and invite them " +
	"to upload some."

// ChatService runs grounded chat turns. Turns in the same conversation
// are serialized with a per-conversation mutex so history stays a clean
// alternation; turns in different conversations run concurrently. The
// lock registry is process-local, so a deployment must route a given
// conversation to a single instance.
type ChatService struct {
	conversations   ConversationStore
	messages        MessageStore
	retriever       ContextRetriever
	llm             Completer
	history         ChatHistoryCache
	topK            int
	maxContextChars int
	maxHistory      int
	chatTimeout     time.Duration

	locksMu sync.Mutex
	locks   map[uint]*sync.Mutex
}

type ChatInput struct {
	UserID         uint
	ConversationID uint // 0 starts a new conversation
	Content        string
}

// SourceRef identifies one chunk that grounded the answer.
type SourceRef struct {
	DocumentID    uint    `json:"document_id"`
	SequenceIndex int     `json:"sequence_index"`
	Score         float32 `json:"score"`
}

type ChatResult struct {
	ConversationID uint
	Title          string
	Answer         string
	Sources        []SourceRef
}

func NewChatService(
	conversations ConversationStore,
	messages MessageStore,
	retriever ContextRetriever,
	llm Completer,
	history ChatHistoryCache,
	topK, maxContextChars, maxHistory int,
	chatTimeout time.Duration,
) *ChatService {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	if chatTimeout <= 0 {
		chatTimeout = 60 * time.Second
	}
	return &ChatService{
		conversations:   conversations,
		messages:        messages,
		retriever:       retriever,
		llm:             llm,
		history:         history,
		topK:            topK,
		maxContextChars: maxContextChars,
		maxHistory:      maxHistory,
		chatTimeout:     chatTimeout,
		locks:           make(map[uint]*sync.Mutex),
	}
}

// Respond runs one chat turn. The user message is persisted before the
// LLM call and kept even when the turn fails afterwards; the assistant
// message is persisted only after a successful completion, and the LLM
// is never retried.
func (s *ChatService) Respond(ctx context.Context, input ChatInput) (*ChatResult, error) {
	content := strings.TrimSpace(input.Content)
	if input.UserID == 0 || content == "" {
		return nil, fmt.Errorf("%w: message content is empty", ErrInvalidInput)
	}

	conversation, err := s.resolveConversation(input.UserID, input.ConversationID, content)
	if err != nil {
		return nil, err
	}

	lock := s.conversationLock(conversation.ID)
	lock.Lock()
	defer lock.Unlock()

	// History is captured before the new user message so the prompt does
	// not carry the question twice.
	history, err := s.messages.ListRecentByConversationID(conversation.ID, s.maxHistory)
	if err != nil {
		return nil, err
	}

	userMessage := &model.Message{
		ConversationID: conversation.ID,
		UserID:         input.UserID,
		Role:           model.MessageRoleUser,
		Content:        content,
	}
	if err := s.messages.Create(userMessage); err != nil {
		return nil, err
	}
	s.invalidateHistory(ctx, conversation.ID)

	retrieved, err := s.retriever.Retrieve(ctx, input.UserID, content, s.topK, s.maxContextChars)
	if err != nil {
		return nil, err
	}

	prompt := buildPrompt(retrieved, history, content)

	llmCtx, cancel := context.WithTimeout(ctx, s.chatTimeout)
	answer, err := s.llm.Complete(llmCtx, prompt)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMService, err)
	}

	assistantMessage := &model.Message{
		ConversationID: conversation.ID,
		UserID:         input.UserID,
		Role:           model.MessageRoleAssistant,
		Content:        answer,
	}
	if err := s.messages.Create(assistantMessage); err != nil {
		return nil, err
	}
	if err := s.conversations.Touch(conversation.ID); err != nil {
		log.Printf("touch conversation %d failed: %v", conversation.ID, err)
	}
	s.invalidateHistory(ctx, conversation.ID)

	sources := make([]SourceRef, 0, len(retrieved))
	for _, sc := range retrieved {
		sources = append(sources, SourceRef{
			DocumentID:    sc.Chunk.DocumentID,
			SequenceIndex: sc.Chunk.SequenceIndex,
			Score:         sc.Score,
		})
	}

	return &ChatResult{
		ConversationID: conversation.ID,
		Title:          conversation.Title,
		Answer:         answer,
		Sources:        sources,
	}, nil
}

func (s *ChatService) resolveConversation(userID, conversationID uint, content string) (*model.Conversation, error) {
	if conversationID == 0 {
		conversation := &model.Conversation{
			UserID: userID,
			Title:  deriveTitle(content),
		}
		if err := s.conversations.Create(conversation); err != nil {
			return nil, err
		}
		return conversation, nil
	}

	conversation, err := s.conversations.GetByIDAndUserID(conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}
	return conversation, nil
}

// GetHistory returns a conversation's messages oldest-first, serving the
// default page from Redis when it is fresh.
func (s *ChatService) GetHistory(ctx context.Context, userID, conversationID uint, limit int) ([]model.Message, error) {
	conversation, err := s.conversations.GetByIDAndUserID(conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}

	cacheable := s.history != nil && limit <= 0
	if cacheable {
		dirty, err := s.history.IsDirty(ctx, conversationID)
		if err != nil {
			log.Printf("history cache dirty check failed: %v", err)
		} else if !dirty {
			if cached, ok, err := s.history.GetHistory(ctx, conversationID); err != nil {
				log.Printf("history cache read failed: %v", err)
			} else if ok {
				return cached, nil
			}
		}
	}

	messages, err := s.messages.ListByConversationID(conversationID, limit)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := s.history.SetHistory(ctx, conversationID, messages); err != nil {
			log.Printf("history cache write failed: %v", err)
		}
	}
	return messages, nil
}

func (s *ChatService) ListConversations(userID uint) ([]model.Conversation, error) {
	return s.conversations.ListByUserID(userID)
}

func (s *ChatService) DeleteConversation(ctx context.Context, userID, conversationID uint) error {
	conversation, err := s.conversations.GetByIDAndUserID(conversationID, userID)
	if err != nil {
		return err
	}
	if conversation == nil {
		return ErrConversationNotFound
	}

	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.messages.DeleteByConversationID(conversationID); err != nil {
		return err
	}
	if err := s.conversations.DeleteByIDAndUserID(conversationID, userID); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.history.DeleteHistory(ctx, conversationID); err != nil {
			log.Printf("history cache delete failed: %v", err)
		}
	}
	return nil
}

func (s *ChatService) conversationLock(conversationID uint) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conversationID] = lock
	}
	return lock
}

func (s *ChatService) invalidateHistory(ctx context.Context, conversationID uint) {
	if s.history == nil {
		return
	}
	if err := s.history.MarkDirty(ctx, conversationID); err != nil {
		log.Printf("history cache mark dirty failed: %v", err)
	}
	if err := s.history.DeleteHistory(ctx, conversationID); err != nil {
		log.Printf("history cache delete failed: %v", err)
	}
}

func buildPrompt(retrieved []rag.ScoredChunk, history []model.Message, question string) []ai.ChatMessage {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n\n")
	if len(retrieved) == 0 {
		sb.WriteString(noContextNote)
	} else {
		sb.WriteString("Document excerpts:\n")
		for i, sc := range retrieved {
			fmt.Fprintf(&sb, "\n[%d] %s\n", i+1, sc.Chunk.Content)
		}
	}

	prompt := make([]ai.ChatMessage, 0, len(history)+2)
	prompt = append(prompt, ai.ChatMessage{Role: "system", Content: sb.String()})
	for _, m := range history {
		prompt = append(prompt, ai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	prompt = append(prompt, ai.ChatMessage{Role: model.MessageRoleUser, Content: question})
	return prompt
}

// deriveTitle makes a conversation title from the first message.
func deriveTitle(content string) string {
	title := content
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	title = strings.TrimSpace(title)
	runes := []rune(title)
	if len(runes) > 60 {
		title = string(runes[:60]) + "..."
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}
