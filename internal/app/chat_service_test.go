package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuchat/internal/ai"
	"docuchat/internal/model"
	"docuchat/internal/rag"
)

type fakeConvStore struct {
	mu            sync.Mutex
	nextID        uint
	conversations map[uint]*model.Conversation
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{conversations: make(map[uint]*model.Conversation)}
}

func (s *fakeConvStore) Create(conversation *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	conversation.ID = s.nextID
	copied := *conversation
	s.conversations[conversation.ID] = &copied
	return nil
}

func (s *fakeConvStore) ListByUserID(userID uint) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Conversation
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			out = append(out, *conv)
		}
	}
	return out, nil
}

func (s *fakeConvStore) GetByIDAndUserID(conversationID, userID uint) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return nil, nil
	}
	copied := *conv
	return &copied, nil
}

func (s *fakeConvStore) Touch(conversationID uint) error {
	return nil
}

func (s *fakeConvStore) DeleteByIDAndUserID(conversationID, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[conversationID]; ok && conv.UserID == userID {
		delete(s.conversations, conversationID)
	}
	return nil
}

type fakeMsgStore struct {
	mu       sync.Mutex
	nextID   uint
	messages []model.Message
}

func (s *fakeMsgStore) Create(message *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	message.ID = s.nextID
	message.CreatedAt = time.Now()
	s.messages = append(s.messages, *message)
	return nil
}

func (s *fakeMsgStore) ListByConversationID(conversationID uint, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeMsgStore) ListRecentByConversationID(conversationID uint, limit int) ([]model.Message, error) {
	all, err := s.ListByConversationID(conversationID, 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *fakeMsgStore) DeleteByConversationID(conversationID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []model.Message
	for _, m := range s.messages {
		if m.ConversationID != conversationID {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	return nil
}

func (s *fakeMsgStore) byConversation(conversationID uint) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out
}

type fakeRetriever struct {
	results []rag.ScoredChunk
	err     error
}

func (r *fakeRetriever) Retrieve(ctx context.Context, ownerID uint, query string, k, maxContextChars int) ([]rag.ScoredChunk, error) {
	return r.results, r.err
}

type fakeLLM struct {
	answer  string
	err     error
	prompts [][]ai.ChatMessage
}

func (l *fakeLLM) Complete(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	copied := make([]ai.ChatMessage, len(messages))
	copy(copied, messages)
	l.prompts = append(l.prompts, copied)
	if l.err != nil {
		return "", l.err
	}
	return l.answer, nil
}

func newChatTestService(convs *fakeConvStore, msgs *fakeMsgStore, retriever *fakeRetriever, llm *fakeLLM) *ChatService {
	return NewChatService(convs, msgs, retriever, llm, nil, 5, 6000, 10, time.Second)
}

func TestChatService_RespondRejectsEmptyMessage(t *testing.T) {
	svc := newChatTestService(newFakeConvStore(), &fakeMsgStore{}, &fakeRetriever{}, &fakeLLM{answer: "hi"})

	_, err := svc.Respond(context.Background(), ChatInput{UserID: 7, Content: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestChatService_RespondCreatesConversation(t *testing.T) {
	convs := newFakeConvStore()
	msgs := &fakeMsgStore{}
	llm := &fakeLLM{answer: "the answer"}
	svc := newChatTestService(convs, msgs, &fakeRetriever{}, llm)

	result, err := svc.Respond(context.Background(), ChatInput{
		UserID:  7,
		Content: "What does the report say?",
	})
	require.NoError(t, err)
	assert.NotZero(t, result.ConversationID)
	assert.Equal(t, "What does the report say?", result.Title)
	assert.Equal(t, "the answer", result.Answer)

	stored := msgs.byConversation(result.ConversationID)
	require.Len(t, stored, 2)
	assert.Equal(t, model.MessageRoleUser, stored[0].Role)
	assert.Equal(t, model.MessageRoleAssistant, stored[1].Role)
}

func TestChatService_RespondWithEmptyCorpusStillAnswers(t *testing.T) {
	convs := newFakeConvStore()
	msgs := &fakeMsgStore{}
	llm := &fakeLLM{answer: "I have no documents to draw on."}
	svc := newChatTestService(convs, msgs, &fakeRetriever{}, llm)

	result, err := svc.Respond(context.Background(), ChatInput{UserID: 7, Content: "anything?"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Answer)
	assert.Empty(t, result.Sources)
	assert.Len(t, msgs.byConversation(result.ConversationID), 2)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0][0].Content, "No document excerpts")
}

func TestChatService_RespondLLMFailureKeepsUserMessageOnly(t *testing.T) {
	convs := newFakeConvStore()
	msgs := &fakeMsgStore{}
	llm := &fakeLLM{err: errors.New("upstream 500")}
	svc := newChatTestService(convs, msgs, &fakeRetriever{}, llm)

	conversation := &model.Conversation{UserID: 7, Title: "t"}
	require.NoError(t, convs.Create(conversation))

	_, err := svc.Respond(context.Background(), ChatInput{
		UserID:         7,
		ConversationID: conversation.ID,
		Content:        "question",
	})
	require.ErrorIs(t, err, ErrLLMService)

	stored := msgs.byConversation(conversation.ID)
	require.Len(t, stored, 1)
	assert.Equal(t, model.MessageRoleUser, stored[0].Role)

	// The LLM is called once and never retried.
	assert.Len(t, llm.prompts, 1)
}

func TestChatService_RespondUnknownConversation(t *testing.T) {
	svc := newChatTestService(newFakeConvStore(), &fakeMsgStore{}, &fakeRetriever{}, &fakeLLM{answer: "hi"})

	_, err := svc.Respond(context.Background(), ChatInput{
		UserID:         7,
		ConversationID: 99,
		Content:        "question",
	})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestChatService_RespondRetrievalFailureKeepsUserMessage(t *testing.T) {
	convs := newFakeConvStore()
	msgs := &fakeMsgStore{}
	svc := newChatTestService(convs, msgs, &fakeRetriever{err: rag.ErrEmbeddingService}, &fakeLLM{answer: "hi"})

	conversation := &model.Conversation{UserID: 7, Title: "t"}
	require.NoError(t, convs.Create(conversation))

	_, err := svc.Respond(context.Background(), ChatInput{
		UserID:         7,
		ConversationID: conversation.ID,
		Content:        "question",
	})
	require.ErrorIs(t, err, rag.ErrEmbeddingService)

	stored := msgs.byConversation(conversation.ID)
	require.Len(t, stored, 1)
	assert.Equal(t, model.MessageRoleUser, stored[0].Role)
}

func TestChatService_PromptCarriesContextAndHistory(t *testing.T) {
	convs := newFakeConvStore()
	msgs := &fakeMsgStore{}
	retriever := &fakeRetriever{results: []rag.ScoredChunk{
		{
			Chunk: model.Chunk{
				ID:            model.ChunkID(3, 0),
				DocumentID:    3,
				UserID:        7,
				SequenceIndex: 0,
				Content:       "the warranty lasts two years",
			},
			Score: 0.91,
		},
	}}
	llm := &fakeLLM{answer: "Two years."}
	svc := newChatTestService(convs, msgs, retriever, llm)

	first, err := svc.Respond(context.Background(), ChatInput{UserID: 7, Content: "How long is the warranty?"})
	require.NoError(t, err)

	_, err = svc.Respond(context.Background(), ChatInput{
		UserID:         7,
		ConversationID: first.ConversationID,
		Content:        "And after that?",
	})
	require.NoError(t, err)

	require.Len(t, llm.prompts, 2)

	firstPrompt := llm.prompts[0]
	assert.Equal(t, "system", firstPrompt[0].Role)
	assert.Contains(t, firstPrompt[0].Content, "the warranty lasts two years")
	// First turn has no history: system + question only.
	require.Len(t, firstPrompt, 2)
	assert.Equal(t, "How long is the warranty?", firstPrompt[1].Content)

	secondPrompt := llm.prompts[1]
	// Second turn carries both messages of the first turn as history.
	require.Len(t, secondPrompt, 4)
	assert.Equal(t, model.MessageRoleUser, secondPrompt[1].Role)
	assert.Equal(t, "How long is the warranty?", secondPrompt[1].Content)
	assert.Equal(t, model.MessageRoleAssistant, secondPrompt[2].Role)
	assert.Equal(t, "And after that?", secondPrompt[3].Content)

	require.Len(t, first.Sources, 1)
	assert.Equal(t, uint(3), first.Sources[0].DocumentID)
}

func TestChatService_GetHistory(t *testing.T) {
	convs := newFakeConvStore()
	msgs := &fakeMsgStore{}
	svc := newChatTestService(convs, msgs, &fakeRetriever{}, &fakeLLM{answer: "ok"})

	result, err := svc.Respond(context.Background(), ChatInput{UserID: 7, Content: "hello"})
	require.NoError(t, err)

	history, err := svc.GetHistory(context.Background(), 7, result.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.MessageRoleUser, history[0].Role)

	// Another user cannot read the conversation.
	_, err = svc.GetHistory(context.Background(), 8, result.ConversationID, 0)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestChatService_DeleteConversation(t *testing.T) {
	convs := newFakeConvStore()
	msgs := &fakeMsgStore{}
	svc := newChatTestService(convs, msgs, &fakeRetriever{}, &fakeLLM{answer: "ok"})

	result, err := svc.Respond(context.Background(), ChatInput{UserID: 7, Content: "hello"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteConversation(context.Background(), 7, result.ConversationID))
	assert.Empty(t, msgs.byConversation(result.ConversationID))

	_, err = svc.GetHistory(context.Background(), 7, result.ConversationID, 0)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "short question", deriveTitle("short question"))
	assert.Equal(t, "first line", deriveTitle("first line\nsecond line"))
	assert.Equal(t, "New conversation", deriveTitle("   "))

	long := strings.Repeat("x", 80)
	title := deriveTitle(long)
	assert.Equal(t, strings.Repeat("x", 60)+"...", title)
}
