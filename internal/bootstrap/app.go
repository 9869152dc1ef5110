package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"docuchat/internal/ai"
	appsvc "docuchat/internal/app"
	"docuchat/internal/cache"
	"docuchat/internal/config"
	"docuchat/internal/model"
	mysqlClient "docuchat/internal/platform/mysql"
	rabbitmqClient "docuchat/internal/platform/rabbitmq"
	redisClient "docuchat/internal/platform/redis"
	"docuchat/internal/rag"
	"docuchat/internal/repository"
	"docuchat/internal/vectorstore"
	"docuchat/internal/worker"
)

// App wires configuration, infrastructure clients and services together.
// Services are built here rather than in the router because the ingest
// worker shares the document service with the HTTP layer.
type App struct {
	Config *config.Config
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	AuthService     *appsvc.AuthService
	DocumentService *appsvc.DocumentService
	ChatService     *appsvc.ChatService

	IngestWorker *worker.IngestWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(
		&model.User{},
		&model.Document{},
		&model.Chunk{},
		&model.Conversation{},
		&model.Message{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	index, err := newIndex(cfg, mysqlDB)
	if err != nil {
		return nil, err
	}

	chunker, err := rag.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	aiClient := ai.NewOpenAICompatibleClient()
	embeddingProvider := ai.NewEmbeddingProvider(aiClient, ai.EmbeddingConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.EmbeddingModel,
	})
	embedder, err := rag.NewEmbedder(
		embeddingProvider,
		cfg.RAG.EmbeddingDimension,
		time.Duration(cfg.LLM.EmbedTimeoutSeconds)*time.Second,
		cfg.LLM.EmbedMaxAttempts,
		time.Duration(cfg.LLM.EmbedRetryBackoffMS)*time.Millisecond,
	)
	if err != nil {
		return nil, err
	}
	retriever := rag.NewRetriever(embedder, index)
	completer := ai.NewChatCompleter(aiClient, ai.ChatConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	})

	userRepo := repository.NewUserRepository(mysqlDB)
	documentRepo := repository.NewDocumentRepository(mysqlDB)
	conversationRepo := repository.NewConversationRepository(mysqlDB)
	messageRepo := repository.NewMessageRepository(mysqlDB)

	historyCache := cache.NewHistoryCache(
		redisCli,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)

	ingestPublisher := rabbitmqClient.NewIngestPublisher(mqConn, cfg.RabbitMQ.IngestQueue)

	authService := appsvc.NewAuthService(
		userRepo,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
	)
	documentService := appsvc.NewDocumentService(
		documentRepo,
		index,
		chunker,
		embedder,
		ingestPublisher,
		cfg.LLM.EmbeddingModel,
		cfg.RAG.EmbeddingBatchSize,
	)
	chatService := appsvc.NewChatService(
		conversationRepo,
		messageRepo,
		retriever,
		completer,
		historyCache,
		cfg.RAG.TopK,
		cfg.RAG.MaxContextChars,
		cfg.LLM.MaxHistoryMessages,
		time.Duration(cfg.LLM.ChatTimeoutSeconds)*time.Second,
	)

	ingestWorker := worker.NewIngestWorker(
		mqConn,
		documentService,
		cfg.RabbitMQ.IngestQueue,
		cfg.RabbitMQ.Prefetch,
		time.Duration(cfg.RAG.IngestTimeoutSecs)*time.Second,
	)
	if err := ingestWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ingest worker failed: %w", err)
	}

	return &App{
		Config:          cfg,
		MySQL:           mysqlDB,
		Redis:           redisCli,
		MQConn:          mqConn,
		AuthService:     authService,
		DocumentService: documentService,
		ChatService:     chatService,
		IngestWorker:    ingestWorker,
		StartedAt:       time.Now(),
	}, nil
}

func newIndex(cfg *config.Config, db *gorm.DB) (rag.Index, error) {
	switch cfg.RAG.VectorStore {
	case "mysql":
		return vectorstore.NewMySQLIndex(db, cfg.RAG.EmbeddingDimension), nil
	case "chromem":
		return vectorstore.NewChromemIndex(cfg.RAG.ChromemPath, cfg.RAG.EmbeddingDimension)
	case "memory":
		return vectorstore.NewMemoryIndex(cfg.RAG.EmbeddingDimension), nil
	default:
		return nil, fmt.Errorf("unknown vector store %q", cfg.RAG.VectorStore)
	}
}

func (a *App) Close() error {
	var closeErr error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
