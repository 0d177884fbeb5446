package main

import (
	"context"
	"log"
	"time"

	"study-analyzer-platform/internal/ai"
	"study-analyzer-platform/internal/chroma"
	"study-analyzer-platform/internal/config"
	"study-analyzer-platform/internal/logger"
	"study-analyzer-platform/internal/queue"
	"study-analyzer-platform/services"

	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	db := mongoClient.Database(cfg.DBName)

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		logger.Warn("Redis unavailable for caching, workers run uncached", "error", err)
		rdb = nil
	}
	cache := services.NewCacheService(rdb)

	// Gemini clients
	geminiClient, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GenerationModel, cfg.GeminiTier)
	if err != nil {
		log.Fatal("Failed to initialize Gemini client:", err)
	}
	defer geminiClient.Close()

	embedder := ai.NewEmbeddingService(context.Background(), cfg.GeminiAPIKey, cfg.EmbeddingsModel, cfg.VectorDimensions, cfg.MaxEmbedChars)
	defer embedder.Close()

	// Chroma vector store
	chromaClient, err := chroma.New(chroma.Config{BaseURL: cfg.ChromaURL})
	if err != nil {
		log.Fatal("Failed to create Chroma client:", err)
	}
	vectors := services.NewVectorStoreService(chromaClient, embedder, cfg.ChromaCollection, cfg.MinChunkLength, cfg.MaxEmbedChars)

	// Workers re-enqueue nothing themselves, but the services require an
	// enqueuer for uploads; reuse the same client here.
	enqueuer := queue.NewClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer enqueuer.Close()

	// Services
	processor := services.NewDocumentProcessor(cfg.MaxFileSize)
	engine := services.NewPredictionEngine(geminiClient, vectors)
	documents := services.NewDocumentService(db, cache, processor, vectors, enqueuer, cfg.FileStorageDir)
	analyses := services.NewAnalysisService(db, cache, engine, vectors, enqueuer,
		time.Duration(cfg.AnalysisRetentionDays)*24*time.Hour)

	// Create Asynq server
	server := asynq.NewServer(
		queue.RedisConnOpt(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB),
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				"critical": 6, // document processing
				"default":  4, // analysis runs
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	// Create mux and register handlers
	mux := asynq.NewServeMux()
	queue.NewTaskProcessor(documents, analyses).Register(mux)

	logger.Info("Starting worker",
		"concurrency", cfg.WorkerConcurrency,
		"queues", "critical(6), default(4)",
		"redis", cfg.RedisURL)

	// Start the server
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
