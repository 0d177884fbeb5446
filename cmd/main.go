package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"study-analyzer-platform/internal/ai"
	"study-analyzer-platform/internal/chroma"
	"study-analyzer-platform/internal/config"
	"study-analyzer-platform/internal/logger"
	"study-analyzer-platform/internal/queue"
	"study-analyzer-platform/internal/telemetry"
	"study-analyzer-platform/middleware"
	"study-analyzer-platform/routes"
	"study-analyzer-platform/services"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Distributed tracing (optional)
	var shutdownTracer func()
	if cfg.TracingEnabled {
		shutdownTracer, err = telemetry.InitTracer("study-analyzer-platform", cfg.OTLPEndpoint)
		if err != nil {
			logger.Warn("Tracing disabled", "error", err)
			shutdownTracer = nil
		}
	}

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

	// Redis backs the cache and the rate limiter; the app degrades without it.
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		logger.Warn("Redis unavailable, caching and rate limiting disabled", "error", err)
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
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if !vectors.Initialize(ctx) {
			logger.Warn("Vector store unavailable at startup, will retry on first use")
		}
		cancel()
	}

	// Task queue client
	enqueuer := queue.NewClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer enqueuer.Close()

	// Services
	processor := services.NewDocumentProcessor(cfg.MaxFileSize)
	engine := services.NewPredictionEngine(geminiClient, vectors)
	documents := services.NewDocumentService(db, cache, processor, vectors, enqueuer, cfg.FileStorageDir)
	analyses := services.NewAnalysisService(db, cache, engine, vectors, enqueuer,
		time.Duration(cfg.AnalysisRetentionDays)*24*time.Hour)

	// Background cleanup of expired analyses
	cleanup := services.NewCleanupScheduler(analyses, time.Hour)
	if err := cleanup.Start(); err != nil {
		logger.Warn("Cleanup scheduler failed to start", "error", err)
	}
	defer cleanup.Stop()

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))
	if cfg.TracingEnabled {
		router.Use(middleware.TracingMiddleware())
		router.Use(middleware.EnrichTrace())
	}
	if rdb != nil {
		router.Use(middleware.RateLimitMiddleware(rdb, cfg))
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"mongo":     mongoClient.Ping(ctx, nil) == nil,
			"redis":     cache.Ping(ctx),
			"vectors":   vectors.Stats(ctx).Ready,
		})
	})

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg)

	// Setup routes
	routes.SetupSubjectRoutes(router, db, authMiddleware)
	routes.SetupDocumentRoutes(router, cfg, documents, authMiddleware)
	routes.SetupAnalysisRoutes(router, analyses, authMiddleware)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	if shutdownTracer != nil {
		shutdownTracer()
	}
	logger.Info("Server exited")
}
