package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	DBName      string
	JWTSecret   string
	Port        string
	GinMode     string
	CORSOrigins []string

	// Upload handling
	MaxFileSize    int64
	FileStorageDir string

	// Redis (cache + task broker)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Gemini generation
	GeminiAPIKey    string
	GenerationModel string
	GeminiTier      string

	// Embeddings
	EmbeddingsModel  string
	VectorDimensions int
	MaxEmbedChars    int

	// Chroma vector store
	ChromaURL        string
	ChromaCollection string
	MinChunkLength   int

	// Analysis
	AnalysisRetentionDays int

	// Worker
	WorkerConcurrency int

	// Per-IP request rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// Telemetry
	OTLPEndpoint   string
	TracingEnabled bool
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/study_analyzer"),
		DBName:      getEnv("DB_NAME", "study_analyzer"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		MaxFileSize:    getEnvInt64("MAX_FILE_SIZE", 10485760), // 10MB
		FileStorageDir: getEnv("FILE_STORAGE_DIR", "./uploads"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GenerationModel: getEnv("GENERATION_MODEL", "gemini-2.0-flash"),
		GeminiTier:      getEnv("GEMINI_TIER", "free"),

		EmbeddingsModel:  getEnv("EMBEDDINGS_MODEL", "text-embedding-004"),
		VectorDimensions: getEnvInt("VECTOR_DIM", 768),
		MaxEmbedChars:    getEnvInt("MAX_EMBED_CHARS", 4000),

		ChromaURL:        getEnv("CHROMA_URL", "http://localhost:8000"),
		ChromaCollection: getEnv("CHROMA_COLLECTION", "study_materials"),
		MinChunkLength:   getEnvInt("MIN_CHUNK_LENGTH", 50),

		AnalysisRetentionDays: getEnvInt("ANALYSIS_RETENTION_DAYS", 7),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required - set it in .env file")
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.VectorDimensions <= 0 {
		return nil, fmt.Errorf("VECTOR_DIM must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
