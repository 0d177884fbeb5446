package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"study-analyzer-platform/internal/logger"

	"github.com/redis/go-redis/v9"
)

// Cache TTL tiers.
const (
	TTLStatus         = 5 * time.Minute
	TTLListing        = 5 * time.Minute
	TTLDocumentDetail = 10 * time.Minute
	TTLVectorStats    = 2 * time.Minute
	TTLAnalysisResult = time.Hour
)

// CacheService is a best-effort expiring key/value layer over Redis.
// Every operation degrades to a miss/no-op when the backend is unreachable;
// a cache failure never alters the outcome of the operation it supports.
type CacheService struct {
	client *redis.Client

	mu        sync.Mutex
	available bool
	lastCheck time.Time
}

const availabilityRecheck = 30 * time.Second

func NewCacheService(client *redis.Client) *CacheService {
	return &CacheService{
		client:    client,
		available: client != nil,
	}
}

// ensure lazily verifies connectivity. After a failure the ping is retried
// at most once per recheck window so a down backend stays cheap.
func (cs *CacheService) ensure(ctx context.Context) bool {
	if cs.client == nil {
		return false
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.available {
		return true
	}
	if time.Since(cs.lastCheck) < availabilityRecheck {
		return false
	}

	cs.lastCheck = time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := cs.client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Cache backend unavailable", "error", err)
		return false
	}

	cs.available = true
	return true
}

func (cs *CacheService) markDown(err error) {
	cs.mu.Lock()
	cs.available = false
	cs.lastCheck = time.Now()
	cs.mu.Unlock()
	logger.Warn("Cache operation failed", "error", err)
}

// Get returns the cached value and whether it was present.
func (cs *CacheService) Get(ctx context.Context, key string) (string, bool) {
	if !cs.ensure(ctx) {
		return "", false
	}

	val, err := cs.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		cs.markDown(err)
		return "", false
	}
	return val, true
}

// Set stores a value with a TTL, reporting success.
func (cs *CacheService) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if !cs.ensure(ctx) {
		return false
	}

	if err := cs.client.Set(ctx, key, value, ttl).Err(); err != nil {
		cs.markDown(err)
		return false
	}
	return true
}

// Delete removes a key, reporting success.
func (cs *CacheService) Delete(ctx context.Context, keys ...string) bool {
	if len(keys) == 0 {
		return true
	}
	if !cs.ensure(ctx) {
		return false
	}

	if err := cs.client.Del(ctx, keys...).Err(); err != nil {
		cs.markDown(err)
		return false
	}
	return true
}

// Exists reports whether the key is present.
func (cs *CacheService) Exists(ctx context.Context, key string) bool {
	if !cs.ensure(ctx) {
		return false
	}

	n, err := cs.client.Exists(ctx, key).Result()
	if err != nil {
		cs.markDown(err)
		return false
	}
	return n > 0
}

// Ping reports current backend availability.
func (cs *CacheService) Ping(ctx context.Context) bool {
	return cs.ensure(ctx)
}

// Cache key construction is centralized here so that invalidation at every
// mutation site uses exactly the keys that readers populate.
// Convention: {entityType}:{scopeId}:{variant}.

func DocumentKey(documentID string) string {
	return fmt.Sprintf("document:%s", documentID)
}

func DocumentStatusKey(documentID string) string {
	return fmt.Sprintf("doc_status:%s", documentID)
}

func DocumentListKey(userID, subjectID string) string {
	if subjectID == "" {
		subjectID = "all"
	}
	return fmt.Sprintf("documents:%s:%s", userID, subjectID)
}

func DocumentStatsKey(userID, scope string) string {
	if scope == "" {
		scope = "all"
	}
	return fmt.Sprintf("doc_stats:%s:%s", userID, scope)
}

func AnalysisKey(analysisID string) string {
	return fmt.Sprintf("analysis:%s", analysisID)
}

func AnalysisResultKey(subjectID, optionsHash string) string {
	return fmt.Sprintf("analysis:%s:%s", subjectID, optionsHash)
}

func AnalysisListKey(userID string) string {
	return fmt.Sprintf("analyses:%s", userID)
}

func QuickPredictKey(subjectID, topic string) string {
	return fmt.Sprintf("quick_predict:%s:%s", subjectID, shortHash(topic))
}

func VectorStatsKey() string {
	return "vector_stats:global"
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
