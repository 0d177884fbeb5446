package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"study-analyzer-platform/internal/ai"
	"study-analyzer-platform/internal/chroma"
	"study-analyzer-platform/internal/logger"

	"github.com/google/uuid"
)

// VectorChunk is a piece of document text queued for indexing.
type VectorChunk struct {
	DocumentID   string
	SubjectID    string
	DocumentType string
	Content      string
}

// SearchResult is one ranked nearest-neighbor match.
type SearchResult struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Distance float64        `json:"distance"`
}

// VectorStats summarizes index state.
type VectorStats struct {
	Count      int    `json:"count"`
	Collection string `json:"collection"`
	Ready      bool   `json:"ready"`
}

// VectorStoreService owns the named Chroma collection. All operations are
// best-effort: failures are logged and surfaced as zero values, never errors.
type VectorStoreService struct {
	client         chroma.Client
	embedder       *ai.EmbeddingService
	collectionName string
	minChunkLength int
	maxChunkChars  int

	mu           sync.Mutex
	collectionID string
	initialized  bool
}

func NewVectorStoreService(client chroma.Client, embedder *ai.EmbeddingService, collectionName string, minChunkLength, maxChunkChars int) *VectorStoreService {
	return &VectorStoreService{
		client:         client,
		embedder:       embedder,
		collectionName: collectionName,
		minChunkLength: minChunkLength,
		maxChunkChars:  maxChunkChars,
	}
}

// Initialize creates the collection if absent and reuses it otherwise.
// Idempotent; returns availability instead of an error.
func (vs *VectorStoreService) Initialize(ctx context.Context) bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.initializeLocked(ctx)
}

func (vs *VectorStoreService) initializeLocked(ctx context.Context) bool {
	if vs.initialized {
		return true
	}

	collections, err := vs.client.ListCollections(ctx)
	if err != nil {
		logger.Warn("Vector store initialization failed", "error", err)
		return false
	}

	for _, col := range collections {
		if col.Name == vs.collectionName {
			vs.collectionID = col.ID
			vs.initialized = true
			logger.Debug("Using existing vector collection", "collection", vs.collectionName)
			return true
		}
	}

	created, err := vs.client.CreateCollection(ctx, vs.collectionName, map[string]any{
		"description": "Study materials for semantic retrieval",
		"created":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		logger.Warn("Vector collection creation failed", "error", err)
		return false
	}

	vs.collectionID = created.ID
	vs.initialized = true
	logger.Info("Created vector collection", "collection", vs.collectionName)
	return true
}

func (vs *VectorStoreService) collection(ctx context.Context) (string, bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if !vs.initializeLocked(ctx) {
		return "", false
	}
	return vs.collectionID, true
}

// Upsert embeds and writes the given chunks, skipping those below the
// minimum content length. Returns the count written; 0 with a logged
// warning on any failure.
func (vs *VectorStoreService) Upsert(ctx context.Context, chunks []VectorChunk) int {
	valid := make([]VectorChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Content) > vs.minChunkLength {
			valid = append(valid, chunk)
		}
	}
	if len(valid) == 0 {
		logger.Debug("No chunks above minimum length to index")
		return 0
	}

	collectionID, ok := vs.collection(ctx)
	if !ok {
		logger.Warn("Vector upsert skipped, store unavailable")
		return 0
	}

	texts := make([]string, len(valid))
	ids := make([]string, len(valid))
	metadatas := make([]map[string]any, len(valid))
	for i, chunk := range valid {
		text := truncate(chunk.Content, vs.maxChunkChars)
		texts[i] = text
		ids[i] = fmt.Sprintf("doc_%s_%s", chunk.DocumentID, uuid.NewString())
		metadatas[i] = map[string]any{
			"documentId":   chunk.DocumentID,
			"subjectId":    chunk.SubjectID,
			"documentType": chunk.DocumentType,
			"uploadedAt":   time.Now().UTC().Format(time.RFC3339),
		}
	}

	embeddings := vs.embedder.Embed(ctx, texts)

	err := vs.client.Add(ctx, collectionID, chroma.AddRequest{
		IDs:        ids,
		Embeddings: embeddings,
		Metadatas:  metadatas,
		Documents:  texts,
	})
	if err != nil {
		logger.Warn("Vector upsert failed", "error", err, "chunks", len(valid))
		return 0
	}

	logger.Info("Indexed document chunks", "count", len(valid))
	return len(valid)
}

// Query embeds the text and returns up to k nearest neighbors restricted to
// the subject. Any failure yields an empty result set.
func (vs *VectorStoreService) Query(ctx context.Context, text, subjectID string, k int, where map[string]any) []SearchResult {
	collectionID, ok := vs.collection(ctx)
	if !ok {
		return nil
	}

	filter := map[string]any{}
	for key, val := range where {
		filter[key] = val
	}
	if subjectID != "" {
		filter["subjectId"] = subjectID
	}
	if len(filter) == 0 {
		filter = nil
	}

	embedding := vs.embedder.EmbedQuery(ctx, text)

	resp, err := vs.client.Query(ctx, collectionID, chroma.QueryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        k,
		Where:           filter,
	})
	if err != nil {
		logger.Warn("Vector query failed", "error", err)
		return nil
	}
	if len(resp.Documents) == 0 {
		return nil
	}

	results := make([]SearchResult, 0, len(resp.Documents[0]))
	for i, doc := range resp.Documents[0] {
		result := SearchResult{Content: doc}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			result.Metadata = resp.Metadatas[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			result.Distance = resp.Distances[0][i]
		}
		results = append(results, result)
	}
	return results
}

// Available reports whether the store is reachable and the collection is
// usable, initializing on first call.
func (vs *VectorStoreService) Available(ctx context.Context) bool {
	_, ok := vs.collection(ctx)
	return ok
}

// Stats reports record count and availability.
func (vs *VectorStoreService) Stats(ctx context.Context) VectorStats {
	stats := VectorStats{Collection: vs.collectionName}

	collectionID, ok := vs.collection(ctx)
	if !ok {
		return stats
	}

	count, err := vs.client.Count(ctx, collectionID)
	if err != nil {
		logger.Warn("Vector count failed", "error", err)
		return stats
	}

	stats.Count = count
	stats.Ready = true
	return stats
}

// Reset clears the cached collection handle to force reinitialization.
func (vs *VectorStoreService) Reset() {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.initialized = false
	vs.collectionID = ""
}
