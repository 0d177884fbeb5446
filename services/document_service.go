package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"study-analyzer-platform/internal/logger"
	"study-analyzer-platform/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrDocumentNotFound = errors.New("document not found")

// UploadInput carries a file received from a client.
type UploadInput struct {
	OriginalName string
	MimeType     string
	Size         int64
	Data         []byte
}

// TypeStats aggregates document counts per document type.
type TypeStats struct {
	Type      string `bson:"_id" json:"type"`
	Count     int    `bson:"count" json:"count"`
	TotalSize int64  `bson:"total_size" json:"totalSize"`
	Processed int    `bson:"processed" json:"processed"`
	Failed    int    `bson:"failed" json:"failed"`
}

// OverallStats aggregates a user's documents across all types.
type OverallStats struct {
	TotalDocuments int   `bson:"total_documents" json:"totalDocuments"`
	TotalStorage   int64 `bson:"total_storage" json:"totalStorage"`
	Completed      int   `bson:"completed" json:"completed"`
	Failed         int   `bson:"failed" json:"failed"`
}

// DocumentStats is the stats endpoint payload.
type DocumentStats struct {
	ByType      []TypeStats  `json:"byType"`
	Overall     OverallStats `json:"overall"`
	GeneratedAt time.Time    `json:"generatedAt"`
}

// DocumentService coordinates upload, background processing and retrieval of
// study documents. Processing drives the status machine in models; the
// terminal transition invalidates every cache entry derived from the record.
type DocumentService struct {
	db         *mongo.Database
	cache      *CacheService
	processor  *DocumentProcessor
	vectors    *VectorStoreService
	enqueuer   TaskEnqueuer
	storageDir string
}

func NewDocumentService(db *mongo.Database, cache *CacheService, processor *DocumentProcessor, vectors *VectorStoreService, enqueuer TaskEnqueuer, storageDir string) *DocumentService {
	return &DocumentService{
		db:         db,
		cache:      cache,
		processor:  processor,
		vectors:    vectors,
		enqueuer:   enqueuer,
		storageDir: storageDir,
	}
}

func (ds *DocumentService) collection() *mongo.Collection { return ds.db.Collection("documents") }

// Upload validates the file and subject ownership, persists the file and a
// pending record, then enqueues background processing.
func (ds *DocumentService) Upload(ctx context.Context, userID, subjectID primitive.ObjectID, documentType string, input UploadInput) (*models.Document, error) {
	if !models.IsValidDocumentType(documentType) {
		return nil, fmt.Errorf("invalid document type %q", documentType)
	}
	if err := ds.processor.ValidateUpload(input.Size, input.MimeType); err != nil {
		return nil, err
	}

	err := ds.db.Collection("subjects").FindOne(ctx, bson.M{"_id": subjectID, "user_id": userID}).Err()
	if err == mongo.ErrNoDocuments {
		return nil, ErrSubjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("subject lookup failed: %w", err)
	}

	if err := os.MkdirAll(ds.storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage dir unavailable: %w", err)
	}
	filename := uuid.NewString() + filepath.Ext(input.OriginalName)
	filePath := filepath.Join(ds.storageDir, filename)
	if err := os.WriteFile(filePath, input.Data, 0o644); err != nil {
		return nil, fmt.Errorf("file write failed: %w", err)
	}

	now := time.Now().UTC()
	doc := &models.Document{
		UserID:           userID,
		SubjectID:        subjectID,
		Filename:         filename,
		OriginalName:     input.OriginalName,
		DocumentType:     documentType,
		MimeType:         input.MimeType,
		Size:             input.Size,
		ProcessingStatus: models.StatusPending,
		FilePath:         filePath,
		UploadedAt:       now,
	}

	res, err := ds.collection().InsertOne(ctx, doc)
	if err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("document insert failed: %w", err)
	}
	doc.ID = res.InsertedID.(primitive.ObjectID)

	ds.invalidateListings(ctx, doc)

	if err := ds.enqueuer.EnqueueDocumentProcessing(ctx, doc.ID.Hex()); err != nil {
		ds.collection().DeleteOne(ctx, bson.M{"_id": doc.ID})
		os.Remove(filePath)
		return nil, fmt.Errorf("processing enqueue failed: %w", err)
	}

	logger.Info("Document uploaded", "documentId", doc.ID.Hex(), "name", doc.OriginalName, "type", documentType)
	return doc, nil
}

// Process is the background task body: extract content, persist the result
// and index it for retrieval. A failure is recorded on the document; the
// task itself never errors for domain failures.
func (ds *DocumentService) Process(ctx context.Context, documentID primitive.ObjectID) error {
	var doc models.Document
	err := ds.collection().FindOne(ctx, bson.M{"_id": documentID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		logger.Warn("Document vanished before processing", "documentId", documentID.Hex())
		return nil
	}
	if err != nil {
		return fmt.Errorf("document lookup failed: %w", err)
	}
	if doc.ProcessingStatus.IsTerminal() {
		return nil
	}

	if doc.ProcessingStatus == models.StatusPending {
		if !ds.transition(ctx, &doc, models.StatusProcessing, nil) {
			return nil
		}
	}
	ds.cacheStatusSnapshot(ctx, &doc)

	data, err := os.ReadFile(doc.FilePath)
	if err != nil {
		ds.fail(ctx, &doc, fmt.Sprintf("file read failed: %v", err))
		return nil
	}

	result, err := ds.processor.Extract(data, doc.MimeType)
	if err != nil {
		ds.fail(ctx, &doc, err.Error())
		return nil
	}

	processedAt := time.Now().UTC()
	ok := ds.transition(ctx, &doc, models.StatusCompleted, bson.M{
		"content":      result.Content,
		"metadata":     result.Metadata,
		"processed_at": processedAt,
	})
	if !ok {
		return nil
	}
	doc.Content = result.Content
	doc.Metadata = result.Metadata
	doc.ProcessedAt = &processedAt

	// Retrieval indexing is best-effort: the document is already completed.
	indexed := ds.vectors.Upsert(ctx, []VectorChunk{{
		DocumentID:   doc.ID.Hex(),
		SubjectID:    doc.SubjectID.Hex(),
		DocumentType: doc.DocumentType,
		Content:      doc.Content,
	}})

	ds.cacheStatusSnapshot(ctx, &doc)
	ds.invalidateDerived(ctx, &doc)

	logger.Info("Document processed", "documentId", doc.ID.Hex(), "words", result.Metadata.WordCount, "indexed", indexed)
	return nil
}

// transition applies a validated status change with a conditional write so
// that a stale processor cannot clobber a terminal state.
func (ds *DocumentService) transition(ctx context.Context, doc *models.Document, to models.DocumentStatus, extra bson.M) bool {
	if !doc.ProcessingStatus.CanTransition(to) {
		logger.Warn("Illegal status transition skipped",
			"documentId", doc.ID.Hex(), "from", doc.ProcessingStatus, "to", to)
		return false
	}

	set := bson.M{"processing_status": to}
	for k, v := range extra {
		set[k] = v
	}

	res, err := ds.collection().UpdateOne(ctx,
		bson.M{"_id": doc.ID, "processing_status": doc.ProcessingStatus},
		bson.M{"$set": set})
	if err != nil {
		logger.Error("Status transition write failed", "documentId", doc.ID.Hex(), "error", err)
		return false
	}
	if res.ModifiedCount == 0 {
		logger.Warn("Status transition lost a concurrent update", "documentId", doc.ID.Hex(), "to", to)
		return false
	}

	doc.ProcessingStatus = to
	return true
}

func (ds *DocumentService) fail(ctx context.Context, doc *models.Document, reason string) {
	if !ds.transition(ctx, doc, models.StatusFailed, bson.M{"error_message": reason}) {
		return
	}
	doc.ErrorMessage = reason
	ds.cacheStatusSnapshot(ctx, doc)
	ds.invalidateDerived(ctx, doc)
	logger.Error("Document processing failed", "documentId", doc.ID.Hex(), "reason", reason)
}

func (ds *DocumentService) cacheStatusSnapshot(ctx context.Context, doc *models.Document) {
	snapshot := models.StatusSnapshot{
		Status:       doc.ProcessingStatus,
		DocumentName: doc.OriginalName,
		DocumentType: doc.DocumentType,
		UserID:       doc.UserID.Hex(),
		UploadedAt:   doc.UploadedAt,
		ProcessedAt:  doc.ProcessedAt,
		Error:        doc.ErrorMessage,
	}
	if payload, err := json.Marshal(snapshot); err == nil {
		ds.cache.Set(ctx, DocumentStatusKey(doc.ID.Hex()), string(payload), TTLStatus)
	}
}

func (ds *DocumentService) invalidateListings(ctx context.Context, doc *models.Document) {
	ds.cache.Delete(ctx,
		DocumentListKey(doc.UserID.Hex(), doc.SubjectID.Hex()),
		DocumentListKey(doc.UserID.Hex(), ""),
		DocumentStatsKey(doc.UserID.Hex(), doc.SubjectID.Hex()),
		DocumentStatsKey(doc.UserID.Hex(), ""),
	)
}

func (ds *DocumentService) invalidateDerived(ctx context.Context, doc *models.Document) {
	ds.cache.Delete(ctx, DocumentKey(doc.ID.Hex()))
	ds.invalidateListings(ctx, doc)
}

// GetDocument returns an owned document, cache first.
func (ds *DocumentService) GetDocument(ctx context.Context, userID, documentID primitive.ObjectID) (*models.Document, error) {
	key := DocumentKey(documentID.Hex())
	if cached, hit := ds.cache.Get(ctx, key); hit {
		var doc models.Document
		if err := json.Unmarshal([]byte(cached), &doc); err == nil {
			if doc.UserID != userID {
				return nil, ErrDocumentNotFound
			}
			return &doc, nil
		}
		ds.cache.Delete(ctx, key)
	}

	var doc models.Document
	err := ds.collection().FindOne(ctx, bson.M{"_id": documentID, "user_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("document lookup failed: %w", err)
	}

	if payload, err := json.Marshal(doc); err == nil {
		ds.cache.Set(ctx, key, string(payload), TTLDocumentDetail)
	}
	return &doc, nil
}

// ListDocuments returns the user's documents sorted by upload time. The
// unfiltered-by-type listing is cached per user/subject scope.
func (ds *DocumentService) ListDocuments(ctx context.Context, userID primitive.ObjectID, subjectID *primitive.ObjectID, documentType string) ([]models.Document, error) {
	subjectScope := ""
	if subjectID != nil {
		subjectScope = subjectID.Hex()
	}

	cacheable := documentType == ""
	key := DocumentListKey(userID.Hex(), subjectScope)
	if cacheable {
		if cached, hit := ds.cache.Get(ctx, key); hit {
			var docs []models.Document
			if err := json.Unmarshal([]byte(cached), &docs); err == nil {
				return docs, nil
			}
			ds.cache.Delete(ctx, key)
		}
	}

	filter := bson.M{"user_id": userID}
	if subjectID != nil {
		filter["subject_id"] = *subjectID
	}
	if documentType != "" {
		filter["document_type"] = documentType
	}

	cursor, err := ds.collection().Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "uploaded_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("document listing failed: %w", err)
	}
	docs := []models.Document{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("document listing failed: %w", err)
	}

	if cacheable {
		if payload, err := json.Marshal(docs); err == nil {
			ds.cache.Set(ctx, key, string(payload), TTLListing)
		}
	}
	return docs, nil
}

// GetStatus serves the processing status snapshot, cache first.
func (ds *DocumentService) GetStatus(ctx context.Context, userID, documentID primitive.ObjectID) (*models.StatusSnapshot, error) {
	key := DocumentStatusKey(documentID.Hex())
	if cached, hit := ds.cache.Get(ctx, key); hit {
		var snapshot models.StatusSnapshot
		if err := json.Unmarshal([]byte(cached), &snapshot); err == nil {
			if snapshot.UserID != userID.Hex() {
				return nil, ErrDocumentNotFound
			}
			return &snapshot, nil
		}
		ds.cache.Delete(ctx, key)
	}

	var doc models.Document
	err := ds.collection().FindOne(ctx, bson.M{"_id": documentID, "user_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("document lookup failed: %w", err)
	}

	ds.cacheStatusSnapshot(ctx, &doc)
	return &models.StatusSnapshot{
		Status:       doc.ProcessingStatus,
		DocumentName: doc.OriginalName,
		DocumentType: doc.DocumentType,
		UserID:       doc.UserID.Hex(),
		UploadedAt:   doc.UploadedAt,
		ProcessedAt:  doc.ProcessedAt,
		Error:        doc.ErrorMessage,
	}, nil
}

// DeleteDocument removes the record, its file and every derived cache entry.
func (ds *DocumentService) DeleteDocument(ctx context.Context, userID, documentID primitive.ObjectID) error {
	var doc models.Document
	err := ds.collection().FindOne(ctx, bson.M{"_id": documentID, "user_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return ErrDocumentNotFound
	}
	if err != nil {
		return fmt.Errorf("document lookup failed: %w", err)
	}

	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to delete stored file", "path", doc.FilePath, "error", err)
		}
	}

	if _, err := ds.collection().DeleteOne(ctx, bson.M{"_id": documentID}); err != nil {
		return fmt.Errorf("document delete failed: %w", err)
	}

	ds.cache.Delete(ctx, DocumentStatusKey(documentID.Hex()))
	ds.invalidateDerived(ctx, &doc)
	logger.Info("Document deleted", "documentId", documentID.Hex())
	return nil
}

// Stats aggregates the user's documents per type plus an overall rollup.
func (ds *DocumentService) Stats(ctx context.Context, userID primitive.ObjectID, subjectID *primitive.ObjectID) (*DocumentStats, error) {
	scope := ""
	if subjectID != nil {
		scope = subjectID.Hex()
	}
	key := DocumentStatsKey(userID.Hex(), scope)
	if cached, hit := ds.cache.Get(ctx, key); hit {
		var stats DocumentStats
		if err := json.Unmarshal([]byte(cached), &stats); err == nil {
			return &stats, nil
		}
		ds.cache.Delete(ctx, key)
	}

	match := bson.M{"user_id": userID}
	if subjectID != nil {
		match["subject_id"] = *subjectID
	}

	completedCond := bson.M{"$cond": bson.A{
		bson.M{"$eq": bson.A{"$processing_status", models.StatusCompleted}}, 1, 0}}
	failedCond := bson.M{"$cond": bson.A{
		bson.M{"$eq": bson.A{"$processing_status", models.StatusFailed}}, 1, 0}}

	byTypeCursor, err := ds.collection().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id":        "$document_type",
			"count":      bson.M{"$sum": 1},
			"total_size": bson.M{"$sum": "$size"},
			"processed":  bson.M{"$sum": completedCond},
			"failed":     bson.M{"$sum": failedCond},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("stats aggregation failed: %w", err)
	}
	byType := []TypeStats{}
	if err := byTypeCursor.All(ctx, &byType); err != nil {
		return nil, fmt.Errorf("stats aggregation failed: %w", err)
	}

	overallCursor, err := ds.collection().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id":             nil,
			"total_documents": bson.M{"$sum": 1},
			"total_storage":   bson.M{"$sum": "$size"},
			"completed":       bson.M{"$sum": completedCond},
			"failed":          bson.M{"$sum": failedCond},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("stats aggregation failed: %w", err)
	}
	var overall []OverallStats
	if err := overallCursor.All(ctx, &overall); err != nil {
		return nil, fmt.Errorf("stats aggregation failed: %w", err)
	}

	stats := &DocumentStats{
		ByType:      byType,
		GeneratedAt: time.Now().UTC(),
	}
	if len(overall) > 0 {
		stats.Overall = overall[0]
	}

	if payload, err := json.Marshal(stats); err == nil {
		ds.cache.Set(ctx, key, string(payload), TTLListing)
	}
	return stats, nil
}

// VectorStats reports index availability and size, cached briefly.
func (ds *DocumentService) VectorStats(ctx context.Context) VectorStats {
	key := VectorStatsKey()
	if cached, hit := ds.cache.Get(ctx, key); hit {
		var stats VectorStats
		if err := json.Unmarshal([]byte(cached), &stats); err == nil {
			return stats
		}
		ds.cache.Delete(ctx, key)
	}

	stats := ds.vectors.Stats(ctx)
	if payload, err := json.Marshal(stats); err == nil {
		ds.cache.Set(ctx, key, string(payload), TTLVectorStats)
	}
	return stats
}
