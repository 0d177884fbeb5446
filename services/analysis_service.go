package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"study-analyzer-platform/internal/logger"
	"study-analyzer-platform/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrSubjectNotFound    = errors.New("subject not found")
	ErrAnalysisNotFound   = errors.New("analysis not found")
	ErrNotEnoughDocuments = errors.New("at least two processed documents are required for analysis")
)

// Context assembly caps, per source material type.
const (
	ctxSyllabusChars = 2000
	ctxNoteChars     = 1000
	ctxPYQChars      = 1500

	minDocumentsForAnalysis = 2
	analysisListLimit       = 20
)

// Analysis strategies selectable per request.
const (
	AnalysisDirect  = "direct"
	AnalysisPattern = "pattern"
)

// AnalysisOptions tune a requested analysis. They are canonicalized into the
// result cache key, so equal options reuse each other's completed results.
type AnalysisOptions struct {
	FocusAreas    []string `json:"focusAreas,omitempty"`
	QuestionTypes []string `json:"questionTypes,omitempty"`
	Depth         string   `json:"depth,omitempty"`
	AnalysisType  string   `json:"analysisType,omitempty"`
}

func (o AnalysisOptions) normalizedType() string {
	if o.AnalysisType == AnalysisPattern {
		return AnalysisPattern
	}
	return AnalysisDirect
}

// TaskEnqueuer hands work to the background queue.
type TaskEnqueuer interface {
	EnqueueDocumentProcessing(ctx context.Context, documentID string) error
	EnqueueAnalysisRun(ctx context.Context, analysisID string, opts AnalysisOptions) error
}

// QuickPrediction is the synchronous single-topic prediction payload.
type QuickPrediction struct {
	Topic           string                     `json:"topic"`
	Questions       []models.GeneratedQuestion `json:"questions"`
	VectorAvailable bool                       `json:"vectorAvailable"`
	FallbackUsed    bool                       `json:"fallbackUsed"`
	CacheHit        bool                       `json:"cacheHit"`
}

// AnalysisService validates analysis requests, runs the prediction engine in
// the background and owns the analysis record lifecycle.
type AnalysisService struct {
	db        *mongo.Database
	cache     *CacheService
	engine    *PredictionEngine
	vectors   *VectorStoreService
	enqueuer  TaskEnqueuer
	retention time.Duration
}

func NewAnalysisService(db *mongo.Database, cache *CacheService, engine *PredictionEngine, vectors *VectorStoreService, enqueuer TaskEnqueuer, retention time.Duration) *AnalysisService {
	return &AnalysisService{
		db:        db,
		cache:     cache,
		engine:    engine,
		vectors:   vectors,
		enqueuer:  enqueuer,
		retention: retention,
	}
}

func (as *AnalysisService) analyses() *mongo.Collection { return as.db.Collection("analyses") }
func (as *AnalysisService) documents() *mongo.Collection {
	return as.db.Collection("documents")
}
func (as *AnalysisService) subjects() *mongo.Collection { return as.db.Collection("subjects") }

// RequestAnalysis validates ownership and material availability, records a
// processing analysis and enqueues the background run. Validation failures
// happen before any record is created.
func (as *AnalysisService) RequestAnalysis(ctx context.Context, userID, subjectID primitive.ObjectID, opts AnalysisOptions) (*models.Analysis, error) {
	var subject models.Subject
	err := as.subjects().FindOne(ctx, bson.M{"_id": subjectID, "user_id": userID}).Decode(&subject)
	if err == mongo.ErrNoDocuments {
		return nil, ErrSubjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("subject lookup failed: %w", err)
	}

	cursor, err := as.documents().Find(ctx, bson.M{
		"subject_id":        subjectID,
		"user_id":           userID,
		"processing_status": models.StatusCompleted,
	})
	if err != nil {
		return nil, fmt.Errorf("document lookup failed: %w", err)
	}
	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("document lookup failed: %w", err)
	}
	if len(docs) < minDocumentsForAnalysis {
		return nil, ErrNotEnoughDocuments
	}

	docIDs := make([]primitive.ObjectID, len(docs))
	for i, doc := range docs {
		docIDs[i] = doc.ID
	}

	now := time.Now().UTC()
	analysis := &models.Analysis{
		UserID:      userID,
		SubjectID:   subjectID,
		DocumentIDs: docIDs,
		Status:      models.AnalysisProcessing,
		Metadata: models.AnalysisMetadata{
			TotalDocuments: len(docs),
			AnalysisType:   opts.normalizedType(),
		},
		ExpiresAt: now.Add(as.retention),
		CreatedAt: now,
		UpdatedAt: now,
	}

	res, err := as.analyses().InsertOne(ctx, analysis)
	if err != nil {
		return nil, fmt.Errorf("analysis insert failed: %w", err)
	}
	analysis.ID = res.InsertedID.(primitive.ObjectID)

	if err := as.enqueuer.EnqueueAnalysisRun(ctx, analysis.ID.Hex(), opts); err != nil {
		as.finalizeFailed(ctx, analysis.ID, fmt.Sprintf("enqueue failed: %v", err))
		return nil, fmt.Errorf("analysis enqueue failed: %w", err)
	}

	if ack, err := json.Marshal(map[string]string{"analysisId": analysis.ID.Hex(), "status": string(analysis.Status)}); err == nil {
		as.cache.Set(ctx, AnalysisKey(analysis.ID.Hex()), string(ack), TTLStatus)
	}

	logger.Info("Analysis started", "analysisId", analysis.ID.Hex(), "subjectId", subjectID.Hex(), "documents", len(docs))
	return analysis, nil
}

// Run executes a previously requested analysis. It is the background task
// body; errors are recorded on the analysis record, and exactly one terminal
// write ever succeeds for a given record.
func (as *AnalysisService) Run(ctx context.Context, analysisID primitive.ObjectID, opts AnalysisOptions) error {
	var analysis models.Analysis
	err := as.analyses().FindOne(ctx, bson.M{"_id": analysisID}).Decode(&analysis)
	if err == mongo.ErrNoDocuments {
		logger.Warn("Analysis record vanished before run", "analysisId", analysisID.Hex())
		return nil
	}
	if err != nil {
		return fmt.Errorf("analysis lookup failed: %w", err)
	}
	if analysis.Status.IsTerminal() {
		return nil
	}

	started := time.Now()

	var subject models.Subject
	if err := as.subjects().FindOne(ctx, bson.M{"_id": analysis.SubjectID}).Decode(&subject); err != nil {
		as.finalizeFailed(ctx, analysisID, fmt.Sprintf("subject lookup failed: %v", err))
		return nil
	}

	cursor, err := as.documents().Find(ctx, bson.M{
		"_id":               bson.M{"$in": analysis.DocumentIDs},
		"processing_status": models.StatusCompleted,
	})
	if err != nil {
		as.finalizeFailed(ctx, analysisID, fmt.Sprintf("document fetch failed: %v", err))
		return nil
	}
	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		as.finalizeFailed(ctx, analysisID, fmt.Sprintf("document fetch failed: %v", err))
		return nil
	}

	hash := OptionsHash(analysis.SubjectID.Hex(), opts)
	resultKey := AnalysisResultKey(analysis.SubjectID.Hex(), hash)

	if cached, hit := as.cache.Get(ctx, resultKey); hit {
		var result PredictionResult
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			logger.Info("Analysis served from cache", "analysisId", analysisID.Hex())
			as.finalizeCompleted(ctx, &analysis, &result, started, true)
			return nil
		}
		as.cache.Delete(ctx, resultKey)
	}

	var result *PredictionResult
	if opts.normalizedType() == AnalysisPattern {
		result = as.engine.RetrievalAnalysis(ctx, analysis.SubjectID.Hex())
	} else {
		analysisContext, hints := buildAnalysisContext(&subject, docs)
		result = as.engine.DirectAnalysis(ctx, analysisContext, hints)
	}

	if payload, err := json.Marshal(result); err == nil {
		as.cache.Set(ctx, resultKey, string(payload), TTLAnalysisResult)
	}

	as.finalizeCompleted(ctx, &analysis, result, started, false)
	return nil
}

// finalizeCompleted writes the terminal completed state. The status filter
// guarantees the first terminal writer wins.
func (as *AnalysisService) finalizeCompleted(ctx context.Context, analysis *models.Analysis, result *PredictionResult, started time.Time, cacheHit bool) {
	metadata := analysis.Metadata
	metadata.ProcessingTimeMS = time.Since(started).Milliseconds()
	metadata.ModelVersion = modelVersionFor(result)
	metadata.CacheHit = cacheHit
	metadata.TokensUsed = result.TokensUsed
	metadata.FallbackUsed = result.FallbackUsed
	if result.AnalysisType != "" {
		metadata.AnalysisType = result.AnalysisType
	}

	res, err := as.analyses().UpdateOne(ctx,
		bson.M{"_id": analysis.ID, "status": models.AnalysisProcessing},
		bson.M{"$set": bson.M{
			"status":              models.AnalysisCompleted,
			"important_topics":    result.ImportantTopics,
			"generated_questions": result.GeneratedQuestions,
			"summary":             result.Summary,
			"metadata":            metadata,
			"updated_at":          time.Now().UTC(),
		}})
	if err != nil {
		logger.Error("Analysis completion write failed", "analysisId", analysis.ID.Hex(), "error", err)
		return
	}
	if res.ModifiedCount == 0 {
		logger.Warn("Analysis already finalized, skipping write", "analysisId", analysis.ID.Hex())
		return
	}

	as.cache.Delete(ctx, AnalysisKey(analysis.ID.Hex()), AnalysisListKey(analysis.UserID.Hex()))
	logger.Info("Analysis completed", "analysisId", analysis.ID.Hex(), "fallback", result.FallbackUsed)
}

func (as *AnalysisService) finalizeFailed(ctx context.Context, analysisID primitive.ObjectID, reason string) {
	res, err := as.analyses().UpdateOne(ctx,
		bson.M{"_id": analysisID, "status": models.AnalysisProcessing},
		bson.M{"$set": bson.M{
			"status":         models.AnalysisFailed,
			"metadata.error": reason,
			"updated_at":     time.Now().UTC(),
		}})
	if err != nil {
		logger.Error("Analysis failure write failed", "analysisId", analysisID.Hex(), "error", err)
		return
	}
	if res.ModifiedCount > 0 {
		as.cache.Delete(ctx, AnalysisKey(analysisID.Hex()))
		logger.Error("Analysis failed", "analysisId", analysisID.Hex(), "reason", reason)
	}
}

// GetAnalysis returns an analysis owned by the user.
func (as *AnalysisService) GetAnalysis(ctx context.Context, userID, analysisID primitive.ObjectID) (*models.Analysis, error) {
	var analysis models.Analysis
	err := as.analyses().FindOne(ctx, bson.M{"_id": analysisID, "user_id": userID}).Decode(&analysis)
	if err == mongo.ErrNoDocuments {
		return nil, ErrAnalysisNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("analysis lookup failed: %w", err)
	}
	return &analysis, nil
}

// ListAnalyses returns the user's most recent analyses, optionally scoped to
// a subject.
func (as *AnalysisService) ListAnalyses(ctx context.Context, userID primitive.ObjectID, subjectID *primitive.ObjectID) ([]models.Analysis, error) {
	filter := bson.M{"user_id": userID}
	if subjectID != nil {
		filter["subject_id"] = *subjectID
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(analysisListLimit)

	cursor, err := as.analyses().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("analysis listing failed: %w", err)
	}
	analyses := []models.Analysis{}
	if err := cursor.All(ctx, &analyses); err != nil {
		return nil, fmt.Errorf("analysis listing failed: %w", err)
	}
	return analyses, nil
}

// QuickPredict answers a single-topic prediction synchronously, cache first.
func (as *AnalysisService) QuickPredict(ctx context.Context, userID, subjectID primitive.ObjectID, topic string) (*QuickPrediction, error) {
	err := as.subjects().FindOne(ctx, bson.M{"_id": subjectID, "user_id": userID}).Err()
	if err == mongo.ErrNoDocuments {
		return nil, ErrSubjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("subject lookup failed: %w", err)
	}

	key := QuickPredictKey(subjectID.Hex(), topic)
	if cached, hit := as.cache.Get(ctx, key); hit {
		var prediction QuickPrediction
		if err := json.Unmarshal([]byte(cached), &prediction); err == nil {
			prediction.CacheHit = true
			return &prediction, nil
		}
		as.cache.Delete(ctx, key)
	}

	vectorAvailable := as.vectors.Available(ctx)
	chunks := as.vectors.Query(ctx, topic, subjectID.Hex(), 5, nil)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\n", topic)
	if len(chunks) > 0 {
		sb.WriteString("\nRELEVANT MATERIAL:\n")
		for i, chunk := range chunks {
			fmt.Fprintf(&sb, "Excerpt %d:\n%s\n\n", i+1, truncate(chunk.Content, ctxNoteChars))
		}
	}

	result := as.engine.DirectAnalysis(ctx, sb.String(), []string{topic})

	prediction := &QuickPrediction{
		Topic:           topic,
		Questions:       result.GeneratedQuestions,
		VectorAvailable: vectorAvailable,
		FallbackUsed:    result.FallbackUsed,
	}

	if payload, err := json.Marshal(prediction); err == nil {
		as.cache.Set(ctx, key, string(payload), TTLAnalysisResult)
	}
	return prediction, nil
}

// PurgeExpired deletes analyses past their expiry and drops their cache
// entries. Returns the number of records removed.
func (as *AnalysisService) PurgeExpired(ctx context.Context) (int64, error) {
	cursor, err := as.analyses().Find(ctx,
		bson.M{"expires_at": bson.M{"$lt": time.Now().UTC()}},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, fmt.Errorf("expired analysis scan failed: %w", err)
	}

	var expired []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &expired); err != nil {
		return 0, fmt.Errorf("expired analysis scan failed: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]primitive.ObjectID, len(expired))
	keys := make([]string, len(expired))
	for i, rec := range expired {
		ids[i] = rec.ID
		keys[i] = AnalysisKey(rec.ID.Hex())
	}

	res, err := as.analyses().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("expired analysis delete failed: %w", err)
	}

	as.cache.Delete(ctx, keys...)
	return res.DeletedCount, nil
}

// OptionsHash canonicalizes analysis options into a deterministic cache key
// segment: list order never changes the hash.
func OptionsHash(subjectID string, opts AnalysisOptions) string {
	focus := append([]string(nil), opts.FocusAreas...)
	types := append([]string(nil), opts.QuestionTypes...)
	sort.Strings(focus)
	sort.Strings(types)

	canonical, _ := json.Marshal(AnalysisOptions{
		FocusAreas:    focus,
		QuestionTypes: types,
		Depth:         opts.Depth,
		AnalysisType:  opts.normalizedType(),
	})

	sum := sha256.Sum256([]byte(subjectID + "|" + string(canonical)))
	return hex.EncodeToString(sum[:8])
}

// buildAnalysisContext assembles the prompt context from typed materials,
// bounding each source's contribution. Returns the context plus topic hints
// harvested from document metadata for fallback use.
func buildAnalysisContext(subject *models.Subject, docs []models.Document) (string, []string) {
	var syllabus *models.Document
	var notes, pyqs []models.Document
	for i := range docs {
		switch docs[i].DocumentType {
		case models.DocTypeSyllabus:
			if syllabus == nil {
				syllabus = &docs[i]
			}
		case models.DocTypePYQ:
			pyqs = append(pyqs, docs[i])
		default:
			notes = append(notes, docs[i])
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Subject: %s\n", subject.Name)
	if subject.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", subject.Description)
	}

	if syllabus != nil {
		fmt.Fprintf(&sb, "\nSYLLABUS:\n%s\n", truncate(syllabus.Content, ctxSyllabusChars))
	}

	if len(notes) > 0 {
		sb.WriteString("\nSTUDY NOTES:\n")
		for i, note := range notes {
			fmt.Fprintf(&sb, "Note %d:\n%s\n\n", i+1, truncate(note.Content, ctxNoteChars))
		}
	}

	if len(pyqs) > 0 {
		sb.WriteString("\nPREVIOUS YEAR QUESTIONS:\n")
		for i, pyq := range pyqs {
			fmt.Fprintf(&sb, "PYQ Set %d:\n%s\n\n", i+1, truncate(pyq.Content, ctxPYQChars))
		}
	}

	seen := map[string]bool{}
	hints := []string{}
	for _, doc := range docs {
		for _, topic := range doc.Metadata.Topics {
			if !seen[topic] {
				seen[topic] = true
				hints = append(hints, topic)
			}
		}
	}

	return sb.String(), hints
}

// truncate caps s at limit bytes without splitting a UTF-8 sequence.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func modelVersionFor(result *PredictionResult) string {
	if len(result.GeneratedQuestions) > 0 {
		return result.GeneratedQuestions[0].ModelUsed
	}
	return ""
}
