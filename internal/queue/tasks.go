package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"study-analyzer-platform/internal/logger"
	"study-analyzer-platform/services"
)

const (
	TaskProcessDocument = "document:process"
	TaskRunAnalysis     = "analysis:run"
)

type DocumentProcessPayload struct {
	DocumentID string `json:"document_id"`
}

type AnalysisRunPayload struct {
	AnalysisID string                   `json:"analysis_id"`
	Options    services.AnalysisOptions `json:"options"`
}

// Task creators. Both task kinds use MaxRetry(0): the handler records the
// failed state on the owning record exactly once, so a retry would race the
// terminal write.
func NewDocumentProcessTask(documentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DocumentProcessPayload{DocumentID: documentID})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskProcessDocument,
		payload,
		asynq.MaxRetry(0),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

func NewAnalysisRunTask(analysisID string, opts services.AnalysisOptions) (*asynq.Task, error) {
	payload, err := json.Marshal(AnalysisRunPayload{AnalysisID: analysisID, Options: opts})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskRunAnalysis,
		payload,
		asynq.MaxRetry(0),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("default"),
	), nil
}

// Client enqueues tasks for the worker. It satisfies services.TaskEnqueuer.
type Client struct {
	client *asynq.Client
}

func NewClient(redisURL, redisPassword string, redisDB int) *Client {
	return &Client{client: asynq.NewClient(RedisConnOpt(redisURL, redisPassword, redisDB))}
}

// RedisConnOpt accepts either a redis:// URL or a plain host:port address.
func RedisConnOpt(redisURL, redisPassword string, redisDB int) asynq.RedisConnOpt {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		if opt, err := asynq.ParseRedisURI(redisURL); err == nil {
			return opt
		}
	}
	return asynq.RedisClientOpt{
		Addr:     redisURL,
		Password: redisPassword,
		DB:       redisDB,
	}
}

func (c *Client) EnqueueDocumentProcessing(ctx context.Context, documentID string) error {
	task, err := NewDocumentProcessTask(documentID)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskProcessDocument, err)
	}
	logger.Debug("Enqueued document processing", "taskId", info.ID, "documentId", documentID)
	return nil
}

func (c *Client) EnqueueAnalysisRun(ctx context.Context, analysisID string, opts services.AnalysisOptions) error {
	task, err := NewAnalysisRunTask(analysisID, opts)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskRunAnalysis, err)
	}
	logger.Debug("Enqueued analysis run", "taskId", info.ID, "analysisId", analysisID)
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Task handlers
type TaskProcessor struct {
	documents *services.DocumentService
	analyses  *services.AnalysisService
}

func NewTaskProcessor(documents *services.DocumentService, analyses *services.AnalysisService) *TaskProcessor {
	return &TaskProcessor{documents: documents, analyses: analyses}
}

// Register wires the handlers onto an asynq mux.
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskProcessDocument, p.ProcessDocument)
	mux.HandleFunc(TaskRunAnalysis, p.RunAnalysis)
}

func (p *TaskProcessor) ProcessDocument(ctx context.Context, t *asynq.Task) error {
	var payload DocumentProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	documentID, err := primitive.ObjectIDFromHex(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("bad document id %q: %w", payload.DocumentID, asynq.SkipRetry)
	}

	logger.Info("Processing document task", "documentId", payload.DocumentID)
	return p.documents.Process(ctx, documentID)
}

func (p *TaskProcessor) RunAnalysis(ctx context.Context, t *asynq.Task) error {
	var payload AnalysisRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	analysisID, err := primitive.ObjectIDFromHex(payload.AnalysisID)
	if err != nil {
		return fmt.Errorf("bad analysis id %q: %w", payload.AnalysisID, asynq.SkipRetry)
	}

	logger.Info("Running analysis task", "analysisId", payload.AnalysisID)
	return p.analyses.Run(ctx, analysisID, payload.Options)
}
