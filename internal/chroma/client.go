package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a Chroma server over its HTTP collection API.
type Client interface {
	ListCollections(ctx context.Context) ([]Collection, error)
	CreateCollection(ctx context.Context, name string, metadata map[string]any) (*Collection, error)
	Add(ctx context.Context, collectionID string, req AddRequest) error
	Query(ctx context.Context, collectionID string, req QueryRequest) (*QueryResponse, error)
	Count(ctx context.Context, collectionID string) (int, error)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) (Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "http://localhost:8000"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Collection describes a Chroma collection.
type Collection struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type createCollectionRequest struct {
	Name        string         `json:"name"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	GetOrCreate bool           `json:"get_or_create"`
}

// AddRequest carries a batch of embedded documents.
type AddRequest struct {
	IDs        []string         `json:"ids"`
	Embeddings [][]float32      `json:"embeddings"`
	Metadatas  []map[string]any `json:"metadatas,omitempty"`
	Documents  []string         `json:"documents,omitempty"`
}

// QueryRequest asks for the nearest neighbors of the query embeddings,
// optionally restricted by a metadata filter.
type QueryRequest struct {
	QueryEmbeddings [][]float32    `json:"query_embeddings"`
	NResults        int            `json:"n_results"`
	Where           map[string]any `json:"where,omitempty"`
	Include         []string       `json:"include,omitempty"`
}

// QueryResponse holds per-query result lists, parallel across fields.
type QueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float64        `json:"distances"`
}

func (c *client) ListCollections(ctx context.Context) ([]Collection, error) {
	u := c.url("/api/v1/collections")
	out, err := doJSON[[]Collection](c, ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

func (c *client) CreateCollection(ctx context.Context, name string, metadata map[string]any) (*Collection, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("collection name required")
	}
	u := c.url("/api/v1/collections")
	return doJSON[Collection](c, ctx, http.MethodPost, u, createCollectionRequest{
		Name:        name,
		Metadata:    metadata,
		GetOrCreate: true,
	})
}

func (c *client) Add(ctx context.Context, collectionID string, req AddRequest) error {
	if len(req.IDs) == 0 {
		return nil
	}
	if len(req.IDs) != len(req.Embeddings) {
		return fmt.Errorf("ids and embeddings length mismatch: %d vs %d", len(req.IDs), len(req.Embeddings))
	}
	u := c.url("/api/v1/collections/" + collectionID + "/add")
	_, err := doJSON[json.RawMessage](c, ctx, http.MethodPost, u, req)
	return err
}

func (c *client) Query(ctx context.Context, collectionID string, req QueryRequest) (*QueryResponse, error) {
	if len(req.QueryEmbeddings) == 0 {
		return nil, fmt.Errorf("query embeddings required")
	}
	if req.NResults <= 0 {
		req.NResults = 10
	}
	if len(req.Include) == 0 {
		req.Include = []string{"documents", "metadatas", "distances"}
	}
	u := c.url("/api/v1/collections/" + collectionID + "/query")
	return doJSON[QueryResponse](c, ctx, http.MethodPost, u, req)
}

func (c *client) Count(ctx context.Context, collectionID string) (int, error) {
	u := c.url("/api/v1/collections/" + collectionID + "/count")
	out, err := doJSON[int](c, ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	return *out, nil
}

func (c *client) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func doJSON[T any](c *client, ctx context.Context, method, url string, body any) (*T, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chroma http %d: %s", resp.StatusCode, string(raw))
	}

	var out T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("chroma decode error: %w", err)
		}
	}
	return &out, nil
}
