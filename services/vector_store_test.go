package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"study-analyzer-platform/internal/ai"
	"study-analyzer-platform/internal/chroma"
)

type fakeChroma struct {
	collections []chroma.Collection
	added       []chroma.AddRequest
	queryResp   *chroma.QueryResponse
	count       int
	listErr     error
	addErr      error
	queryErr    error
	listCalls   int
}

func (f *fakeChroma) ListCollections(ctx context.Context) ([]chroma.Collection, error) {
	f.listCalls++
	return f.collections, f.listErr
}

func (f *fakeChroma) CreateCollection(ctx context.Context, name string, metadata map[string]any) (*chroma.Collection, error) {
	col := chroma.Collection{ID: "col-1", Name: name}
	f.collections = append(f.collections, col)
	return &col, nil
}

func (f *fakeChroma) Add(ctx context.Context, collectionID string, req chroma.AddRequest) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, req)
	return nil
}

func (f *fakeChroma) Query(ctx context.Context, collectionID string, req chroma.QueryRequest) (*chroma.QueryResponse, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.queryResp, nil
}

func (f *fakeChroma) Count(ctx context.Context, collectionID string) (int, error) {
	return f.count, nil
}

func testEmbedder() *ai.EmbeddingService {
	return ai.NewEmbeddingService(context.Background(), "", "test-model", 8, 4000)
}

func TestInitializeReusesCollection(t *testing.T) {
	fake := &fakeChroma{collections: []chroma.Collection{{ID: "existing", Name: "study_materials"}}}
	vs := NewVectorStoreService(fake, testEmbedder(), "study_materials", 50, 4000)

	if !vs.Initialize(context.Background()) {
		t.Fatal("initialize should succeed")
	}
	if !vs.Initialize(context.Background()) {
		t.Fatal("second initialize should succeed")
	}
	if fake.listCalls != 1 {
		t.Errorf("list called %d times, want 1", fake.listCalls)
	}
}

func TestInitializeUnavailable(t *testing.T) {
	fake := &fakeChroma{listErr: errors.New("connection refused")}
	vs := NewVectorStoreService(fake, testEmbedder(), "study_materials", 50, 4000)

	if vs.Initialize(context.Background()) {
		t.Error("initialize should report unavailable")
	}
}

func TestUpsertFiltersShortChunks(t *testing.T) {
	fake := &fakeChroma{}
	vs := NewVectorStoreService(fake, testEmbedder(), "study_materials", 50, 4000)

	long := strings.Repeat("physics notes ", 10)
	n := vs.Upsert(context.Background(), []VectorChunk{
		{DocumentID: "d1", SubjectID: "s1", DocumentType: "note", Content: "too short"},
		{DocumentID: "d2", SubjectID: "s1", DocumentType: "note", Content: long},
	})

	if n != 1 {
		t.Fatalf("upserted %d chunks, want 1", n)
	}
	if len(fake.added) != 1 || len(fake.added[0].IDs) != 1 {
		t.Fatalf("unexpected add payload: %+v", fake.added)
	}
	if got := fake.added[0].Metadatas[0]["documentId"]; got != "d2" {
		t.Errorf("documentId = %v, want d2", got)
	}
	if len(fake.added[0].Embeddings[0]) != 8 {
		t.Errorf("embedding dimension = %d, want 8", len(fake.added[0].Embeddings[0]))
	}
}

func TestUpsertTruncatesLongChunks(t *testing.T) {
	fake := &fakeChroma{}
	vs := NewVectorStoreService(fake, testEmbedder(), "study_materials", 50, 100)

	n := vs.Upsert(context.Background(), []VectorChunk{
		{DocumentID: "d1", Content: strings.Repeat("x", 500)},
	})

	if n != 1 {
		t.Fatalf("upserted %d chunks, want 1", n)
	}
	if len(fake.added[0].Documents[0]) != 100 {
		t.Errorf("stored chunk length = %d, want 100", len(fake.added[0].Documents[0]))
	}
}

func TestUpsertFailureReturnsZero(t *testing.T) {
	fake := &fakeChroma{addErr: errors.New("write failed")}
	vs := NewVectorStoreService(fake, testEmbedder(), "study_materials", 50, 4000)

	n := vs.Upsert(context.Background(), []VectorChunk{
		{DocumentID: "d1", Content: strings.Repeat("x", 60)},
	})
	if n != 0 {
		t.Errorf("upsert count = %d, want 0 on failure", n)
	}
}

func TestQueryRankedResults(t *testing.T) {
	fake := &fakeChroma{
		queryResp: &chroma.QueryResponse{
			Documents: [][]string{{"chunk a", "chunk b"}},
			Metadatas: [][]map[string]any{{{"documentId": "d1"}, {"documentId": "d2"}}},
			Distances: [][]float64{{0.1, 0.4}},
		},
	}
	vs := NewVectorStoreService(fake, testEmbedder(), "study_materials", 50, 4000)

	results := vs.Query(context.Background(), "vectors", "s1", 5, nil)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Content != "chunk a" || results[0].Distance != 0.1 {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if results[1].Metadata["documentId"] != "d2" {
		t.Errorf("unexpected second metadata: %+v", results[1].Metadata)
	}
}

func TestQueryFailureYieldsEmpty(t *testing.T) {
	fake := &fakeChroma{queryErr: errors.New("query failed")}
	vs := NewVectorStoreService(fake, testEmbedder(), "study_materials", 50, 4000)

	if results := vs.Query(context.Background(), "vectors", "s1", 5, nil); len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}

func TestUpsertTruncatesOnRuneBoundary(t *testing.T) {
	fake := &fakeChroma{}
	vs := NewVectorStoreService(fake, testEmbedder(), "study_materials", 50, 100)

	// 99 ASCII bytes followed by a 3-byte rune straddling the 100-byte cap.
	n := vs.Upsert(context.Background(), []VectorChunk{
		{DocumentID: "d1", Content: strings.Repeat("x", 99) + "日本語"},
	})

	if n != 1 {
		t.Fatalf("upserted %d chunks, want 1", n)
	}
	stored := fake.added[0].Documents[0]
	if len(stored) != 99 {
		t.Errorf("stored chunk length = %d, want 99 (rune boundary)", len(stored))
	}
	if !strings.HasSuffix(stored, "x") {
		t.Errorf("stored chunk ends with partial rune: %q", stored[len(stored)-3:])
	}
}

func TestAvailable(t *testing.T) {
	up := NewVectorStoreService(&fakeChroma{}, testEmbedder(), "study_materials", 50, 4000)
	if !up.Available(context.Background()) {
		t.Error("reachable store should be available")
	}

	down := NewVectorStoreService(&fakeChroma{listErr: errors.New("down")}, testEmbedder(), "study_materials", 50, 4000)
	if down.Available(context.Background()) {
		t.Error("unreachable store should not be available")
	}
}

func TestStats(t *testing.T) {
	fake := &fakeChroma{count: 42}
	vs := NewVectorStoreService(fake, testEmbedder(), "study_materials", 50, 4000)

	stats := vs.Stats(context.Background())
	if !stats.Ready || stats.Count != 42 {
		t.Errorf("stats = %+v, want ready with count 42", stats)
	}

	down := NewVectorStoreService(&fakeChroma{listErr: errors.New("down")}, testEmbedder(), "study_materials", 50, 4000)
	stats = down.Stats(context.Background())
	if stats.Ready || stats.Count != 0 {
		t.Errorf("stats = %+v, want not ready", stats)
	}
}
