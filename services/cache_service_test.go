package services

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCacheKeyConvention(t *testing.T) {
	cases := []struct {
		got  string
		want string
	}{
		{DocumentKey("abc"), "document:abc"},
		{DocumentStatusKey("abc"), "doc_status:abc"},
		{DocumentListKey("u1", "s1"), "documents:u1:s1"},
		{DocumentListKey("u1", ""), "documents:u1:all"},
		{DocumentStatsKey("u1", ""), "doc_stats:u1:all"},
		{AnalysisKey("a1"), "analysis:a1"},
		{AnalysisResultKey("s1", "deadbeef"), "analysis:s1:deadbeef"},
		{AnalysisListKey("u1"), "analyses:u1"},
		{VectorStatsKey(), "vector_stats:global"},
	}

	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("key = %q, want %q", tc.got, tc.want)
		}
	}
}

func TestQuickPredictKeyStable(t *testing.T) {
	a := QuickPredictKey("s1", "thermodynamics")
	b := QuickPredictKey("s1", "thermodynamics")
	if a != b {
		t.Error("same topic must produce the same key")
	}
	if a == QuickPredictKey("s1", "optics") {
		t.Error("different topics must produce different keys")
	}
	if !strings.HasPrefix(a, "quick_predict:s1:") {
		t.Errorf("unexpected key shape: %s", a)
	}
}

// A service with no backend behaves as a permanent miss and never errors.
func TestCacheDegradedMode(t *testing.T) {
	cs := NewCacheService(nil)
	ctx := context.Background()

	if ok := cs.Set(ctx, "k", "v", time.Minute); ok {
		t.Error("Set should report failure without a backend")
	}
	if _, hit := cs.Get(ctx, "k"); hit {
		t.Error("Get should miss without a backend")
	}
	if cs.Exists(ctx, "k") {
		t.Error("Exists should be false without a backend")
	}
	if !cs.Delete(ctx) {
		t.Error("Delete of no keys should trivially succeed")
	}
	if cs.Ping(ctx) {
		t.Error("Ping should be false without a backend")
	}
}
