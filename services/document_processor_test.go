package services

import (
	"errors"
	"strings"
	"testing"
)

func TestExtractPlainTextNotes(t *testing.T) {
	dp := NewDocumentProcessor(10 << 20)

	result, err := dp.Extract([]byte("Chapter 1 introduces vectors."), MimeText)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if result.Content != "Chapter 1 introduces vectors." {
		t.Errorf("unexpected content: %q", result.Content)
	}
	if result.Metadata.WordCount != 5 {
		t.Errorf("word count = %d, want 5", result.Metadata.WordCount)
	}
	if len(result.Metadata.Topics) != 1 {
		t.Fatalf("topics = %v, want one entry", result.Metadata.Topics)
	}
	if len(result.Metadata.Topics[0]) > 100 {
		t.Errorf("topic exceeds 100 characters: %d", len(result.Metadata.Topics[0]))
	}
}

func TestExtractUnsupportedType(t *testing.T) {
	dp := NewDocumentProcessor(10 << 20)

	_, err := dp.Extract([]byte("data"), "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	if !errors.Is(err, ErrUnsupportedMediaType) {
		t.Errorf("expected ErrUnsupportedMediaType, got %v", err)
	}
}

func TestValidateUpload(t *testing.T) {
	dp := NewDocumentProcessor(100)

	if err := dp.ValidateUpload(50, MimeText); err != nil {
		t.Errorf("valid upload rejected: %v", err)
	}
	if err := dp.ValidateUpload(200, MimeText); err == nil {
		t.Error("oversized upload accepted")
	}
	if err := dp.ValidateUpload(50, "image/png"); !errors.Is(err, ErrUnsupportedMediaType) {
		t.Errorf("expected ErrUnsupportedMediaType, got %v", err)
	}
}

func TestCleanContentCollapsesWhitespace(t *testing.T) {
	got := cleanContent("a\t b\n\n  c   d ")
	if got != "a b c d" {
		t.Errorf("cleanContent = %q, want %q", got, "a b c d")
	}
}

func TestWordCountMatchesFields(t *testing.T) {
	cases := map[string]int{
		"":                0,
		"   ":             0,
		"one":             1,
		"one two  three ": 3,
	}
	for in, want := range cases {
		if got := countWords(in); got != want {
			t.Errorf("countWords(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestExtractTopicsRules(t *testing.T) {
	content := strings.Join([]string{
		"Chapter 1: Kinematics basics",
		"short line",
		"Unit 2: Laws of Motion explained",
		"Chapter 1: Kinematics basics", // duplicate
		"no heading keyword in this line at all",
		"Topic: " + strings.Repeat("x", 200),
	}, "\n")

	topics := extractTopics(content)

	if len(topics) != 3 {
		t.Fatalf("topics = %v, want 3 entries", topics)
	}
	for _, topic := range topics {
		if len(topic) > 100 {
			t.Errorf("topic %q exceeds 100 characters", topic)
		}
	}
}

func TestExtractTopicsCap(t *testing.T) {
	var lines []string
	for i := 0; i < 15; i++ {
		lines = append(lines, strings.Repeat("ab", 6)+" chapter "+strings.Repeat("x", i+1))
	}
	topics := extractTopics(strings.Join(lines, "\n"))
	if len(topics) > 10 {
		t.Errorf("topic list length %d exceeds cap of 10", len(topics))
	}
}
