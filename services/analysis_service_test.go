package services

import (
	"strings"
	"testing"

	"study-analyzer-platform/models"
)

func TestOptionsHashDeterministic(t *testing.T) {
	a := OptionsHash("s1", AnalysisOptions{FocusAreas: []string{"waves", "optics"}, Depth: "deep"})
	b := OptionsHash("s1", AnalysisOptions{FocusAreas: []string{"optics", "waves"}, Depth: "deep"})
	if a != b {
		t.Error("focus area order must not change the hash")
	}

	if a == OptionsHash("s2", AnalysisOptions{FocusAreas: []string{"waves", "optics"}, Depth: "deep"}) {
		t.Error("different subjects must hash differently")
	}
	if a == OptionsHash("s1", AnalysisOptions{FocusAreas: []string{"waves"}, Depth: "deep"}) {
		t.Error("different options must hash differently")
	}
}

func TestOptionsHashNormalizesAnalysisType(t *testing.T) {
	implicit := OptionsHash("s1", AnalysisOptions{})
	explicit := OptionsHash("s1", AnalysisOptions{AnalysisType: AnalysisDirect})
	if implicit != explicit {
		t.Error("empty analysis type must hash the same as explicit direct")
	}
	if implicit == OptionsHash("s1", AnalysisOptions{AnalysisType: AnalysisPattern}) {
		t.Error("pattern analysis must hash differently from direct")
	}
}

func TestBuildAnalysisContextTruncation(t *testing.T) {
	subject := &models.Subject{Name: "Physics", Description: "Mechanics and waves"}
	docs := []models.Document{
		{DocumentType: models.DocTypeSyllabus, Content: strings.Repeat("s", 5000)},
		{DocumentType: models.DocTypeNotes, Content: strings.Repeat("n", 3000)},
		{DocumentType: models.DocTypePYQ, Content: strings.Repeat("q", 4000)},
	}

	context, _ := buildAnalysisContext(subject, docs)

	if !strings.Contains(context, "Subject: Physics") {
		t.Error("context should carry the subject header")
	}
	if !strings.Contains(context, "Description: Mechanics and waves") {
		t.Error("context should carry the subject description")
	}
	if got := strings.Count(context, "s"); got < 2000 || strings.Contains(context, strings.Repeat("s", 2001)) {
		t.Error("syllabus contribution must be capped at 2000 characters")
	}
	if strings.Contains(context, strings.Repeat("n", 1001)) {
		t.Error("note contribution must be capped at 1000 characters")
	}
	if strings.Contains(context, strings.Repeat("q", 1501)) {
		t.Error("pyq contribution must be capped at 1500 characters")
	}
}

func TestBuildAnalysisContextSections(t *testing.T) {
	subject := &models.Subject{Name: "Math"}
	docs := []models.Document{
		{DocumentType: models.DocTypeNotes, Content: "note one", Metadata: models.DocumentMetadata{Topics: []string{"Chapter 1: Algebra"}}},
		{DocumentType: models.DocTypeNotes, Content: "note two", Metadata: models.DocumentMetadata{Topics: []string{"Chapter 1: Algebra", "Unit 2: Calculus"}}},
	}

	context, hints := buildAnalysisContext(subject, docs)

	if strings.Contains(context, "SYLLABUS") {
		t.Error("no syllabus section without a syllabus document")
	}
	if !strings.Contains(context, "Note 1:") || !strings.Contains(context, "Note 2:") {
		t.Error("notes should be numbered")
	}
	if len(hints) != 2 {
		t.Errorf("hints = %v, want 2 deduplicated topics", hints)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	short := "brief"
	if got := truncate(short, 100); got != short {
		t.Errorf("truncate(%q, 100) = %q, want unchanged", short, got)
	}

	// The 2-byte é straddles an 11-byte cap; the whole rune must be dropped.
	s := strings.Repeat("a", 10) + "é"
	if got := truncate(s, 11); got != strings.Repeat("a", 10) {
		t.Errorf("truncate = %q, want %q", got, strings.Repeat("a", 10))
	}
	if got := truncate(s, 12); got != s {
		t.Errorf("truncate at full length = %q, want %q", got, s)
	}
}

func TestTextbookTreatedAsNotes(t *testing.T) {
	subject := &models.Subject{Name: "Chem"}
	docs := []models.Document{
		{DocumentType: models.DocTypeTextbook, Content: "textbook chapter"},
	}

	context, _ := buildAnalysisContext(subject, docs)
	if !strings.Contains(context, "STUDY NOTES") {
		t.Error("textbook content should flow into the notes section")
	}
}
