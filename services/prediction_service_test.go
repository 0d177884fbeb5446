package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"study-analyzer-platform/models"
)

type fakeGenerator struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeGenerator) Model() string { return "test-model" }

type fakeSearcher struct {
	byQuery map[string][]SearchResult
}

func (f *fakeSearcher) Query(ctx context.Context, text, subjectID string, k int, where map[string]any) []SearchResult {
	return f.byQuery[text]
}

const validAnalysisJSON = `{
  "importantTopics": [
    {"topic": "Kinematics", "frequency": 80, "weightage": 70, "priority": "high", "confidence": 0.9, "trend": "stable"}
  ],
  "generatedQuestions": [
    {"question": "Define velocity", "type": "definition", "marks": 2, "difficulty": "easy", "topic": "Kinematics", "estimatedTime": 5}
  ],
  "summary": {"overview": "Focus on mechanics"}
}`

func TestDirectAnalysisParsesFencedJSON(t *testing.T) {
	gen := &fakeGenerator{response: "Here is my analysis:\n```json\n" + validAnalysisJSON + "\n```\nGood luck!"}
	pe := NewPredictionEngine(gen, &fakeSearcher{})

	result := pe.DirectAnalysis(context.Background(), "Subject: Physics", nil)

	if result.FallbackUsed {
		t.Fatal("valid response should not trigger fallback")
	}
	if len(result.ImportantTopics) != 1 || result.ImportantTopics[0].Topic != "Kinematics" {
		t.Errorf("unexpected topics: %+v", result.ImportantTopics)
	}
	if len(result.GeneratedQuestions) != 1 {
		t.Fatalf("unexpected questions: %+v", result.GeneratedQuestions)
	}
	q := result.GeneratedQuestions[0]
	if q.ID == "" {
		t.Error("question id should be assigned when absent")
	}
	if q.ModelUsed != "test-model" {
		t.Errorf("modelUsed = %q, want test-model", q.ModelUsed)
	}
}

func TestDirectAnalysisParsesRawJSON(t *testing.T) {
	gen := &fakeGenerator{response: "noise before " + validAnalysisJSON + " noise after"}
	pe := NewPredictionEngine(gen, &fakeSearcher{})

	result := pe.DirectAnalysis(context.Background(), "ctx", nil)
	if result.FallbackUsed {
		t.Error("raw JSON object should parse without fallback")
	}
}

func TestDirectAnalysisRejectsInvalidEnums(t *testing.T) {
	cases := map[string]string{
		"bad priority":   `{"importantTopics":[{"topic":"T","frequency":50,"weightage":50,"priority":"urgent","confidence":0.5}],"generatedQuestions":[]}`,
		"bad frequency":  `{"importantTopics":[{"topic":"T","frequency":150,"weightage":50,"priority":"high","confidence":0.5}],"generatedQuestions":[]}`,
		"bad confidence": `{"importantTopics":[{"topic":"T","frequency":50,"weightage":50,"priority":"high","confidence":1.5}],"generatedQuestions":[]}`,
		"bad type":       `{"importantTopics":[],"generatedQuestions":[{"question":"Q","type":"essay","marks":5,"difficulty":"easy","estimatedTime":5}]}`,
		"zero marks":     `{"importantTopics":[],"generatedQuestions":[{"question":"Q","type":"problem","marks":0,"difficulty":"easy","estimatedTime":5}]}`,
		"zero time":      `{"importantTopics":[],"generatedQuestions":[{"question":"Q","type":"problem","marks":5,"difficulty":"easy","estimatedTime":0}]}`,
	}

	for name, payload := range cases {
		if _, err := parseAnalysisResponse(payload, "m"); !errors.Is(err, ErrInvalidPrediction) {
			t.Errorf("%s: expected ErrInvalidPrediction, got %v", name, err)
		}
	}
}

func TestDirectAnalysisFallsBackOnGenerationError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("provider down")}
	pe := NewPredictionEngine(gen, &fakeSearcher{})

	result := pe.DirectAnalysis(context.Background(), "ctx", []string{"Thermodynamics", "Optics"})

	if !result.FallbackUsed {
		t.Fatal("fallback flag should be set")
	}
	if len(result.GeneratedQuestions) != 2 {
		t.Fatalf("questions = %d, want 2", len(result.GeneratedQuestions))
	}
	q := result.GeneratedQuestions[0]
	if !strings.Contains(q.Question, "Thermodynamics") {
		t.Errorf("fallback question should name the topic: %q", q.Question)
	}
	if q.Marks != 5 || q.Difficulty != models.DifficultyMedium {
		t.Errorf("fallback question shape: %+v", q)
	}
}

func TestDirectAnalysisFallbackWithoutHintsStillGeneratesQuestions(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("provider down")}
	pe := NewPredictionEngine(gen, &fakeSearcher{})

	result := pe.DirectAnalysis(context.Background(), "Subject: Physics", nil)

	if !result.FallbackUsed {
		t.Fatal("fallback flag should be set")
	}
	if len(result.GeneratedQuestions) == 0 {
		t.Error("fallback must generate questions even without topic hints")
	}
	if len(result.ImportantTopics) == 0 {
		t.Error("fallback must list topics even without topic hints")
	}
}

func TestRetrievalAnalysisFallbackWithoutRetrievedTopics(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("provider down")}
	pe := NewPredictionEngine(gen, &fakeSearcher{})

	result := pe.RetrievalAnalysis(context.Background(), "s1")

	if !result.FallbackUsed {
		t.Fatal("fallback flag should be set")
	}
	if len(result.GeneratedQuestions) == 0 {
		t.Error("fallback must generate questions when the index yields nothing")
	}
}

func TestFallbackCapsAtFiveQuestions(t *testing.T) {
	pe := NewPredictionEngine(&fakeGenerator{}, &fakeSearcher{})
	topics := []string{"a", "b", "c", "d", "e", "f", "g"}

	result := pe.Fallback(topics)
	if len(result.GeneratedQuestions) != 5 {
		t.Errorf("fallback questions = %d, want 5", len(result.GeneratedQuestions))
	}
}

func TestFindImportantTopicsRanksByRecurrence(t *testing.T) {
	searcher := &fakeSearcher{byQuery: map[string][]SearchResult{
		"important topics concepts frequently asked questions": {
			{Content: "Chapter 1: Laws of Motion\nother text here"},
			{Content: "Chapter 1: Laws of Motion\nUnit 2: Work and Energy"},
			{Content: "chapter 1: laws of motion\nirrelevant line"},
		},
	}}
	pe := NewPredictionEngine(&fakeGenerator{}, searcher)

	topics := pe.findImportantTopics(context.Background(), "s1")
	if len(topics) != 2 {
		t.Fatalf("topics = %+v, want 2", topics)
	}
	if topics[0].Topic != "chapter 1: laws of motion" {
		t.Errorf("top topic = %q", topics[0].Topic)
	}
	if topics[0].Priority != models.PriorityHigh {
		t.Errorf("priority = %q, want high for 3 occurrences", topics[0].Priority)
	}
	if topics[0].Confidence > 0.9 {
		t.Errorf("confidence %g exceeds cap", topics[0].Confidence)
	}
}

func TestAnalyzeQuestionPatterns(t *testing.T) {
	searcher := &fakeSearcher{byQuery: map[string][]SearchResult{
		"question pattern marks distribution important topics": {
			{Content: "Q1 carries 5 marks. Derive the equation of motion."},
			{Content: "Define momentum. 2 Marks"},
			{Content: "Calculate the force for 5 marks"},
		},
	}}
	pe := NewPredictionEngine(&fakeGenerator{}, searcher)

	patterns := pe.analyzeQuestionPatterns(context.Background(), "s1")

	if patterns.MarksDistribution[5] != 2 || patterns.MarksDistribution[2] != 1 {
		t.Errorf("marks distribution = %+v", patterns.MarksDistribution)
	}
	if patterns.QuestionTypes[models.QuestionDerivation] != 1 {
		t.Errorf("derivation count = %d, want 1", patterns.QuestionTypes[models.QuestionDerivation])
	}
	if patterns.QuestionTypes[models.QuestionDefinition] != 1 {
		t.Errorf("definition count = %d, want 1", patterns.QuestionTypes[models.QuestionDefinition])
	}
	if patterns.QuestionTypes[models.QuestionProblem] != 1 {
		t.Errorf("problem count = %d, want 1", patterns.QuestionTypes[models.QuestionProblem])
	}
}

func TestClassifyQuestionType(t *testing.T) {
	cases := map[string]string{
		"Define inertia":                models.QuestionDefinition,
		"Derive the lens formula":       models.QuestionDerivation,
		"Calculate the net force":       models.QuestionProblem,
		"Solve for x":                   models.QuestionProblem,
		"Explain the role of friction":  models.QuestionApplication,
		"Describe the process in brief": models.QuestionApplication,
	}
	for content, want := range cases {
		if got := classifyQuestionType(content); got != want {
			t.Errorf("classifyQuestionType(%q) = %q, want %q", content, got, want)
		}
	}
}

func TestRetrievalAnalysisFallbackKeepsTopics(t *testing.T) {
	searcher := &fakeSearcher{byQuery: map[string][]SearchResult{
		"important topics concepts frequently asked questions": {
			{Content: "Chapter 3: Thermodynamics basics\nmore"},
		},
	}}
	gen := &fakeGenerator{err: errors.New("provider down")}
	pe := NewPredictionEngine(gen, searcher)

	result := pe.RetrievalAnalysis(context.Background(), "s1")
	if !result.FallbackUsed {
		t.Fatal("fallback flag should be set")
	}
	if len(result.ImportantTopics) != 1 {
		t.Errorf("retrieved topics should survive fallback: %+v", result.ImportantTopics)
	}
}
