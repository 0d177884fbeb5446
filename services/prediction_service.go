package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"study-analyzer-platform/internal/logger"
	"study-analyzer-platform/models"

	"github.com/google/uuid"
)

// ErrInvalidPrediction marks a generated payload that parsed but failed
// schema validation. Callers treat it like a parse failure and fall back.
var ErrInvalidPrediction = errors.New("invalid prediction payload")

// TextGenerator produces free-form text for a prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	Model() string
}

// VectorSearcher retrieves ranked document chunks for a query.
type VectorSearcher interface {
	Query(ctx context.Context, text, subjectID string, k int, where map[string]any) []SearchResult
}

// PredictionResult is the unified output of every prediction strategy.
type PredictionResult struct {
	ImportantTopics    []models.TopicPriority     `json:"importantTopics"`
	GeneratedQuestions []models.GeneratedQuestion `json:"generatedQuestions"`
	Summary            models.AnalysisSummary     `json:"summary"`
	AnalysisType       string                     `json:"analysisType"`
	FallbackUsed       bool                       `json:"fallbackUsed"`
	TokensUsed         int                        `json:"tokensUsed"`
}

const (
	analysisTypeDirect   = "direct_context"
	analysisTypePattern  = "advanced_pattern_analysis"
	analysisTypeFallback = "template_fallback"

	maxRetrievedTopics = 8
	retrievalK         = 10
)

var (
	fencedJSONRe = regexp.MustCompile("```json\\s*([\\s\\S]*?)\\s*```")
	marksRe      = regexp.MustCompile(`(?i)(\d+)\s*marks?`)
)

// PredictionEngine turns study material into ranked topics and predicted
// exam questions. Every public method returns a usable result: provider or
// parse failures degrade to the deterministic template fallback.
type PredictionEngine struct {
	generator TextGenerator
	vectors   VectorSearcher
}

func NewPredictionEngine(generator TextGenerator, vectors VectorSearcher) *PredictionEngine {
	return &PredictionEngine{generator: generator, vectors: vectors}
}

// DirectAnalysis prompts the model with the assembled subject context and
// parses a structured result. topicHints seed the fallback when generation
// or validation fails.
func (pe *PredictionEngine) DirectAnalysis(ctx context.Context, analysisContext string, topicHints []string) *PredictionResult {
	prompt := buildDirectPrompt(analysisContext)

	text, err := pe.generator.GenerateText(ctx, prompt)
	if err != nil {
		logger.Warn("Direct analysis generation failed, using fallback", "error", err)
		return pe.Fallback(topicHints)
	}

	result, err := parseAnalysisResponse(text, pe.generator.Model())
	if err != nil {
		logger.Warn("Direct analysis response rejected, using fallback", "error", err)
		return pe.Fallback(topicHints)
	}

	result.AnalysisType = analysisTypeDirect
	result.TokensUsed = (len(text) + 3) / 4
	return result
}

// RetrievalAnalysis mines the vector index for topic and question patterns,
// then prompts the model with the extracted statistics.
func (pe *PredictionEngine) RetrievalAnalysis(ctx context.Context, subjectID string) *PredictionResult {
	topics := pe.findImportantTopics(ctx, subjectID)
	patterns := pe.analyzeQuestionPatterns(ctx, subjectID)

	hints := make([]string, 0, len(topics))
	for _, t := range topics {
		hints = append(hints, t.Topic)
	}

	prompt := buildPatternPrompt(topics, patterns)
	text, err := pe.generator.GenerateText(ctx, prompt)
	if err != nil {
		logger.Warn("Pattern prediction generation failed, using fallback", "error", err)
		return fallbackWithTopics(pe, hints, topics)
	}

	result, err := parseAnalysisResponse(text, pe.generator.Model())
	if err != nil {
		logger.Warn("Pattern prediction response rejected, using fallback", "error", err)
		return fallbackWithTopics(pe, hints, topics)
	}

	if len(result.ImportantTopics) == 0 {
		result.ImportantTopics = topics
	}
	result.AnalysisType = analysisTypePattern
	result.TokensUsed = (len(text) + 3) / 4
	return result
}

// fallbackWithTopics keeps retrieved topics on the fallback result when any
// were found.
func fallbackWithTopics(pe *PredictionEngine, hints []string, topics []models.TopicPriority) *PredictionResult {
	result := pe.Fallback(hints)
	if len(topics) > 0 {
		result.ImportantTopics = topics
	}
	return result
}

// findImportantTopics ranks heading-like lines from semantically relevant
// chunks by how often they recur across results.
func (pe *PredictionEngine) findImportantTopics(ctx context.Context, subjectID string) []models.TopicPriority {
	results := pe.vectors.Query(ctx, "important topics concepts frequently asked questions", subjectID, retrievalK, nil)
	if len(results) == 0 {
		return nil
	}

	frequency := map[string]int{}
	order := []string{}
	for _, res := range results {
		lines := strings.Split(strings.ToLower(res.Content), "\n")
		if len(lines) > 5 {
			lines = lines[:5]
		}
		for _, line := range lines {
			if !strings.Contains(line, "chapter") && !strings.Contains(line, "topic") && !strings.Contains(line, "unit") {
				continue
			}
			topic := truncate(strings.TrimSpace(line), maxTopicLength)
			if len(topic) <= minTopicLength {
				continue
			}
			if _, ok := frequency[topic]; !ok {
				order = append(order, topic)
			}
			frequency[topic]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return frequency[order[i]] > frequency[order[j]]
	})
	if len(order) > maxRetrievedTopics {
		order = order[:maxRetrievedTopics]
	}

	topics := make([]models.TopicPriority, 0, len(order))
	for _, topic := range order {
		count := frequency[topic]
		topics = append(topics, models.TopicPriority{
			Topic:      topic,
			Frequency:  min(count*20, 100),
			Weightage:  min(count*15, 100),
			Priority:   priorityForCount(count),
			Confidence: minFloat(0.3+0.2*float64(count), 0.9),
			Trend:      models.TrendStable,
		})
	}
	return topics
}

// questionPatterns summarizes marks distribution and question types seen in
// previous year question chunks.
type questionPatterns struct {
	MarksDistribution map[int]int    `json:"marksDistribution"`
	QuestionTypes     map[string]int `json:"questionTypes"`
}

func (pe *PredictionEngine) analyzeQuestionPatterns(ctx context.Context, subjectID string) questionPatterns {
	patterns := questionPatterns{
		MarksDistribution: map[int]int{},
		QuestionTypes:     map[string]int{},
	}

	results := pe.vectors.Query(ctx, "question pattern marks distribution important topics", subjectID, retrievalK,
		map[string]any{"documentType": models.DocTypePYQ})

	for _, res := range results {
		for _, match := range marksRe.FindAllStringSubmatch(res.Content, -1) {
			if marks, err := strconv.Atoi(match[1]); err == nil {
				patterns.MarksDistribution[marks]++
			}
		}
		patterns.QuestionTypes[classifyQuestionType(res.Content)]++
	}
	return patterns
}

// classifyQuestionType maps wording cues to a question type.
func classifyQuestionType(content string) string {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "define") || strings.Contains(lower, "definition"):
		return models.QuestionDefinition
	case strings.Contains(lower, "derive") || strings.Contains(lower, "derivation"):
		return models.QuestionDerivation
	case strings.Contains(lower, "calculate") || strings.Contains(lower, "solve"):
		return models.QuestionProblem
	default:
		return models.QuestionApplication
	}
}

// Topics used when no material yielded any heading candidates, so the
// fallback always produces questions.
var defaultFallbackTopics = []string{
	"core concepts and definitions",
	"frequently tested problems",
	"key derivations and formulas",
}

// Fallback builds deterministic template questions from known topics so
// that an analysis always carries something actionable.
func (pe *PredictionEngine) Fallback(topics []string) *PredictionResult {
	if len(topics) == 0 {
		topics = defaultFallbackTopics
	}
	if len(topics) > 5 {
		topics = topics[:5]
	}

	questions := make([]models.GeneratedQuestion, 0, len(topics))
	topicPriorities := make([]models.TopicPriority, 0, len(topics))
	for _, topic := range topics {
		questions = append(questions, models.GeneratedQuestion{
			ID:            uuid.NewString(),
			Question:      fmt.Sprintf("Explain %s with examples", topic),
			Type:          models.QuestionApplication,
			Marks:         5,
			Difficulty:    models.DifficultyMedium,
			Topic:         topic,
			ModelUsed:     "template",
			EstimatedTime: 10,
		})
		topicPriorities = append(topicPriorities, models.TopicPriority{
			Topic:      topic,
			Frequency:  50,
			Weightage:  50,
			Priority:   models.PriorityMedium,
			Confidence: 0.5,
			Trend:      models.TrendStable,
		})
	}

	return &PredictionResult{
		ImportantTopics:    topicPriorities,
		GeneratedQuestions: questions,
		Summary: models.AnalysisSummary{
			Overview:             "Generated from topic frequency analysis without model assistance.",
			StudyRecommendations: []string{"Review the listed topics in order of frequency."},
		},
		AnalysisType: analysisTypeFallback,
		FallbackUsed: true,
	}
}

func buildDirectPrompt(analysisContext string) string {
	return fmt.Sprintf(`You are an expert educational analyst. Analyze the following study materials and provide comprehensive insights:

%s

Please provide your analysis in the following JSON format:

{
  "importantTopics": [
    {
      "topic": "string",
      "frequency": number (0-100),
      "weightage": number (0-100),
      "priority": "high" | "medium" | "low",
      "confidence": number (0-1),
      "trend": "increasing" | "decreasing" | "stable",
      "lastAppeared": number (year if available),
      "recommendedStudyTime": "string"
    }
  ],
  "generatedQuestions": [
    {
      "id": "unique-id",
      "question": "string",
      "type": "definition" | "application" | "derivation" | "problem",
      "marks": number,
      "difficulty": "easy" | "medium" | "hard",
      "topic": "string",
      "learningOutcome": "string",
      "estimatedTime": number
    }
  ],
  "summary": {
    "overview": "string",
    "keyConcepts": ["string"],
    "studyRecommendations": ["string"],
    "estimatedPreparationTime": "string"
  }
}

Guidelines:
- Be accurate and educational
- Focus on exam patterns and important concepts
- Generate 5-8 important topics
- Generate 10-15 practice questions covering different types
- Provide actionable study recommendations`, analysisContext)
}

func buildPatternPrompt(topics []models.TopicPriority, patterns questionPatterns) string {
	topicsJSON, _ := json.MarshalIndent(topics, "", "  ")
	patternsJSON, _ := json.MarshalIndent(patterns, "", "  ")

	return fmt.Sprintf(`You are an expert educational analyst. Analyze these patterns and predict the most likely exam questions:

IMPORTANT TOPICS:
%s

PATTERNS FOUND:
%s

Predict 5-8 most likely questions. Respond in this JSON format:

{
  "generatedQuestions": [
    {
      "id": "unique-id",
      "question": "string",
      "type": "definition" | "application" | "derivation" | "problem",
      "marks": number,
      "difficulty": "easy" | "medium" | "hard",
      "topic": "string",
      "learningOutcome": "string",
      "estimatedTime": number
    }
  ],
  "summary": {
    "overview": "string",
    "studyRecommendations": ["string"]
  }
}`, topicsJSON, patternsJSON)
}

// parseAnalysisResponse extracts the JSON body from a model reply (a fenced
// block when present, otherwise the outermost object) and validates it.
func parseAnalysisResponse(response, modelVersion string) (*PredictionResult, error) {
	payload, ok := extractJSON(response)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrInvalidPrediction)
	}

	var result PredictionResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrediction, err)
	}

	if err := validatePrediction(&result); err != nil {
		return nil, err
	}

	for i := range result.GeneratedQuestions {
		if result.GeneratedQuestions[i].ID == "" {
			result.GeneratedQuestions[i].ID = uuid.NewString()
		}
		result.GeneratedQuestions[i].ModelUsed = modelVersion
	}
	return &result, nil
}

func extractJSON(response string) (string, bool) {
	if m := fencedJSONRe.FindStringSubmatch(response); m != nil {
		return m[1], true
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		return response[start : end+1], true
	}
	return "", false
}

// validatePrediction enforces enum membership and numeric ranges on a parsed
// payload. Out-of-range model output is rejected rather than clamped.
func validatePrediction(result *PredictionResult) error {
	if len(result.ImportantTopics) == 0 && len(result.GeneratedQuestions) == 0 {
		return fmt.Errorf("%w: empty result", ErrInvalidPrediction)
	}

	for _, topic := range result.ImportantTopics {
		if topic.Topic == "" {
			return fmt.Errorf("%w: topic without a name", ErrInvalidPrediction)
		}
		if !models.IsValidPriority(topic.Priority) {
			return fmt.Errorf("%w: priority %q", ErrInvalidPrediction, topic.Priority)
		}
		if topic.Trend != "" && !models.IsValidTrend(topic.Trend) {
			return fmt.Errorf("%w: trend %q", ErrInvalidPrediction, topic.Trend)
		}
		if topic.Frequency < 0 || topic.Frequency > 100 {
			return fmt.Errorf("%w: frequency %d out of range", ErrInvalidPrediction, topic.Frequency)
		}
		if topic.Weightage < 0 || topic.Weightage > 100 {
			return fmt.Errorf("%w: weightage %d out of range", ErrInvalidPrediction, topic.Weightage)
		}
		if topic.Confidence < 0 || topic.Confidence > 1 {
			return fmt.Errorf("%w: confidence %g out of range", ErrInvalidPrediction, topic.Confidence)
		}
	}

	for _, q := range result.GeneratedQuestions {
		if q.Question == "" {
			return fmt.Errorf("%w: question without text", ErrInvalidPrediction)
		}
		if !models.IsValidQuestionType(q.Type) {
			return fmt.Errorf("%w: question type %q", ErrInvalidPrediction, q.Type)
		}
		if !models.IsValidDifficulty(q.Difficulty) {
			return fmt.Errorf("%w: difficulty %q", ErrInvalidPrediction, q.Difficulty)
		}
		if q.Marks < 1 {
			return fmt.Errorf("%w: marks %d", ErrInvalidPrediction, q.Marks)
		}
		if q.EstimatedTime < 1 {
			return fmt.Errorf("%w: estimated time %d", ErrInvalidPrediction, q.EstimatedTime)
		}
	}

	return nil
}

func priorityForCount(count int) string {
	switch {
	case count >= 3:
		return models.PriorityHigh
	case count == 2:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
