package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AnalysisStatus tracks the lifecycle of a subject analysis.
// The status is set to a terminal value exactly once.
type AnalysisStatus string

const (
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
)

// IsTerminal reports whether the analysis has finished.
func (s AnalysisStatus) IsTerminal() bool {
	return s == AnalysisCompleted || s == AnalysisFailed
}

// Topic priority levels.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Topic trend values.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// Generated question types.
const (
	QuestionDefinition  = "definition"
	QuestionApplication = "application"
	QuestionDerivation  = "derivation"
	QuestionProblem     = "problem"
)

// Question difficulty levels.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

func IsValidPriority(p string) bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

func IsValidTrend(t string) bool {
	return t == TrendIncreasing || t == TrendDecreasing || t == TrendStable
}

func IsValidQuestionType(t string) bool {
	switch t {
	case QuestionDefinition, QuestionApplication, QuestionDerivation, QuestionProblem:
		return true
	}
	return false
}

func IsValidDifficulty(d string) bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// TopicPriority is a ranked topic surfaced by the prediction engine.
type TopicPriority struct {
	Topic                string  `bson:"topic" json:"topic"`
	Frequency            int     `bson:"frequency" json:"frequency"`
	Weightage            int     `bson:"weightage" json:"weightage"`
	Priority             string  `bson:"priority" json:"priority"`
	Confidence           float64 `bson:"confidence" json:"confidence"`
	Trend                string  `bson:"trend" json:"trend"`
	LastAppeared         int     `bson:"last_appeared,omitempty" json:"lastAppeared,omitempty"`
	RecommendedStudyTime string  `bson:"recommended_study_time,omitempty" json:"recommendedStudyTime,omitempty"`
}

// GeneratedQuestion is a predicted exam question.
type GeneratedQuestion struct {
	ID              string `bson:"id" json:"id"`
	Question        string `bson:"question" json:"question"`
	Type            string `bson:"type" json:"type"`
	Marks           int    `bson:"marks" json:"marks"`
	Difficulty      string `bson:"difficulty" json:"difficulty"`
	Topic           string `bson:"topic" json:"topic"`
	LearningOutcome string `bson:"learning_outcome,omitempty" json:"learningOutcome,omitempty"`
	ModelUsed       string `bson:"model_used" json:"modelUsed"`
	EstimatedTime   int    `bson:"estimated_time" json:"estimatedTime"`
}

// AnalysisSummary is the narrative portion of an analysis result.
type AnalysisSummary struct {
	Overview                 string   `bson:"overview,omitempty" json:"overview,omitempty"`
	KeyConcepts              []string `bson:"key_concepts,omitempty" json:"keyConcepts,omitempty"`
	StudyRecommendations     []string `bson:"study_recommendations,omitempty" json:"studyRecommendations,omitempty"`
	EstimatedPreparationTime string   `bson:"estimated_preparation_time,omitempty" json:"estimatedPreparationTime,omitempty"`
}

// AnalysisMetadata records how a result was produced.
type AnalysisMetadata struct {
	ProcessingTimeMS int64  `bson:"processing_time_ms" json:"processingTimeMs"`
	TotalDocuments   int    `bson:"total_documents" json:"totalDocuments"`
	ModelVersion     string `bson:"model_version,omitempty" json:"modelVersion,omitempty"`
	AnalysisType     string `bson:"analysis_type,omitempty" json:"analysisType,omitempty"`
	CacheHit         bool   `bson:"cache_hit" json:"cacheHit"`
	TokensUsed       int    `bson:"tokens_used,omitempty" json:"tokensUsed,omitempty"`
	FallbackUsed     bool   `bson:"fallback_used,omitempty" json:"fallbackUsed,omitempty"`
	Error            string `bson:"error,omitempty" json:"error,omitempty"`
}

// Analysis is a derived artifact summarizing important topics and predicted
// questions for a subject. Expired records are garbage collected.
type Analysis struct {
	ID                 primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	UserID             primitive.ObjectID   `bson:"user_id" json:"userId"`
	SubjectID          primitive.ObjectID   `bson:"subject_id" json:"subjectId"`
	DocumentIDs        []primitive.ObjectID `bson:"document_ids" json:"documentIds"`
	Status             AnalysisStatus       `bson:"status" json:"status"`
	ImportantTopics    []TopicPriority      `bson:"important_topics,omitempty" json:"importantTopics,omitempty"`
	GeneratedQuestions []GeneratedQuestion  `bson:"generated_questions,omitempty" json:"generatedQuestions,omitempty"`
	Summary            AnalysisSummary      `bson:"summary,omitempty" json:"summary,omitempty"`
	Metadata           AnalysisMetadata     `bson:"metadata" json:"metadata"`
	ExpiresAt          time.Time            `bson:"expires_at" json:"expiresAt"`
	CreatedAt          time.Time            `bson:"created_at" json:"createdAt"`
	UpdatedAt          time.Time            `bson:"updated_at" json:"updatedAt"`
}
