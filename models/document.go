package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DocumentStatus tracks the processing lifecycle of an uploaded document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// CanTransition reports whether moving from one processing status to another
// is legal. The lifecycle is monotonic: pending -> processing -> completed|failed,
// and a document never returns to pending.
func (s DocumentStatus) CanTransition(to DocumentStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// IsTerminal reports whether the status is a final one.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document types accepted at upload time.
const (
	DocTypeSyllabus = "syllabus"
	DocTypeNotes    = "notes"
	DocTypePYQ      = "pyq"
	DocTypeTextbook = "textbook"
)

// IsValidDocumentType reports whether t is one of the accepted document types.
func IsValidDocumentType(t string) bool {
	switch t {
	case DocTypeSyllabus, DocTypeNotes, DocTypePYQ, DocTypeTextbook:
		return true
	}
	return false
}

// DocumentMetadata holds data derived during content extraction.
type DocumentMetadata struct {
	Pages     int      `bson:"pages,omitempty" json:"pages,omitempty"`
	WordCount int      `bson:"word_count" json:"wordCount"`
	Topics    []string `bson:"topics,omitempty" json:"topics,omitempty"`
	Year      int      `bson:"year,omitempty" json:"year,omitempty"`
}

// Document represents an uploaded study material owned by a user.
// Content and Metadata are populated only once ProcessingStatus is completed.
type Document struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID           primitive.ObjectID `bson:"user_id" json:"userId"`
	SubjectID        primitive.ObjectID `bson:"subject_id" json:"subjectId"`
	Filename         string             `bson:"filename" json:"filename"`
	OriginalName     string             `bson:"original_name" json:"originalName"`
	DocumentType     string             `bson:"document_type" json:"documentType"`
	MimeType         string             `bson:"mime_type" json:"mimeType"`
	Size             int64              `bson:"size" json:"size"`
	Content          string             `bson:"content,omitempty" json:"content,omitempty"`
	Metadata         DocumentMetadata   `bson:"metadata" json:"metadata"`
	ProcessingStatus DocumentStatus     `bson:"processing_status" json:"processingStatus"`
	ErrorMessage     string             `bson:"error_message,omitempty" json:"errorMessage,omitempty"`
	FilePath         string             `bson:"file_path,omitempty" json:"-"`
	UploadedAt       time.Time          `bson:"uploaded_at" json:"uploadedAt"`
	ProcessedAt      *time.Time         `bson:"processed_at,omitempty" json:"processedAt,omitempty"`
}

// StatusSnapshot is the client-visible processing status of a document.
type StatusSnapshot struct {
	Status       DocumentStatus `json:"status"`
	DocumentName string         `json:"documentName"`
	DocumentType string         `json:"documentType"`
	UserID       string         `json:"userId"`
	UploadedAt   time.Time      `json:"uploadedAt"`
	ProcessedAt  *time.Time     `json:"processedAt,omitempty"`
	Error        string         `json:"error,omitempty"`
}
