package services

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"study-analyzer-platform/models"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// Media types accepted for extraction.
const (
	MimePDF   = "application/pdf"
	MimeText  = "text/plain"
	MimeXLSX  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ErrUnsupportedMediaType is returned for files outside the allow-list.
var ErrUnsupportedMediaType = errors.New("unsupported media type")

const (
	maxTopicLines  = 20
	maxTopics      = 10
	maxTopicLength = 100
	minTopicLength = 10
)

var topicKeywords = []string{"chapter", "unit", "topic", "module", "part"}

var whitespaceRe = regexp.MustCompile(`\s+`)

// ExtractionResult is the output of content extraction.
type ExtractionResult struct {
	Content  string
	Metadata models.DocumentMetadata
}

// DocumentProcessor converts raw file bytes into plain text plus structural
// metadata (page count, word count, topic candidates).
type DocumentProcessor struct {
	maxFileSize int64
}

func NewDocumentProcessor(maxFileSize int64) *DocumentProcessor {
	return &DocumentProcessor{maxFileSize: maxFileSize}
}

// ValidateUpload rejects files outside the allow-list or over the size cap
// before any record is created.
func (dp *DocumentProcessor) ValidateUpload(size int64, mimeType string) error {
	if !dp.supported(mimeType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mimeType)
	}
	if size > dp.maxFileSize {
		return fmt.Errorf("file size %d exceeds %d byte limit", size, dp.maxFileSize)
	}
	return nil
}

func (dp *DocumentProcessor) supported(mimeType string) bool {
	switch mimeType {
	case MimePDF, MimeText, MimeXLSX:
		return true
	}
	return false
}

// Extract converts raw bytes with a declared media type into text and
// metadata. Lines are scanned for topic headings before whitespace collapse.
func (dp *DocumentProcessor) Extract(data []byte, mimeType string) (*ExtractionResult, error) {
	var content string
	var pages int
	var err error

	switch mimeType {
	case MimePDF:
		content, pages, err = extractPDF(data)
	case MimeText:
		content = string(data)
	case MimeXLSX:
		content, pages, err = extractXLSX(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mimeType)
	}
	if err != nil {
		return nil, err
	}

	topics := extractTopics(content)
	content = cleanContent(content)

	return &ExtractionResult{
		Content: content,
		Metadata: models.DocumentMetadata{
			Pages:     pages,
			WordCount: countWords(content),
			Topics:    topics,
		},
	}, nil
}

func extractPDF(data []byte) (string, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("pdf parsing failed: %w", err)
	}

	var sb strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	if sb.Len() == 0 {
		return "", 0, fmt.Errorf("pdf contains no extractable text")
	}
	return sb.String(), pages, nil
}

func extractXLSX(data []byte) (string, int, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", 0, fmt.Errorf("xlsx parsing failed: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	sheets := f.GetSheetList()
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			sb.WriteString(strings.Join(row, " "))
			sb.WriteString("\n")
		}
	}

	if sb.Len() == 0 {
		return "", 0, fmt.Errorf("xlsx contains no extractable text")
	}
	return sb.String(), len(sheets), nil
}

func cleanContent(content string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(content, " "))
}

func countWords(content string) int {
	return len(strings.Fields(content))
}

// extractTopics collects heading-like lines from the top of the document:
// first 20 lines, keyword match, deduplicated, capped at 10 entries of at
// most 100 characters each.
func extractTopics(content string) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > maxTopicLines {
		lines = lines[:maxTopicLines]
	}

	seen := make(map[string]bool)
	topics := []string{}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) <= minTopicLength {
			continue
		}
		lower := strings.ToLower(line)
		for _, keyword := range topicKeywords {
			if strings.Contains(lower, keyword) {
				topic := truncate(line, maxTopicLength)
				if !seen[topic] {
					seen[topic] = true
					topics = append(topics, topic)
				}
				break
			}
		}
		if len(topics) >= maxTopics {
			break
		}
	}

	return topics
}
