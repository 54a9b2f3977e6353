package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

const minCleanedLength = 10

var (
	urlInTextPattern   = regexp.MustCompile(`https?://\S+`)
	emailInTextPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	excessNewlines     = regexp.MustCompile(`\n{3,}`)
	spaceRuns          = regexp.MustCompile(`[ \t]+`)
)

// CleanConfig controls the text normalization applied to fetched documents
type CleanConfig struct {
	NormalizeUnicode bool
	RemoveURLs       bool
	RemoveEmails     bool
}

// DefaultCleanConfig matches the standard ingestion behaviour
func DefaultCleanConfig() CleanConfig {
	return CleanConfig{NormalizeUnicode: true}
}

// CleanStage normalizes raw document text for chunking
type CleanStage struct {
	config CleanConfig
	events Events
	logger observability.Logger
}

// NewCleanStage creates the stage
func NewCleanStage(config CleanConfig, events Events, logger observability.Logger) *CleanStage {
	return &CleanStage{
		config: config,
		events: events,
		logger: logger.WithPrefix("stage-clean"),
	}
}

// Run cleans every document. Documents that end up shorter than the minimum
// are kept with a warning so downstream counts stay predictable.
func (s *CleanStage) Run(ctx context.Context, job *models.Job, docs []*models.RawDocument) ([]*models.CleanedDocument, error) {
	start := time.Now()

	if len(docs) == 0 {
		err := fmt.Errorf("no documents to clean")
		s.events.EmitJobFailed(job.CorrelationID, job.ID, StageClean, "CleanStageError", err.Error(), job.RetryCount)
		return nil, NewStageError(StageClean, err)
	}

	cleaned := make([]*models.CleanedDocument, 0, len(docs))
	totalOriginal := 0
	totalCleaned := 0
	totalWords := 0
	totalReduction := 0.0

	for _, doc := range docs {
		select {
		case <-ctx.Done():
			return nil, NewStageError(StageClean, ctx.Err())
		default:
		}

		content := s.cleanText(doc.Content)
		if len(content) < minCleanedLength {
			s.logger.Warn("Document below minimum length after cleaning", map[string]interface{}{
				"document_id": doc.ID,
				"length":      len(content),
			})
		}

		originalLen := len(doc.Content)
		reduction := 0.0
		if originalLen > 0 {
			reduction = float64(originalLen-len(content)) / float64(originalLen) * 100
		}

		metadata := models.CopyMetadata(doc.Metadata)
		metadata["original_length"] = originalLen
		metadata["cleaned_length"] = len(content)
		metadata["reduction_percent"] = reduction

		words := len(strings.Fields(content))
		cleaned = append(cleaned, &models.CleanedDocument{
			ID:        doc.ID,
			Source:    doc.Source,
			URL:       doc.URL,
			Content:   content,
			Metadata:  metadata,
			FetchedAt: doc.FetchedAt,
			TenantID:  doc.TenantID,
			WordCount: words,
			CharCount: len(content),
		})

		totalOriginal += originalLen
		totalCleaned += len(content)
		totalWords += words
		totalReduction += reduction
	}

	s.events.EmitPhaseCompleted(job.CorrelationID, job.ID, StageClean, 2,
		float64(time.Since(start).Milliseconds()), len(cleaned),
		map[string]interface{}{
			"document_count":        len(cleaned),
			"total_original_chars":  totalOriginal,
			"total_cleaned_chars":   totalCleaned,
			"total_words":           totalWords,
			"avg_reduction_percent": totalReduction / float64(len(cleaned)),
		})

	return cleaned, nil
}

// cleanText applies the normalization sequence to one document
func (s *CleanStage) cleanText(text string) string {
	if s.config.NormalizeUnicode {
		text = norm.NFKC.String(text)
	}
	if s.config.RemoveURLs {
		text = urlInTextPattern.ReplaceAllString(text, "")
	}
	if s.config.RemoveEmails {
		text = emailInTextPattern.ReplaceAllString(text, "")
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	text = spaceRuns.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
