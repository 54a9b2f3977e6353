package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

type recordedEvent struct {
	kind     string
	phase    string
	index    int
	items    int
	stage    string
	errType  string
	errMsg   string
	metadata map[string]interface{}
	metrics  map[string]interface{}
}

type fakeEvents struct {
	events []recordedEvent
}

func (f *fakeEvents) EmitJobStarted(correlationID, jobID, source string) {
	f.events = append(f.events, recordedEvent{kind: "job_started"})
}

func (f *fakeEvents) EmitPhaseCompleted(correlationID, jobID, phase string, phaseIndex int, durationMS float64, itemsProcessed int, metadata map[string]interface{}) {
	f.events = append(f.events, recordedEvent{kind: "phase_completed", phase: phase, index: phaseIndex, items: itemsProcessed, metadata: metadata})
}

func (f *fakeEvents) EmitJobCompleted(correlationID, jobID string, totalDurationMS float64, metadata, metrics map[string]interface{}) {
	f.events = append(f.events, recordedEvent{kind: "ingestion_complete", metadata: metadata, metrics: metrics})
}

func (f *fakeEvents) EmitJobFailed(correlationID, jobID, failedStage, errorType, errorMessage string, retryCount int) {
	f.events = append(f.events, recordedEvent{kind: "job_failed", stage: failedStage, errType: errorType, errMsg: errorMessage})
}

func (f *fakeEvents) EmitRetryAttempt(correlationID, stage string, attempt, maxAttempts int, errorMessage string, backoffSeconds float64) {
	f.events = append(f.events, recordedEvent{kind: "retry_attempt", stage: stage})
}

func (f *fakeEvents) byKind(kind string) []recordedEvent {
	var out []recordedEvent
	for _, e := range f.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func testJob() *models.Job {
	return models.NewJob("file_upload", map[string]interface{}{"file_path": "/tmp/a.txt"}, "")
}

func rawDoc(content string) *models.RawDocument {
	return &models.RawDocument{
		ID:      models.NewDocumentID(),
		Source:  "file_upload",
		Content: content,
		Metadata: map[string]interface{}{
			"filename": "a.txt",
		},
	}
}

func TestCleanStage_NormalizesText(t *testing.T) {
	events := &fakeEvents{}
	stage := NewCleanStage(DefaultCleanConfig(), events, observability.NewNoopLogger())

	docs, err := stage.Run(context.Background(), testJob(), []*models.RawDocument{
		rawDoc("Line one\r\nLine   two\r\rLine three\n\n\n\n\nLine four  "),
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "Line one\nLine two\n\nLine three\n\nLine four", docs[0].Content)
	assert.Equal(t, 8, docs[0].WordCount)
	assert.Equal(t, len(docs[0].Content), docs[0].CharCount)
	assert.Equal(t, "a.txt", docs[0].Metadata["filename"])
	assert.NotZero(t, docs[0].Metadata["original_length"])
	assert.NotZero(t, docs[0].Metadata["cleaned_length"])

	phases := events.byKind("phase_completed")
	require.Len(t, phases, 1)
	assert.Equal(t, StageClean, phases[0].phase)
	assert.Equal(t, 2, phases[0].index)
	assert.Equal(t, 1, phases[0].metadata["document_count"])
	assert.Equal(t, 8, phases[0].metadata["total_words"])
}

func TestCleanStage_UnicodeNormalization(t *testing.T) {
	stage := NewCleanStage(DefaultCleanConfig(), &fakeEvents{}, observability.NewNoopLogger())

	// U+FB01 LATIN SMALL LIGATURE FI decomposes to "fi" under NFKC.
	docs, err := stage.Run(context.Background(), testJob(), []*models.RawDocument{
		rawDoc("ﬁnancial statements are here"),
	})
	require.NoError(t, err)
	assert.Equal(t, "financial statements are here", docs[0].Content)
}

func TestCleanStage_RemoveURLsAndEmails(t *testing.T) {
	stage := NewCleanStage(CleanConfig{
		NormalizeUnicode: true,
		RemoveURLs:       true,
		RemoveEmails:     true,
	}, &fakeEvents{}, observability.NewNoopLogger())

	docs, err := stage.Run(context.Background(), testJob(), []*models.RawDocument{
		rawDoc("Contact admin@example.com or visit https://example.com/docs for details"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Contact or visit for details", docs[0].Content)
}

func TestCleanStage_ShortDocumentKept(t *testing.T) {
	stage := NewCleanStage(DefaultCleanConfig(), &fakeEvents{}, observability.NewNoopLogger())

	docs, err := stage.Run(context.Background(), testJob(), []*models.RawDocument{
		rawDoc("tiny"),
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "tiny", docs[0].Content)
}

func TestCleanStage_EmptyInputFails(t *testing.T) {
	events := &fakeEvents{}
	stage := NewCleanStage(DefaultCleanConfig(), events, observability.NewNoopLogger())

	_, err := stage.Run(context.Background(), testJob(), nil)
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, AsStageError(err, &stageErr))
	assert.Equal(t, StageClean, stageErr.Stage)

	failed := events.byKind("job_failed")
	require.Len(t, failed, 1)
	assert.Equal(t, StageClean, failed[0].stage)
	assert.Equal(t, "CleanStageError", failed[0].errType)
}

func TestCleanStage_Idempotent(t *testing.T) {
	stage := NewCleanStage(CleanConfig{
		NormalizeUnicode: true,
		RemoveURLs:       true,
		RemoveEmails:     true,
	}, &fakeEvents{}, observability.NewNoopLogger())
	ctx := context.Background()

	inputs := []string{
		"Line one\r\nLine   two\r\rLine three\n\n\n\n\nLine four  ",
		"ﬁnancial  statements\t\there",
		"Contact admin@example.com or https://example.com/docs today",
		"already\nclean\n\ntext",
	}
	for _, input := range inputs {
		once, err := stage.Run(ctx, testJob(), []*models.RawDocument{rawDoc(input)})
		require.NoError(t, err)
		require.Len(t, once, 1)

		// Cleaning cleaned text must change nothing.
		twice, err := stage.Run(ctx, testJob(), []*models.RawDocument{rawDoc(once[0].Content)})
		require.NoError(t, err)
		require.Len(t, twice, 1)
		assert.Equal(t, once[0].Content, twice[0].Content)
	}
}

func TestCleanStage_ReductionMetadata(t *testing.T) {
	stage := NewCleanStage(DefaultCleanConfig(), &fakeEvents{}, observability.NewNoopLogger())

	docs, err := stage.Run(context.Background(), testJob(), []*models.RawDocument{
		rawDoc("word      word      word"),
	})
	require.NoError(t, err)
	reduction, ok := docs[0].Metadata["reduction_percent"].(float64)
	require.True(t, ok)
	assert.Greater(t, reduction, 0.0)
}
