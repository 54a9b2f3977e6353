package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDFormats(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{"job id", NewJobID, "job-"},
		{"document id", NewDocumentID, "doc-"},
		{"chunk id", NewChunkID, "chunk-"},
		{"embedding id", NewEmbeddingID, "emb-"},
		{"api document id", NewAPIDocumentID, "api-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.gen()
			assert.True(t, strings.HasPrefix(id, tt.prefix))
			suffix := strings.TrimPrefix(id, tt.prefix)
			assert.Len(t, suffix, 12)
			for _, r := range suffix {
				assert.Contains(t, "0123456789abcdef", string(r))
			}
		})
	}
}

func TestNewDBDocumentID(t *testing.T) {
	id := NewDBDocumentID("42")
	assert.True(t, strings.HasPrefix(id, "db-"))
	assert.True(t, strings.HasSuffix(id, "-42"))

	bare := NewDBDocumentID("")
	assert.True(t, strings.HasPrefix(bare, "db-"))
	assert.Len(t, bare, len("db-")+12)
}

func TestIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewChunkID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestRawDocument_Validate(t *testing.T) {
	tests := []struct {
		name    string
		doc     RawDocument
		wantErr bool
	}{
		{
			name:    "valid",
			doc:     RawDocument{ID: "doc-abc", Source: "url_scrape", Content: "hello"},
			wantErr: false,
		},
		{
			name:    "empty content",
			doc:     RawDocument{ID: "doc-abc", Source: "url_scrape"},
			wantErr: true,
		},
		{
			name:    "missing source",
			doc:     RawDocument{ID: "doc-abc", Content: "hello"},
			wantErr: true,
		},
		{
			name:    "missing id",
			doc:     RawDocument{Source: "url_scrape", Content: "hello"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChunk_Validate(t *testing.T) {
	valid := Chunk{ID: "chunk-1", DocumentID: "doc-1", Content: "x", Position: 0, TokenCount: 1, StartChar: 0, EndChar: 1}
	assert.NoError(t, valid.Validate())

	negative := valid
	negative.Position = -1
	assert.Error(t, negative.Validate())

	zeroTokens := valid
	zeroTokens.TokenCount = 0
	assert.Error(t, zeroTokens.Validate())

	badSpan := valid
	badSpan.EndChar = 0
	assert.Error(t, badSpan.Validate())
}

func TestJobStatus_IsTerminal(t *testing.T) {
	for _, s := range ActiveStatuses() {
		assert.False(t, s.IsTerminal(), string(s))
	}
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		next JobStatus
		want bool
	}{
		{"pending to fetching", JobStatusPending, JobStatusFetching, true},
		{"fetching to cleaning", JobStatusFetching, JobStatusCleaning, true},
		{"skip ahead allowed", JobStatusFetching, JobStatusEmbedding, true},
		{"backwards rejected", JobStatusChunking, JobStatusFetching, false},
		{"any active to cancelled", JobStatusEmbedding, JobStatusCancelled, true},
		{"any active to failed", JobStatusPending, JobStatusFailed, true},
		{"cancelled is frozen", JobStatusCancelled, JobStatusCompleted, false},
		{"completed is frozen", JobStatusCompleted, JobStatusFailed, false},
		{"failed is frozen", JobStatusFailed, JobStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.next))
		})
	}
}

func TestNewJob(t *testing.T) {
	job := NewJob("file_upload", map[string]interface{}{"file_path": "/tmp/a.txt"}, "tenant-1")
	assert.True(t, strings.HasPrefix(job.ID, "job-"))
	assert.Len(t, job.CorrelationID, 36)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Empty(t, job.StagesCompleted)
	assert.Equal(t, "tenant-1", job.TenantID)
	assert.False(t, job.CreatedAt.IsZero())
}
