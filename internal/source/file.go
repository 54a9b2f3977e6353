package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

const maxFileSize = 50 * 1024 * 1024

var fileMimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

// textExtensions are read directly with encoding fallback; everything else
// goes through the extractor.
var textExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// Extractor pulls text and document properties out of binary formats
// (PDF, DOCX, PPTX). Implementations live outside this package.
type Extractor interface {
	Extract(path string) (text string, properties map[string]interface{}, err error)
}

// FileAdapter ingests documents from the local filesystem
type FileAdapter struct {
	extractor Extractor
	logger    observability.Logger
}

// NewFileAdapter creates a FileAdapter. extractor may be nil, in which case
// binary formats are rejected at fetch time.
func NewFileAdapter(extractor Extractor, logger observability.Logger) *FileAdapter {
	return &FileAdapter{
		extractor: extractor,
		logger:    logger.WithPrefix("source-file"),
	}
}

var _ Source = (*FileAdapter)(nil)

// Name implements Source
func (a *FileAdapter) Name() string { return KindFileUpload }

// ValidateInput implements Source
func (a *FileAdapter) ValidateInput(input map[string]interface{}) error {
	path, _ := input["file_path"].(string)
	if path == "" {
		return &ValidationError{Source: KindFileUpload, Field: "file_path", Msg: "file_path is required"}
	}
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := fileMimeTypes[ext]; !ok {
		return &ValidationError{
			Source: KindFileUpload,
			Field:  "file_path",
			Msg:    fmt.Sprintf("unsupported extension %q, supported: .pdf .txt .md .docx .pptx", ext),
		}
	}
	return nil
}

// Fetch implements Source
func (a *FileAdapter) Fetch(ctx context.Context, input map[string]interface{}) ([]*models.RawDocument, error) {
	if err := a.ValidateInput(input); err != nil {
		return nil, err
	}
	path := input["file_path"].(string)

	info, err := os.Stat(path)
	if err != nil {
		return nil, &FetchError{Source: KindFileUpload, Msg: fmt.Sprintf("cannot stat %s", path), Err: err}
	}
	if info.Size() > maxFileSize {
		return nil, &ValidationError{
			Source: KindFileUpload,
			Field:  "file_path",
			Msg:    fmt.Sprintf("file size %d exceeds limit of %d bytes", info.Size(), maxFileSize),
		}
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	ext := strings.ToLower(filepath.Ext(path))

	var content, encoding string
	properties := map[string]interface{}{}

	if textExtensions[ext] {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, &FetchError{Source: KindFileUpload, Msg: fmt.Sprintf("cannot read %s", path), Err: err}
		}
		content, encoding, err = decodeText(raw)
		if err != nil {
			return nil, &FetchError{Source: KindFileUpload, Msg: fmt.Sprintf("cannot decode %s", path), Err: err}
		}
	} else {
		if a.extractor == nil {
			return nil, &FetchError{
				Source: KindFileUpload,
				Msg:    fmt.Sprintf("no extractor configured for %s files", ext),
			}
		}
		content, properties, err = a.extractor.Extract(path)
		if err != nil {
			return nil, &FetchError{Source: KindFileUpload, Msg: fmt.Sprintf("extraction failed for %s", path), Err: err}
		}
		encoding = "utf-8"
	}

	metadata := map[string]interface{}{
		"filename":   filepath.Base(path),
		"file_ext":   ext,
		"file_size":  info.Size(),
		"mime_type":  fileMimeTypes[ext],
		"encoding":   encoding,
		"line_count": strings.Count(content, "\n") + 1,
	}
	for k, v := range properties {
		metadata[k] = v
	}

	tenantID, _ := input["tenant_id"].(string)
	doc := &models.RawDocument{
		ID:        models.NewDocumentID(),
		Source:    KindFileUpload,
		URL:       "file://" + absPath,
		Content:   content,
		Metadata:  metadata,
		FetchedAt: time.Now().UTC(),
		TenantID:  tenantID,
	}
	if err := doc.Validate(); err != nil {
		return nil, &FetchError{Source: KindFileUpload, Msg: "fetched document invalid", Err: err}
	}

	a.logger.Info("Fetched file", map[string]interface{}{
		"path": path,
		"size": info.Size(),
	})
	return []*models.RawDocument{doc}, nil
}

// HealthCheck implements Source. The filesystem is always reachable.
func (a *FileAdapter) HealthCheck(ctx context.Context) error { return nil }

// Close implements Source
func (a *FileAdapter) Close() error { return nil }

// decodeText tries UTF-8, then Latin-1, then Windows-1252
func decodeText(raw []byte) (string, string, error) {
	if utf8.Valid(raw) {
		return string(raw), "utf-8", nil
	}
	if out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw); err == nil {
		return string(out), "latin-1", nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return "", "", fmt.Errorf("no usable encoding: %w", err)
	}
	return string(out), "cp1252", nil
}
