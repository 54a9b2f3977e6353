package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

type fakeSource struct {
	name      string
	failures  int
	calls     int
	validErr  error
	fetchErr  error
	documents []*models.RawDocument
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) ValidateInput(input map[string]interface{}) error { return f.validErr }

func (f *fakeSource) Fetch(ctx context.Context, input map[string]interface{}) ([]*models.RawDocument, error) {
	f.calls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.calls <= f.failures {
		return nil, &FetchError{Source: f.name, Msg: "transient"}
	}
	return f.documents, nil
}

func (f *fakeSource) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeSource) Close() error { return nil }

func TestRegistry_GetAndKinds(t *testing.T) {
	reg := NewRegistry(observability.NewNoopLogger())
	reg.Register(&fakeSource{name: KindFileUpload})
	reg.Register(&fakeSource{name: KindURLScrape})

	s, err := reg.Get(KindFileUpload)
	require.NoError(t, err)
	assert.Equal(t, KindFileUpload, s.Name())

	_, err = reg.Get("ftp_pull")
	require.Error(t, err)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	assert.Equal(t, []string{KindFileUpload, KindURLScrape}, reg.Kinds())
}

func TestFetchWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	src := &fakeSource{
		name:      KindAPIFetch,
		failures:  2,
		documents: []*models.RawDocument{{ID: "doc-1", Source: KindAPIFetch, Content: "x"}},
	}

	docs, err := FetchWithRetry(context.Background(), src, nil, 3, 0.001)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, 3, src.calls)
}

func TestFetchWithRetry_ExhaustsAttempts(t *testing.T) {
	src := &fakeSource{name: KindAPIFetch, failures: 10}

	_, err := FetchWithRetry(context.Background(), src, nil, 3, 0.001)
	require.Error(t, err)
	assert.Equal(t, 3, src.calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestFetchWithRetry_ValidationErrorNotRetried(t *testing.T) {
	src := &fakeSource{
		name:     KindURLScrape,
		fetchErr: &ValidationError{Source: KindURLScrape, Field: "url", Msg: "url is required"},
	}

	_, err := FetchWithRetry(context.Background(), src, nil, 3, 0.001)
	require.Error(t, err)
	assert.Equal(t, 1, src.calls)

	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestErrorMessages(t *testing.T) {
	verr := &ValidationError{Source: "file_upload", Field: "file_path", Msg: "file_path is required"}
	assert.Equal(t, "file_upload: invalid file_path: file_path is required", verr.Error())

	cause := errors.New("connection refused")
	ferr := &FetchError{Source: "url_scrape", Msg: "request failed", Err: cause}
	assert.Contains(t, ferr.Error(), "connection refused")
	assert.ErrorIs(t, ferr, cause)
}
