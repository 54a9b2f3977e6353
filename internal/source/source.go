// Package source implements the document source adapters behind the Fetch
// stage. Each adapter validates its request payload, fetches raw documents
// and reports its own health.
package source

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

// Source kinds accepted by the job API
const (
	KindFileUpload    = "file_upload"
	KindSECEdgar      = "sec_edgar"
	KindURLScrape     = "url_scrape"
	KindAPIFetch      = "api_fetch"
	KindDatabaseQuery = "database_query"
)

// Source is the contract every adapter implements
type Source interface {
	// Name returns the source kind the adapter serves
	Name() string

	// ValidateInput checks the request payload before any fetch is attempted
	ValidateInput(input map[string]interface{}) error

	// Fetch retrieves raw documents described by the request payload
	Fetch(ctx context.Context, input map[string]interface{}) ([]*models.RawDocument, error)

	// HealthCheck verifies the adapter can reach its backing system
	HealthCheck(ctx context.Context) error

	// Close releases any held connections
	Close() error
}

// Registry resolves adapters by source kind
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	logger  observability.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger observability.Logger) *Registry {
	return &Registry{
		sources: make(map[string]Source),
		logger:  logger.WithPrefix("source-registry"),
	}
}

// Register adds an adapter, replacing any previous one for the same kind
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Name()] = s
	r.logger.Info("Registered source adapter", map[string]interface{}{
		"source": s.Name(),
	})
}

// Get returns the adapter for kind, or an error naming the known kinds
func (r *Registry) Get(kind string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[kind]
	if !ok {
		return nil, &ValidationError{
			Source: kind,
			Field:  "source",
			Msg:    fmt.Sprintf("unknown source %q, known sources: %v", kind, r.kindsLocked()),
		}
	}
	return s, nil
}

// Kinds lists the registered source kinds in sorted order
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kindsLocked()
}

func (r *Registry) kindsLocked() []string {
	kinds := make([]string, 0, len(r.sources))
	for k := range r.sources {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Close closes every registered adapter, returning the first error
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, s := range r.sources {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FetchWithRetry fetches through s up to maxAttempts times with exponential
// backoff (base^attempt seconds). Validation errors are not retried.
func FetchWithRetry(ctx context.Context, s Source, input map[string]interface{}, maxAttempts int, backoffBase float64) ([]*models.RawDocument, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoffBase <= 0 {
		backoffBase = 2.0
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		docs, err := s.Fetch(ctx, input)
		if err == nil {
			return docs, nil
		}
		lastErr = err

		var verr *ValidationError
		if AsValidationError(err, &verr) {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := time.Duration(math.Pow(backoffBase, float64(attempt)) * float64(time.Second))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("fetch from %s failed after %d attempts: %w", s.Name(), maxAttempts, lastErr)
}
