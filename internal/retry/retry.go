// Package retry wraps transient operations in an exponential backoff loop
// that reports every attempt to telemetry.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Boswecw/rake/internal/observability"
)

// Config controls the backoff schedule
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	// RetryOn decides whether an error is transient. Nil retries everything.
	RetryOn func(error) bool
}

// DefaultConfig matches the service-wide retry settings
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    60 * time.Second,
	}
}

// Notifier receives a record of each retry before the backoff sleep.
// *telemetry.Sink satisfies it.
type Notifier interface {
	EmitRetryAttempt(correlationID, stage string, attempt, maxAttempts int, errorMessage string, backoffSeconds float64)
}

// Harness runs operations under a shared retry policy
type Harness struct {
	config   Config
	notifier Notifier
	logger   observability.Logger
}

// NewHarness creates a Harness. notifier may be nil.
func NewHarness(config Config, notifier Notifier, logger observability.Logger) *Harness {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	return &Harness{
		config:   config,
		notifier: notifier,
		logger:   logger.WithPrefix("retry"),
	}
}

// Do runs op up to MaxAttempts times. Non-retryable errors (per RetryOn)
// stop immediately; after exhaustion the last error is returned.
func (h *Harness) Do(ctx context.Context, stage, correlationID string, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.config.BaseDelay
	b.Multiplier = h.config.Multiplier
	b.MaxInterval = h.config.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(h.config.MaxAttempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(
		func() error {
			attempt++
			err := op(ctx)
			if err == nil {
				return nil
			}
			if h.config.RetryOn != nil && !h.config.RetryOn(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		policy,
		func(err error, next time.Duration) {
			h.logger.Warn("Operation failed, retrying", map[string]interface{}{
				"stage":           stage,
				"attempt":         attempt,
				"max_attempts":    h.config.MaxAttempts,
				"backoff_seconds": next.Seconds(),
				"error":           err.Error(),
			})
			if h.notifier != nil {
				h.notifier.EmitRetryAttempt(correlationID, stage, attempt, h.config.MaxAttempts, err.Error(), next.Seconds())
			}
		},
	)
}
