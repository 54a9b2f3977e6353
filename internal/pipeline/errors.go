// Package pipeline implements the five ingestion stages and the orchestrator
// that drives a job through them.
package pipeline

import (
	"errors"
	"fmt"
)

// Stage names as they appear in telemetry and job records
const (
	StageFetch = "fetch"
	StageClean = "clean"
	StageChunk = "chunk"
	StageEmbed = "embed"
	StageStore = "store"
)

// StageError marks a failure inside a named pipeline stage. The stage that
// raised it has already emitted a job_failed event.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ErrorType returns the conventional name for the stage error, used in
// job_failed events.
func (e *StageError) ErrorType() string {
	switch e.Stage {
	case StageFetch:
		return "FetchStageError"
	case StageClean:
		return "CleanStageError"
	case StageChunk:
		return "ChunkStageError"
	case StageEmbed:
		return "EmbedStageError"
	case StageStore:
		return "StoreStageError"
	}
	return "PipelineError"
}

// NewStageError wraps err as a failure of the named stage
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// AsStageError reports whether err is (or wraps) a StageError
func AsStageError(err error, target **StageError) bool {
	return errors.As(err, target)
}

// ErrJobCancelled stops the orchestrator between stages when the job has
// been cancelled through the API.
var ErrJobCancelled = errors.New("job cancelled")
