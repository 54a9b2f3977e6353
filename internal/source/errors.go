package source

import (
	"errors"
	"fmt"
)

// ValidationError reports a bad request payload. It is never retried.
type ValidationError struct {
	Source string
	Field  string
	Msg    string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: invalid %s: %s", e.Source, e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Msg)
}

// AsValidationError reports whether err is (or wraps) a ValidationError
func AsValidationError(err error, target **ValidationError) bool {
	return errors.As(err, target)
}

// FetchError reports a failure talking to the backing system. Retryable.
type FetchError struct {
	Source string
	Msg    string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Msg)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
