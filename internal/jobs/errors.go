package jobs

import (
	"errors"
	"fmt"
)

// Validation sentinels. They are always wrapped in a *ValidationError.
var (
	ErrNoURLs       = errors.New("no URLs provided")
	ErrURLNotFailed = errors.New("URL is not in the job's failed URL list")
	ErrInvalidURL   = errors.New("URL must be an absolute http or https URL")
	ErrInvalidDepth = errors.New("max_depth must be between 1 and 10")
)

// ErrJobInProgress is returned when an operation needs the job to be idle.
var ErrJobInProgress = errors.New("job is in progress")

// ValidationError reports a rejected request. Nothing was changed.
type ValidationError struct {
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(err error, detail string) error {
	return &ValidationError{Err: err, Detail: detail}
}
