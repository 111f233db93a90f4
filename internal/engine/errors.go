package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/viewfold/internal/logsource"
	"github.com/roach88/viewfold/internal/view"
)

// QueryError is returned by engine queries that could not produce a value.
type QueryError struct {
	// Code identifies the error category.
	Code QueryErrorCode

	// View names the aggregate that was queried.
	View string

	// Key is the queried target or project.
	Key string

	// Err is the underlying cause.
	Err error
}

// QueryErrorCode categorizes query errors.
type QueryErrorCode string

const (
	// ErrCodePending means replay had not finished when the caller stopped
	// waiting. The aggregate keeps warming up.
	ErrCodePending QueryErrorCode = "PENDING"

	// ErrCodeReplayFailed means the log source failed during replay. The
	// next query retries.
	ErrCodeReplayFailed QueryErrorCode = "REPLAY_FAILED"

	// ErrCodeClosed means the engine or its log source has been closed.
	ErrCodeClosed QueryErrorCode = "CLOSED"
)

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Code, e.View, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.View, e.Err)
}

// Unwrap returns the underlying cause.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsPending returns true if err is a PENDING query error.
// Uses errors.As to handle wrapped errors.
func IsPending(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Code == ErrCodePending
	}
	return false
}

// IsClosed returns true if err is a CLOSED query error.
func IsClosed(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Code == ErrCodeClosed
	}
	return false
}

// queryError classifies an aggregate error. nil stays nil.
func queryError(viewName, key string, err error) error {
	if err == nil {
		return nil
	}
	code := ErrCodeReplayFailed
	switch {
	case errors.Is(err, view.ErrPending):
		code = ErrCodePending
	case errors.Is(err, logsource.ErrClosed):
		code = ErrCodeClosed
	}
	return &QueryError{Code: code, View: viewName, Key: key, Err: err}
}
