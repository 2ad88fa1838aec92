package model

import (
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable means an event, score or preference store could not
	// be read or written. Batches fail whole and are retried by the scheduler.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrTransportFailure means a push send failed after all retries.
	ErrTransportFailure = errors.New("transport failure")

	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// RuleEvaluationError records a predicate that failed or panicked. The rule
// is treated as not eligible for the pass.
type RuleEvaluationError struct {
	RuleID string
	Err    error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

// Unavailable wraps a store error as ErrDataUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrDataUnavailable, err)
}
