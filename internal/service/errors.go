package service

import "errors"

// Planning errors. They reject a request synchronously and carry the reason
// in the wrapped message.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrEmptyScope        = errors.New("task scope contains no questions")
	ErrTaskConflict      = errors.New("another task is already active")
	ErrNotRetryable      = errors.New("task is not in a retryable state")
	ErrDynamicScope      = errors.New("task has a dynamically discovered scope")
	ErrNothingToRetry    = errors.New("nothing to retry")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("question changed concurrently")
)
