package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists indicates a CREATE hit an existing record id.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrTransactionConflict indicates a SurrealDB transaction conflict.
	// This occurs when multiple concurrent operations attempt to modify the same records.
	// Callers should typically retry or skip the operation.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrReviewNotPending indicates a review was already approved or rejected.
	ErrReviewNotPending = errors.New("review is not pending")

	// ErrVersionConflict indicates the question changed since it was read.
	ErrVersionConflict = errors.New("question version conflict")

	// ErrStaleState indicates a conditional update matched no record because
	// the record had already moved on.
	ErrStaleState = errors.New("record not in expected state")
)

// Messages thrown from SurrealQL guards.
const (
	throwReviewNotPending = "review_not_pending"
	throwVersionConflict  = "question_version_conflict"
)

// wrapQueryError inspects a SurrealDB error and wraps it with the appropriate
// sentinel error if it's a known query error type. Returns the original error
// if it doesn't match known patterns.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg = queryErr.Message
	}

	switch {
	case strings.Contains(msg, throwReviewNotPending):
		return fmt.Errorf("%w: %s", ErrReviewNotPending, msg)
	case strings.Contains(msg, throwVersionConflict):
		return fmt.Errorf("%w: %s", ErrVersionConflict, msg)
	case strings.Contains(msg, "already exists"):
		return fmt.Errorf("%w: %s", ErrAlreadyExists, msg)
	case strings.Contains(msg, "Transaction conflict"):
		return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
	}

	return err
}
