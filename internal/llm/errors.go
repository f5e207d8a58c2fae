package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/quizproc-go/internal/models"
)

// ErrFatalAPI marks provider errors that will not go away on retry:
// exhausted credit, throttling and rejected credentials.
var ErrFatalAPI = errors.New("fatal API error")

var (
	quotaMarkers = []string{"credit balance", "quota", "billing", "insufficient_quota"}
	rateMarkers  = []string{"rate limit", "rate_limit", "too many requests", "429"}
	authMarkers  = []string{"invalid api key", "invalid_api_key", "authentication", "unauthorized", "401", "403", "forbidden"}
)

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return hasMarker(msg, quotaMarkers) || hasMarker(msg, rateMarkers) || hasMarker(msg, authMarkers)
}

func wrapFatalError(err error) error {
	if !isFatalAPIError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatalAPI, err)
}

// errorCode maps a provider error to the item error code recorded for it.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.CodeTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case hasMarker(msg, quotaMarkers):
		return models.CodeQuotaExceeded
	case hasMarker(msg, rateMarkers):
		return models.CodeRateLimited
	default:
		return models.CodeProviderRejected
	}
}

// retryable reports whether a failed call is worth one more attempt:
// throttling and transport errors are, exhausted quota and rejected
// credentials are not.
func retryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errorCode(err) == models.CodeRateLimited {
		return true
	}
	return !errors.Is(err, ErrFatalAPI)
}

func hasMarker(msg string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
