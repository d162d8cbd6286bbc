// Package apperrors carries the teacher's typed-error + retry-with-backoff
// idiom (src/helpers/error_handler.go), retargeted from scrape/network
// failures to DataSource I/O failures, the only component whose errors
// are allowed to reach a client (spec.md §7).
package apperrors

import (
	"fmt"
	"strings"
	"time"

	"github.com/backtest-replay/server/internal/logger"
)

// ReplayServerError is the base wrapped-error type; typed subclasses
// below let callers type-switch when they need to.
type ReplayServerError struct {
	Message string
	Cause   error
}

func (e *ReplayServerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ReplayServerError) Unwrap() error { return e.Cause }

type ConfigurationError struct{ ReplayServerError }
type DataSourceError struct{ ReplayServerError }
type ValidationError struct{ ReplayServerError }

// -----------------------------------------------------------------------------
// Retry logic
// -----------------------------------------------------------------------------

// RetryWithBackoff runs fn up to maxRetries times with doubling delay,
// returning the last error if every attempt fails.
func RetryWithBackoff(operation string, maxRetries int, baseDelay time.Duration, fn func() (interface{}, error)) (interface{}, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if attempt == maxRetries-1 {
			break
		}
		time.Sleep(baseDelay * (1 << attempt))
	}

	return nil, lastErr
}

// -----------------------------------------------------------------------------
// Error handler
// -----------------------------------------------------------------------------

// Handler wraps failing operations, logs them and classifies them into
// the typed error subclasses above.
type Handler struct {
	Logger     *logger.Logger
	ErrorCount int
}

// NewHandler returns a Handler that logs through log.
func NewHandler(log *logger.Logger) *Handler {
	return &Handler{Logger: log}
}

// ExecuteWithRetry runs fn with retry/backoff, classifying a terminal
// failure by keyword-sniffing the operation name (matching the
// teacher's heuristic).
func (h *Handler) ExecuteWithRetry(operation string, maxRetries int, fn func() (interface{}, error)) (interface{}, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err := fn()
		if err == nil {
			if h.ErrorCount > 0 {
				h.ErrorCount--
			}
			return res, nil
		}

		if attempt == maxRetries-1 {
			h.ErrorCount++
			h.Logger.Error("%s failed (attempt %d/%d): %v", operation, attempt+1, maxRetries, err)

			lower := strings.ToLower(operation)
			if strings.Contains(lower, "datasource") || strings.Contains(lower, "replay") {
				return nil, &DataSourceError{ReplayServerError{Message: operation + " failed", Cause: err}}
			}
			return nil, &ReplayServerError{Message: operation + " failed", Cause: err}
		}

		h.Logger.Warning("%s failed (attempt %d/%d): %v", operation, attempt+1, maxRetries, err)
		time.Sleep(time.Duration(1<<attempt) * time.Second)
	}
	return nil, &ReplayServerError{Message: fmt.Sprintf("%s failed after %d attempts", operation, maxRetries)}
}

// Handle logs err with a caller-supplied context label, matching the
// teacher's fire-and-forget Handle helper.
func (h *Handler) Handle(err error, context string) {
	if err != nil {
		h.Logger.Error("Error in %s: %v", context, err)
	}
}
