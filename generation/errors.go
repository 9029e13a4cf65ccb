package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gen_backend/imagegen"
	"gen_backend/queue"
)

// Error codes carried by a failed Response.
const (
	CodeValidation     = "validation"
	CodeCancelled      = "cancelled"
	CodeTimeout        = "timeout"
	CodeQueueClosed    = "queue_closed"
	CodeProviderFailed = "provider_failed"
	CodePersistence    = "persistence"
	CodeInternal       = "internal"
)

// ValidationError reports a malformed request. Requests that fail
// validation are never queued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("generation: invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError reports a database write that failed after the image
// was stored. The stored object has been deleted again unless RollbackErr
// says otherwise.
type PersistenceError struct {
	Provider    string
	ImageURL    string
	Err         error
	RollbackErr error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("generation: persist %s result: %v", e.Provider, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// classify maps an error to its response code, the message safe to show
// callers and a retry hint.
func classify(err error) (code, message string, retryAfter time.Duration) {
	var (
		verr    *ValidationError
		terr    *queue.TimeoutError
		perr    *PersistenceError
		provErr *imagegen.ProviderError
		qerr    *queue.QueueError
	)

	switch {
	case errors.As(err, &verr):
		return CodeValidation, fmt.Sprintf("invalid %s: %s", verr.Field, verr.Reason), 0
	case errors.As(err, &terr):
		return CodeTimeout, fmt.Sprintf("generation timed out after %s", terr.Timeout), terr.Timeout
	case errors.Is(err, queue.ErrEnqueueCancelled):
		return CodeCancelled, "request was cancelled before generation started", 0
	case errors.Is(err, queue.ErrCancelled), errors.Is(err, context.Canceled):
		return CodeCancelled, "request was cancelled", 0
	case errors.Is(err, queue.ErrQueueClosed):
		return CodeQueueClosed, "server is shutting down", 30 * time.Second
	case errors.As(err, &perr):
		return CodePersistence, "failed to save generated image", 0
	case errors.Is(err, imagegen.ErrAllProvidersFailed):
		return CodeProviderFailed, "all providers failed to generate an image", 0
	case errors.As(err, &provErr):
		return CodeProviderFailed, fmt.Sprintf("provider %s failed to generate an image", provErr.Provider), 0
	case errors.As(err, &qerr):
		return CodeInternal, "request could not be queued", 0
	default:
		return CodeInternal, "internal error", 0
	}
}

// HTTPStatus maps a response code to an HTTP status.
func HTTPStatus(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case CodeValidation:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeCancelled:
		return 499
	case CodeQueueClosed:
		return http.StatusServiceUnavailable
	case CodeProviderFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
