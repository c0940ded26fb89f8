package domain

import "errors"

// Sentinel errors for mapping to transport codes. Wrap with
// fmt.Errorf("op=...: %w", Err...) so callers can errors.Is them.
var (
	// ErrInvalidArgument indicates client-provided input failed validation.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound indicates a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a uniqueness violation (job_id already stored).
	ErrDuplicate = errors.New("duplicate")
	// ErrNonDocument indicates the classifier rejected the source image.
	ErrNonDocument = errors.New("non-document image")
	// ErrUndecodable indicates the source bytes are not a decodable image.
	ErrUndecodable = errors.New("undecodable image")
	// ErrRecognizerUnavailable indicates the text-detection engine failed to initialize.
	ErrRecognizerUnavailable = errors.New("recognizer unavailable")
	// ErrQueueUnavailable indicates the queue backend is unreachable.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrExhausted indicates a payload exceeded its redelivery budget.
	ErrExhausted = errors.New("retries exhausted")
	// ErrUnauthorized indicates a missing or invalid API key.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTransient indicates a retryable downstream failure.
	ErrTransient = errors.New("transient failure")
	// ErrInternal indicates an unexpected internal error.
	ErrInternal = errors.New("internal error")
)
