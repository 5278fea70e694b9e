package storage

import "errors"

var (
	// ErrNotFound indicates that the requested resource was not found.
	// Callers treat it as an empty result, not a fatal condition.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupported indicates that the backend does not provide an optional
	// capability. Callers fall back to their portable path.
	ErrUnsupported = errors.New("operation not supported by this backend")
)
