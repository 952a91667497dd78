package store

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidInput is returned for malformed arguments: empty ids,
	// nodes without a namespace, edges with missing endpoints.
	ErrInvalidInput = errors.New("store: invalid input")
)
