package graphrag

import (
	"errors"

	"graphrag/store"
)

var (
	// ErrInvalidInput is returned for empty text, missing ids, or
	// unknown modes. Shared with the store layer so checks work at
	// any depth.
	ErrInvalidInput = store.ErrInvalidInput

	// ErrNotFound is returned when a node, snapshot, or path endpoint
	// does not exist.
	ErrNotFound = store.ErrNotFound

	// ErrDisabled is returned when ENABLE_GRAPHRAG is off.
	ErrDisabled = errors.New("graphrag: service disabled")

	// ErrLocked is returned when an index run cannot take the
	// orchestrator lock.
	ErrLocked = errors.New("graphrag: index run already in progress")

	// ErrUpstreamTransient is returned after retries against an LLM,
	// embedding, or vector upstream are exhausted.
	ErrUpstreamTransient = errors.New("graphrag: upstream temporarily unavailable")

	// ErrStoreFailure is returned when a transaction rolls back.
	ErrStoreFailure = errors.New("graphrag: store operation failed")

	// ErrConfig is returned when required configuration is missing and
	// no fallback exists.
	ErrConfig = errors.New("graphrag: invalid configuration")
)
