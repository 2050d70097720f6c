package reindex

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrRebuilderRequired is returned when no rebuilder is supplied.
	ErrRebuilderRequired = errors.New("rebuilder is required")

	// ErrBusinessesRequired is returned when no business source is supplied.
	ErrBusinessesRequired = errors.New("business source is required")
)
