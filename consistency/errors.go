package consistency

import "errors"

var (
	// ErrMetadataRequired is returned when a metadata store is not provided.
	ErrMetadataRequired = errors.New("metadata store required")

	// ErrIndexStoreRequired is returned when an index store is not provided.
	ErrIndexStoreRequired = errors.New("index store required")

	// ErrRebuilderRequired is returned when a rebuilder is not provided.
	ErrRebuilderRequired = errors.New("rebuilder required")
)
