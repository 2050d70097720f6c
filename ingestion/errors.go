package ingestion

import "errors"

var (
	// ErrMetadataRequired is returned when a metadata store is not provided.
	ErrMetadataRequired = errors.New("metadata store required")

	// ErrGraphRequired is returned when a relation graph is not provided.
	ErrGraphRequired = errors.New("relation graph required")

	// ErrIndexStoreRequired is returned when an index store is not provided.
	ErrIndexStoreRequired = errors.New("index store required")

	// ErrProcessorRequired is returned when a document processor is not provided.
	ErrProcessorRequired = errors.New("document processor required")

	// ErrNoActiveDocuments is returned by Rebuild when the business has no
	// active documents left to index. The collection has been dropped.
	ErrNoActiveDocuments = errors.New("no active documents to index")

	// ErrEmptyDocument is returned when a file yields no text.
	ErrEmptyDocument = errors.New("document has no text")

	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")
)
