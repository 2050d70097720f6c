// Package ingestion turns source files into indexed business documents.
//
// The Pipeline type manages the ingestion workflow for a business:
//   - Extracting text with a docproc.Processor
//   - Extracting entities and linking the business in the relation graph
//   - Registering the document in the metadata store
//   - Chunking the text and upserting the chunks into the index store
//
// Files are processed concurrently using a worker pool. A failing file is
// logged and reported in the joined error; the other files continue.
//
// Rebuild drops a business's collection and re-indexes every active
// document from the copies held in the business's document directory.
package ingestion
