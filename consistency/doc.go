// Package consistency detects and repairs drift between the document
// files on disk, the metadata store and the index store.
//
// SyncBusiness runs three validations for one business:
//   - file validation: active documents whose file vanished are marked
//     deleted; files nobody registered are counted as extra
//   - fingerprint validation: changed content is flagged for reprocessing
//   - index validation: the collection must exist and hold rows
//
// Any missing file, changed fingerprint or non-OK index triggers a full
// rebuild of the business's collection. Metadata is saved afterwards
// whatever the rebuild outcome. SyncAll sweeps every business in turn.
package consistency
